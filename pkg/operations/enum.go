package operations

import (
	"context"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/scan"
)

// enumProbes are the single-port probes enumeration runs after listing the
// registry, in this order.
var enumProbes = []scan.Action{
	scan.ActionStringMarshalling,
	scan.ActionLocalhostBypass,
	scan.ActionFilter,
	scan.ActionCodebase,
	scan.ActionActivator,
}

// executeEnum walks one endpoint: handshake, bound names, remote references,
// then the weakness probes. Individual failures are recorded per step; only
// an unreachable endpoint aborts the sequence.
func executeEnum(ctx context.Context, p *Params, report *Report) error {
	conn, err := rmi.Connect(ctx, p.Endpoint, p.Options)
	if err != nil {
		return err
	}
	if host, port := conn.SuggestedEndpoint(); host != "" && host != p.Endpoint.Host {
		report.say("endpoint suggests client endpoint %s:%d, possibly multihomed", host, port)
	}
	conn.Close()

	names, err := listNames(ctx, p.Endpoint, p.Options)
	if err != nil {
		if rmi.IsConnectError(err) {
			return err
		}
		report.say("listing bound names failed: %v", err)
	}
	report.Names = names

	for _, name := range names {
		ref, err := lookupName(ctx, p.Endpoint, p.Options, name)
		if err != nil {
			if rmi.IsConnectError(err) {
				return err
			}
			report.Refs = append(report.Refs, NamedRef{Name: name, Error: err.Error()})
			continue
		}
		report.Refs = append(report.Refs, NamedRef{Name: name, Ref: ref})
	}

	for _, action := range enumProbes {
		probe, ok := scan.Lookup(action)
		if !ok {
			continue
		}
		report.ScanResults = append(report.ScanResults, probe.Run(ctx, p.Endpoint, p.Options))
		if ctx.Err() != nil {
			break
		}
	}
	return nil
}
