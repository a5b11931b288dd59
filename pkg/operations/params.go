package operations

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/guess"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/provider"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/scan"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/ssrf"
)

// Target selects the remote object of a single-target operation. Exactly one
// selector must be set; bound names are resolved through the registry before
// dispatch, identifiers and components are used directly.
type Target struct {
	BoundName string
	ObjID     *rmi.ObjID
	Component *rmi.Component
}

func (t Target) count() int {
	n := 0
	if t.BoundName != "" {
		n++
	}
	if t.ObjID != nil {
		n++
	}
	if t.Component != nil {
		n++
	}
	return n
}

// Params carries everything the command layer resolved for one invocation.
// The dispatcher revalidates; it never parses flags itself.
type Params struct {
	Endpoint rmi.Endpoint
	Target   Target

	// Name is the bound name positional of the registry verbs.
	Name string
	// Signature is a method signature string, or for registry and GC targets
	// one of their fixed method names.
	Signature string
	// ArgString is handed to the argument provider unparsed.
	ArgString string
	// PayloadSpec is handed to the payload provider unparsed.
	PayloadSpec string

	Candidates       []guess.Candidate
	ReportDuplicates bool

	Ports   []int
	Actions []scan.Action
	Threads int

	// SSRF switches call-shaped verbs from sending to rendering: the report
	// carries the wrapped stream instead of a round-trip result.
	SSRF bool
	// Style and Tunnel shape the rendered stream.
	Style  ssrf.Style
	Tunnel ssrf.Options
	// CapturedResponse, when set, is a relay-captured answer to decode
	// instead of performing any network I/O.
	CapturedResponse string

	// ListenAddr is the bind address of the rogue endpoint.
	ListenAddr string

	Options   rmi.Options
	Arguments provider.ArgumentProvider
	Payloads  provider.PayloadProvider
	Log       logrus.FieldLogger
}

// validate enforces the verb's required-input row before any network I/O.
func validate(op Operation, p *Params) error {
	info, ok := opTable[op]
	if !ok {
		return rmi.Validationf("unknown operation %q", op)
	}

	if info.Needs&needEndpoint != 0 && (p.Endpoint.Host == "" || p.Endpoint.Port == 0) {
		return rmi.Validationf("operation %s needs a target host and port", op)
	}
	if info.Needs&needName != 0 && p.Name == "" {
		return rmi.Validationf("operation %s needs a bound name", op)
	}
	if info.Needs&needSignature != 0 && p.Signature == "" {
		return rmi.Validationf("operation %s needs a method signature", op)
	}
	if info.Needs&needPayload != 0 && p.PayloadSpec == "" {
		return rmi.Validationf("operation %s needs a payload specification", op)
	}
	if info.Needs&needTarget != 0 {
		switch p.Target.count() {
		case 0:
			return rmi.Validationf("operation %s needs a target: one of a bound name, an object identifier or a component", op)
		case 1:
		default:
			return rmi.Validationf("bound name, object identifier and component are mutually exclusive")
		}
	}
	if p.Arguments == nil {
		p.Arguments = provider.Default{}
	}
	if p.Payloads == nil {
		p.Payloads = provider.Default{}
	}
	return nil
}

// resolveTarget turns the target descriptor into an endpoint and an object
// identifier. Bound names cost one registry round trip; the resolved
// reference may point at a different endpoint than the registry.
func resolveTarget(ctx context.Context, p *Params) (rmi.Endpoint, rmi.ObjID, error) {
	switch {
	case p.Target.ObjID != nil:
		return p.Endpoint, *p.Target.ObjID, nil
	case p.Target.Component != nil:
		return p.Endpoint, p.Target.Component.ObjID(), nil
	default:
		ref, err := lookupName(ctx, p.Endpoint, p.Options, p.Target.BoundName)
		if err != nil {
			return rmi.Endpoint{}, rmi.ObjID{}, err
		}
		return ref.Endpoint, ref.ObjID, nil
	}
}
