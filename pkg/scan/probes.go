package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

func init() {
	register(fingerprintProbe{})
	register(jmxProbe{})
	register(stringMarshallingProbe{})
	register(localhostBypassProbe{})
	register(filterProbe{})
	register(codebaseProbe{})
	register(activatorProbe{})
	register(ssrfProbe{})
}

// marker class names used by unmarshal probes. The package is deliberately
// implausible so no endpoint resolves it by accident.
const (
	probeClassName   = "de.qtc.beanshooter.probe.NonExistent"
	codebaseCanary   = "http://scan-codebase-marker:8000/"
	improbableName   = "scan-probe-3f7a1c"
	jmxBoundName     = "jmxrmi"
	codebaseDisabled = "no security manager: RMI class loader disabled"
)

func cell(ep rmi.Endpoint, a Action, v Verdict, detail string) Result {
	return Result{Host: ep.Host, Port: ep.Port, Action: a, Verdict: v, Detail: detail}
}

func errored(ep rmi.Endpoint, a Action, err error) Result {
	return Result{Host: ep.Host, Port: ep.Port, Action: a, Verdict: VerdictError, Error: err.Error()}
}

// callOnce opens one connection, performs one call and closes. All probes that
// need a stream-mode round trip go through here.
func callOnce(ctx context.Context, ep rmi.Endpoint, opts rmi.Options, frame *rmi.CallFrame) (*rmi.ReturnFrame, error) {
	conn, err := rmi.Connect(ctx, ep, opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.Call(frame)
}

func registryCall(method string, args ...rmi.Argument) *rmi.CallFrame {
	m, _ := rmi.ComponentRegistry.Method(method)
	return &rmi.CallFrame{
		ObjID:     rmi.ComponentRegistry.ObjID(),
		Operation: m.Operation,
		Hash:      m.Hash,
		Arguments: args,
	}
}

func exceptionDetail(ex *rmi.RemoteException) string {
	return fmt.Sprintf("%s (%s)", rmi.Classify(ex), ex)
}

// fingerprintProbe checks whether the port speaks the wire protocol at all.
// Its positive verdict means detection, not a weakness; the other probes of a
// port are skipped when it fails.
type fingerprintProbe struct{}

func (fingerprintProbe) Action() Action { return ActionFingerprint }
func (fingerprintProbe) Description() string {
	return "detect whether the port speaks the wire protocol"
}

func (p fingerprintProbe) Run(ctx context.Context, ep rmi.Endpoint, opts rmi.Options) Result {
	conn, err := rmi.Connect(ctx, ep, opts)
	if err != nil {
		if errors.Is(err, rmi.ErrProtocolMismatch) {
			return cell(ep, p.Action(), VerdictNotVulnerable, "reachable but does not speak the protocol")
		}
		return errored(ep, p.Action(), err)
	}
	defer conn.Close()
	host, port := conn.SuggestedEndpoint()
	detail := "speaks the wire protocol"
	if host != "" {
		detail += fmt.Sprintf(", suggested client endpoint %s:%d", host, port)
	}
	return cell(ep, p.Action(), VerdictVulnerable, detail)
}

// jmxProbe lists the registry and looks for the well-known JMX bound name.
type jmxProbe struct{}

func (jmxProbe) Action() Action { return ActionJMX }
func (jmxProbe) Description() string {
	return "check the registry for a bound JMX connector"
}

func (p jmxProbe) Run(ctx context.Context, ep rmi.Endpoint, opts rmi.Options) Result {
	ret, err := callOnce(ctx, ep, opts, registryCall("list"))
	if err != nil {
		return errored(ep, p.Action(), err)
	}
	if ret.Kind == rmi.ReturnException {
		return cell(ep, p.Action(), VerdictInconclusive, exceptionDetail(ret.Exception))
	}
	names, err := rmi.DecodeStringArray(ret.Value)
	if err != nil {
		return errored(ep, p.Action(), err)
	}
	for _, name := range names {
		if name == jmxBoundName {
			return cell(ep, p.Action(), VerdictVulnerable,
				fmt.Sprintf("%s bound (%d names total)", jmxBoundName, len(names)))
		}
	}
	return cell(ep, p.Action(), VerdictNotVulnerable,
		fmt.Sprintf("no JMX connector among %d bound names", len(names)))
}

// stringMarshallingProbe determines whether the registry unmarshals string
// parameters via readObject. It sends a lookup whose argument is an object of
// a class that cannot exist: readObject fails resolving the class, readString
// rejects the tag before any resolution happens.
type stringMarshallingProbe struct{}

func (stringMarshallingProbe) Action() Action { return ActionStringMarshalling }
func (stringMarshallingProbe) Description() string {
	return "detect registries that unmarshal string parameters via readObject"
}

func (p stringMarshallingProbe) Run(ctx context.Context, ep rmi.Endpoint, opts rmi.Options) Result {
	frame := registryCall("lookup", rmi.RawArg(rmi.EncodeMarkerObject(probeClassName, "")))
	ret, err := callOnce(ctx, ep, opts, frame)
	if err != nil {
		return errored(ep, p.Action(), err)
	}
	if ret.Kind != rmi.ReturnException {
		return cell(ep, p.Action(), VerdictInconclusive, "lookup of a non-string argument returned normally")
	}
	switch rmi.Classify(ret.Exception) {
	case rmi.ClassNotFound, rmi.ClassCastMismatch:
		return cell(ep, p.Action(), VerdictVulnerable,
			"registry reads arguments via readObject, arbitrary objects reach deserialization")
	case rmi.ClassMarshal:
		return cell(ep, p.Action(), VerdictNotVulnerable, "registry enforces readString for string parameters")
	default:
		return cell(ep, p.Action(), VerdictInconclusive, exceptionDetail(ret.Exception))
	}
}

// localhostBypassProbe sends an unbind for a name that cannot be bound. The
// interesting signal is whether the mutation passed the source address check
// at all; a NotBound answer means it did.
type localhostBypassProbe struct{}

func (localhostBypassProbe) Action() Action { return ActionLocalhostBypass }
func (localhostBypassProbe) Description() string {
	return "check whether registry mutations are accepted from non-local hosts"
}

func (p localhostBypassProbe) Run(ctx context.Context, ep rmi.Endpoint, opts rmi.Options) Result {
	frame := registryCall("unbind", rmi.StringArg(improbableName))
	ret, err := callOnce(ctx, ep, opts, frame)
	if err != nil {
		return errored(ep, p.Action(), err)
	}
	if ret.Kind != rmi.ReturnException {
		return cell(ep, p.Action(), VerdictVulnerable,
			fmt.Sprintf("unbind of %q returned normally; the name was actually bound", improbableName))
	}
	switch rmi.Classify(ret.Exception) {
	case rmi.ClassNotBound:
		return cell(ep, p.Action(), VerdictVulnerable,
			"mutation passed the source check from a non-local host (CVE-2019-2684)")
	case rmi.ClassAccessDenied:
		return cell(ep, p.Action(), VerdictNotVulnerable, "registry restricts mutations to local callers")
	default:
		return cell(ep, p.Action(), VerdictInconclusive, exceptionDetail(ret.Exception))
	}
}

// filterProbe sends a distributed GC clean call whose first argument is an
// instance of a class outside the GC filter whitelist. A filter rejects it
// before resolution; without one the class resolves and unmarshaling fails
// later on the bogus stream data.
type filterProbe struct{}

func (filterProbe) Action() Action { return ActionFilter }
func (filterProbe) Description() string {
	return "check the distributed GC for a deserialization filter"
}

func (p filterProbe) Run(ctx context.Context, ep rmi.Endpoint, opts rmi.Options) Result {
	m, _ := rmi.ComponentDGC.Method("clean")
	frame := &rmi.CallFrame{
		ObjID:     rmi.ComponentDGC.ObjID(),
		Operation: m.Operation,
		Hash:      m.Hash,
		Arguments: []rmi.Argument{rmi.RawArg(rmi.EncodeMarkerObject("java.util.HashMap", ""))},
	}
	ret, err := callOnce(ctx, ep, opts, frame)
	if err != nil {
		return errored(ep, p.Action(), err)
	}
	if ret.Kind != rmi.ReturnException {
		return cell(ep, p.Action(), VerdictInconclusive, "clean call with a bogus argument returned normally")
	}
	switch rmi.Classify(ret.Exception) {
	case rmi.ClassFilterRejected:
		return cell(ep, p.Action(), VerdictNotVulnerable, "deserialization filter active on the distributed GC")
	case rmi.ClassMarshal, rmi.ClassNotFound, rmi.ClassCastMismatch:
		return cell(ep, p.Action(), VerdictVulnerable,
			"no deserialization filter, arbitrary classes reach resolution")
	case rmi.ClassNoSuchObject:
		return cell(ep, p.Action(), VerdictInconclusive, "no distributed GC exported on this port")
	default:
		return cell(ep, p.Action(), VerdictInconclusive, exceptionDetail(ret.Exception))
	}
}

// codebaseProbe advertises an attacker codebase on an unresolvable class and
// inspects how far the endpoint got with it.
type codebaseProbe struct{}

func (codebaseProbe) Action() Action { return ActionCodebase }
func (codebaseProbe) Description() string {
	return "check whether the endpoint honors client-supplied codebases"
}

func (p codebaseProbe) Run(ctx context.Context, ep rmi.Endpoint, opts rmi.Options) Result {
	frame := registryCall("lookup", rmi.RawArg(rmi.EncodeMarkerObject(probeClassName, codebaseCanary)))
	ret, err := callOnce(ctx, ep, opts, frame)
	if err != nil {
		return errored(ep, p.Action(), err)
	}
	if ret.Kind != rmi.ReturnException {
		return cell(ep, p.Action(), VerdictInconclusive, "lookup with a codebase annotation returned normally")
	}
	ex := ret.Exception
	switch {
	case strings.Contains(ex.Message, codebaseDisabled):
		return cell(ep, p.Action(), VerdictNotVulnerable, "remote class loading disabled on the endpoint")
	case strings.Contains(ex.Message, "scan-codebase-marker"):
		return cell(ep, p.Action(), VerdictVulnerable,
			"endpoint attempted to load classes from the advertised codebase")
	case rmi.Classify(ex) == rmi.ClassNotFound:
		return cell(ep, p.Action(), VerdictInconclusive,
			"class resolution failed locally, the advertised codebase was ignored")
	default:
		return cell(ep, p.Action(), VerdictInconclusive, exceptionDetail(ex))
	}
}

// activatorProbe calls the well-known activator object. Almost no deployment
// runs one; a present activator accepts unfiltered deserialization.
type activatorProbe struct{}

func (activatorProbe) Action() Action { return ActionActivator }
func (activatorProbe) Description() string {
	return "check for an activation system endpoint"
}

func (p activatorProbe) Run(ctx context.Context, ep rmi.Endpoint, opts rmi.Options) Result {
	m, _ := rmi.ComponentActivator.Method("activate")
	frame := &rmi.CallFrame{
		ObjID:     rmi.ComponentActivator.ObjID(),
		Operation: m.Operation,
		Hash:      m.Hash,
		Arguments: []rmi.Argument{rmi.NullArg(), rmi.PrimitiveArg([]byte{0x00})},
	}
	ret, err := callOnce(ctx, ep, opts, frame)
	if err != nil {
		return errored(ep, p.Action(), err)
	}
	if ret.Kind != rmi.ReturnException {
		return cell(ep, p.Action(), VerdictVulnerable, "activator answered an activate call")
	}
	if rmi.Classify(ret.Exception) == rmi.ClassNoSuchObject {
		return cell(ep, p.Action(), VerdictNotVulnerable, "no activator is exported on this port")
	}
	return cell(ep, p.Action(), VerdictVulnerable,
		fmt.Sprintf("an activator is present: %s", exceptionDetail(ret.Exception)))
}

// ssrfProbe checks whether the port accepts the single-op protocol mode, the
// only mode deliverable through a byte-faithful relay in one write.
type ssrfProbe struct{}

func (ssrfProbe) Action() Action { return ActionSSRF }
func (ssrfProbe) Description() string {
	return "check whether single-op streams are accepted (relay deliverability)"
}

func (p ssrfProbe) Run(ctx context.Context, ep rmi.Endpoint, opts rmi.Options) Result {
	stream := rmi.SingleOpStream(registryCall("list").Encode())
	reply, err := rmi.RawExchange(ctx, ep, opts, stream)
	if err != nil {
		switch {
		case rmi.IsConnectError(err):
			return errored(ep, p.Action(), err)
		case errors.Is(err, rmi.ErrReadTimeout):
			return cell(ep, p.Action(), VerdictInconclusive, "single-op stream sent, no answer before the timeout")
		default:
			return cell(ep, p.Action(), VerdictNotVulnerable, "endpoint dropped the single-op stream")
		}
	}
	if _, err := rmi.DecodeReturn(reply); err != nil {
		return cell(ep, p.Action(), VerdictNotVulnerable, "endpoint answered the single-op stream with garbage")
	}
	return cell(ep, p.Action(), VerdictVulnerable,
		"accepts single-op streams, reachable through byte-faithful relays")
}
