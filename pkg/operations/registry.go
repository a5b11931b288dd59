package operations

import (
	"context"

	"github.com/pkg/errors"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

func registryFrame(method string, args ...rmi.Argument) *rmi.CallFrame {
	m, _ := rmi.ComponentRegistry.Method(method)
	return &rmi.CallFrame{
		ObjID:     rmi.ComponentRegistry.ObjID(),
		Operation: m.Operation,
		Hash:      m.Hash,
		Arguments: args,
	}
}

// lookupName resolves a bound name to its remote reference. The reference may
// point at a different endpoint than the registry itself.
func lookupName(ctx context.Context, ep rmi.Endpoint, opts rmi.Options, name string) (*rmi.RemoteRef, error) {
	conn, err := rmi.Connect(ctx, ep, opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ret, err := conn.Call(registryFrame("lookup", rmi.StringArg(name)))
	if err != nil {
		return nil, err
	}
	if ret.Kind == rmi.ReturnException {
		return nil, errors.Errorf("registry refused lookup of %q: %s", name, ret.Exception)
	}
	ref, err := rmi.ParseRemoteRef(ret.Value)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding reference of %q", name)
	}
	return ref, nil
}

// listNames returns the registry's bound names.
func listNames(ctx context.Context, ep rmi.Endpoint, opts rmi.Options) ([]string, error) {
	conn, err := rmi.Connect(ctx, ep, opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ret, err := conn.Call(registryFrame("list"))
	if err != nil {
		return nil, err
	}
	if ret.Kind == rmi.ReturnException {
		return nil, errors.Errorf("registry refused list: %s", ret.Exception)
	}
	return rmi.DecodeStringArray(ret.Value)
}

// registryMutation builds the frame of one of the name-mutating verbs. The
// bound object of bind and rebind comes from the payload provider verbatim;
// building serialized remote objects is never this package's concern.
func registryMutation(op Operation, p *Params) (*rmi.CallFrame, error) {
	switch op {
	case OpUnbind:
		return registryFrame("unbind", rmi.StringArg(p.Name)), nil
	case OpBind, OpRebind:
		payload, err := p.Payloads.ProducePayload(string(op), p.PayloadSpec)
		if err != nil {
			return nil, err
		}
		return registryFrame(string(op), rmi.StringArg(p.Name), rmi.RawArg(payload)), nil
	default:
		return nil, rmi.Validationf("operation %s is not a registry mutation", op)
	}
}
