package operations

import (
	"context"
	"strings"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

// executeCall performs one method call, chosen either from the fixed method
// table of a well-known component (by keyword, the way `lookup` or `clean`
// select registry and GC methods) or from a parsed signature string hashed
// the way live dispatch hashes it.
func executeCall(ctx context.Context, op Operation, p *Params, report *Report) error {
	ep, objID, err := resolveTarget(ctx, p)
	if err != nil {
		return err
	}
	// calls against a looked-up reference go to the reference's endpoint
	sendParams := *p
	sendParams.Endpoint = ep

	frame, err := buildCallFrame(objID, p)
	if err != nil {
		return err
	}
	return deliver(ctx, op, &sendParams, frame, report)
}

func buildCallFrame(objID rmi.ObjID, p *Params) (*rmi.CallFrame, error) {
	args, err := produceArguments(p)
	if err != nil {
		return nil, err
	}

	if p.Target.Component != nil {
		keyword := strings.TrimSpace(p.Signature)
		if m, ok := p.Target.Component.Method(keyword); ok {
			return &rmi.CallFrame{
				ObjID:     objID,
				Operation: m.Operation,
				Hash:      m.Hash,
				Arguments: args,
			}, nil
		}
		if !strings.Contains(keyword, "(") {
			return nil, rmi.Validationf("component %s has no method %q, known methods are %s",
				p.Target.Component, keyword, strings.Join(p.Target.Component.MethodNames(), ", "))
		}
	}

	sig, err := rmi.ParseSignature(p.Signature)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		args = sig.ZeroArguments()
	}
	return &rmi.CallFrame{
		ObjID:     objID,
		Operation: rmi.CallForAnyOperation,
		Hash:      sig.Hash(),
		Arguments: args,
	}, nil
}

// produceArguments runs the operator's argument string through the injected
// provider. Each produced byte run lands verbatim in the object section.
func produceArguments(p *Params) ([]rmi.Argument, error) {
	if p.ArgString == "" {
		return nil, nil
	}
	raw, err := p.Arguments.ProduceArguments(p.ArgString)
	if err != nil {
		return nil, err
	}
	args := make([]rmi.Argument, 0, len(raw))
	for _, b := range raw {
		args = append(args, rmi.RawArg(b))
	}
	return args, nil
}
