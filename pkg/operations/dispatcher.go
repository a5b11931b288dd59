package operations

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/guess"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/scan"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/ssrf"
)

// NamedRef is one resolved registry binding.
type NamedRef struct {
	Name  string         `json:"name"`
	Ref   *rmi.RemoteRef `json:"ref,omitempty"`
	Error string         `json:"error,omitempty"`
}

// CallOutcome is the printable shape of one return frame.
type CallOutcome struct {
	Kind           string `json:"kind"`
	Classification string `json:"classification,omitempty"`
	Detail         string `json:"detail,omitempty"`
	ValueHex       string `json:"value,omitempty"`
}

func outcomeOf(ret *rmi.ReturnFrame) *CallOutcome {
	if ret.Kind == rmi.ReturnNormal {
		out := &CallOutcome{Kind: "normal"}
		if len(ret.Value) > 0 {
			out.ValueHex = hex.EncodeToString(ret.Value)
		}
		return out
	}
	return &CallOutcome{
		Kind:           "exception",
		Classification: rmi.Classify(ret.Exception).String(),
		Detail:         ret.Exception.String(),
	}
}

// Report aggregates everything one invocation produced. Each verb fills the
// fields it owns; the printer decides presentation.
type Report struct {
	Operation Operation `json:"operation"`
	Endpoint  string    `json:"endpoint,omitempty"`

	Names        []string       `json:"names,omitempty"`
	Refs         []NamedRef     `json:"refs,omitempty"`
	Outcome      *CallOutcome   `json:"outcome,omitempty"`
	GuessResults []guess.Result `json:"guess,omitempty"`
	ScanMatrix   *scan.Matrix   `json:"scan,omitempty"`
	ScanResults  []scan.Result  `json:"probes,omitempty"`
	// Stream is the SSRF-rendered call, a URL or percent-encoded byte run.
	Stream   string   `json:"stream,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

func (r *Report) say(format string, args ...interface{}) {
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

// Dispatch validates the invocation against the operation table and executes
// it. Validation failures surface before any network I/O.
func Dispatch(ctx context.Context, op Operation, p *Params) (*Report, error) {
	if err := validate(op, p); err != nil {
		return nil, err
	}
	if p.Log == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		p.Log = silent
	}
	p.Log.WithFields(logrus.Fields{
		"operation": op,
		"endpoint":  p.Endpoint.Addr(),
	}).Debug("dispatching")

	report := &Report{Operation: op, Endpoint: p.Endpoint.Addr()}
	var err error
	switch op {
	case OpBind, OpRebind, OpUnbind:
		err = executeMutation(ctx, op, p, report)
	case OpLookup:
		err = executeLookup(ctx, p, report)
	case OpCall, OpGopher:
		err = executeCall(ctx, op, p, report)
	case OpEnum:
		err = executeEnum(ctx, p, report)
	case OpGuess:
		err = executeGuess(ctx, p, report)
	case OpScan:
		err = executeScan(ctx, p, report)
	case OpListen:
		err = executeListen(ctx, p, report)
	default:
		err = rmi.Validationf("unknown operation %q", op)
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

// deliver sends or renders one frame depending on the invocation mode. A
// captured relay response short-circuits both: it is decoded locally.
func deliver(ctx context.Context, op Operation, p *Params, frame *rmi.CallFrame, report *Report) error {
	if p.CapturedResponse != "" {
		raw, err := ssrf.DecodeResponse(p.CapturedResponse)
		if err != nil {
			return err
		}
		ret, err := rmi.DecodeReturn(raw)
		if err != nil {
			return err
		}
		report.Outcome = outcomeOf(ret)
		report.say("decoded a captured relay response, no network I/O performed")
		return nil
	}

	if p.SSRF || op == OpGopher {
		stream, err := ssrf.Wrap(frame.Encode(), p.Style, p.Tunnel)
		if err != nil {
			return err
		}
		report.Stream = stream
		report.say("call rendered for relay delivery, not sent")
		return nil
	}

	conn, err := rmi.Connect(ctx, p.Endpoint, p.Options)
	if err != nil {
		return err
	}
	defer conn.Close()
	ret, err := conn.Call(frame)
	if err != nil {
		return err
	}
	report.Outcome = outcomeOf(ret)
	return nil
}

func executeMutation(ctx context.Context, op Operation, p *Params, report *Report) error {
	frame, err := registryMutation(op, p)
	if err != nil {
		return err
	}
	return deliver(ctx, op, p, frame, report)
}

func executeLookup(ctx context.Context, p *Params, report *Report) error {
	if p.SSRF {
		frame := registryFrame("lookup", rmi.StringArg(p.Name))
		return deliver(ctx, OpLookup, p, frame, report)
	}
	ref, err := lookupName(ctx, p.Endpoint, p.Options, p.Name)
	if err != nil {
		return err
	}
	report.Refs = []NamedRef{{Name: p.Name, Ref: ref}}
	return nil
}

func executeGuess(ctx context.Context, p *Params, report *Report) error {
	ep, objID, err := resolveTarget(ctx, p)
	if err != nil {
		return err
	}
	candidates := p.Candidates
	if len(candidates) == 0 {
		candidates = guess.DefaultCandidates()
	}
	results, err := guess.Run(ctx, guess.Config{
		Endpoint:         ep,
		ObjID:            objID,
		Candidates:       candidates,
		Threads:          p.Threads,
		ReportDuplicates: p.ReportDuplicates,
		Options:          p.Options,
		Log:              p.Log,
	})
	if err != nil {
		return err
	}
	report.GuessResults = results
	return nil
}

func executeScan(ctx context.Context, p *Params, report *Report) error {
	matrix, err := scan.Run(ctx, scan.Config{
		Host:    p.Endpoint.Host,
		Ports:   p.Ports,
		Actions: p.Actions,
		Threads: p.Threads,
		Options: p.Options,
		Log:     p.Log,
	})
	if err != nil {
		return err
	}
	report.ScanMatrix = matrix
	return nil
}
