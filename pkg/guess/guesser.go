// Package guess determines which methods a remote object actually exposes.
// Each candidate signature is hashed the way live method dispatch hashes it
// and called with zero-valued arguments; the shape of the answer separates
// "unrecognized method hash" from everything else. Existence is proven by any
// response that is not a no-such-method rejection, including argument and
// permission failures.
package guess

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

// Verdict is the outcome for one candidate signature.
type Verdict string

const (
	VerdictExists       Verdict = "exists"
	VerdictDoesNotExist Verdict = "does-not-exist"
	// VerdictAmbiguous marks candidates whose call never produced a usable
	// answer: unreachable endpoint, timeout, undecodable reply.
	VerdictAmbiguous Verdict = "ambiguous"
)

// Result is the outcome for one wordlist entry.
type Result struct {
	Signature string  `json:"signature"`
	Hash      int64   `json:"hash"`
	Verdict   Verdict `json:"verdict"`
	Detail    string  `json:"detail,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Config is one guessing run against one resolved target object.
type Config struct {
	Endpoint   rmi.Endpoint
	ObjID      rmi.ObjID
	Candidates []Candidate
	Threads    int
	// ReportDuplicates probes hash-colliding candidates individually instead
	// of copying the first verdict per hash.
	ReportDuplicates bool
	Options          rmi.Options
	Log              logrus.FieldLogger
}

const defaultThreads = 5

// Run probes every candidate and returns one result per wordlist entry, in
// wordlist order regardless of completion order. Candidates sharing a method
// hash are probed once; later duplicates inherit the verdict unless
// ReportDuplicates is set.
func Run(ctx context.Context, cfg Config) ([]Result, error) {
	if cfg.Endpoint.Host == "" {
		return nil, rmi.Validationf("guessing needs a target endpoint")
	}
	if len(cfg.Candidates) == 0 {
		return nil, rmi.Validationf("guessing needs at least one candidate signature")
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = defaultThreads
	}
	if threads > len(cfg.Candidates) {
		threads = len(cfg.Candidates)
	}
	log := cfg.Log
	if log == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		log = silent
	}

	results := make([]Result, len(cfg.Candidates))
	firstByHash := map[int64]int{}
	var probe []int
	for i, c := range cfg.Candidates {
		hash := c.Signature.Hash()
		results[i] = Result{Signature: c.Raw, Hash: hash}
		if first, dup := firstByHash[hash]; dup && !cfg.ReportDuplicates {
			results[i].Detail = fmt.Sprintf("hash collision with %q", cfg.Candidates[first].Raw)
			continue
		}
		if _, dup := firstByHash[hash]; !dup {
			firstByHash[hash] = i
		}
		probe = append(probe, i)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				c := cfg.Candidates[idx]
				log.WithFields(logrus.Fields{
					"endpoint":  cfg.Endpoint.Addr(),
					"signature": c.Raw,
				}).Debug("probing candidate")
				probeCandidate(ctx, cfg, c, &results[idx])
			}
		}()
	}

feed:
	for _, idx := range probe {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for i := range results {
		r := &results[i]
		if r.Verdict != "" {
			continue
		}
		if first, ok := firstByHash[r.Hash]; ok && first != i && !cfg.ReportDuplicates {
			r.Verdict = results[first].Verdict
			r.Error = results[first].Error
			continue
		}
		// scheduled but never probed: the run was canceled
		r.Verdict = VerdictAmbiguous
		r.Error = context.Canceled.Error()
	}
	return results, nil
}

// probeCandidate issues one call over its own connection and classifies the
// answer in place.
func probeCandidate(ctx context.Context, cfg Config, c Candidate, out *Result) {
	frame := &rmi.CallFrame{
		ObjID:     cfg.ObjID,
		Operation: rmi.CallForAnyOperation,
		Hash:      c.Signature.Hash(),
		Arguments: c.Signature.ZeroArguments(),
	}

	conn, err := rmi.Connect(ctx, cfg.Endpoint, cfg.Options)
	if err != nil {
		out.Verdict = VerdictAmbiguous
		out.Error = err.Error()
		return
	}
	defer conn.Close()

	ret, err := conn.Call(frame)
	if err != nil {
		out.Verdict = VerdictAmbiguous
		out.Error = err.Error()
		return
	}
	if ret.Kind == rmi.ReturnNormal {
		out.Verdict = VerdictExists
		out.Detail = "call returned normally"
		return
	}
	switch rmi.Classify(ret.Exception) {
	case rmi.ClassNoSuchMethod:
		out.Verdict = VerdictDoesNotExist
	case rmi.ClassNoSuchObject:
		out.Verdict = VerdictAmbiguous
		out.Detail = "no such object on this endpoint"
	default:
		out.Verdict = VerdictExists
		out.Detail = ret.Exception.String()
	}
}

// Exists filters the report down to confirmed methods, preserving order.
func Exists(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Verdict == VerdictExists {
			out = append(out, r)
		}
	}
	return out
}
