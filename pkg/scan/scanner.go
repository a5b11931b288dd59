package scan

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

// DefaultPorts are registry and management ports commonly carrying the
// protocol, used when the operator gives no port list.
var DefaultPorts = []int{
	1090, 1098, 1099, 1199, 4443, 4444,
	8686, 9010, 9999, 10098, 10099, 11099, 47001,
}

const defaultThreads = 5

// Config is one scan run: one host, a port list and an action list. The
// zero values of Actions, Threads and Log get sensible defaults; Options is
// handed to every connection unchanged.
type Config struct {
	Host    string
	Ports   []int
	Actions []Action
	Threads int
	Options rmi.Options
	Log     logrus.FieldLogger
}

// Row is the scan outcome of one port, one cell per requested action.
type Row struct {
	Port  int      `json:"port"`
	Cells []Result `json:"results"`
}

// Matrix is the complete scan report. Rows follow the configured port order
// and cells the canonical action order, regardless of completion order.
type Matrix struct {
	Host    string   `json:"host"`
	Actions []Action `json:"actions"`
	Rows    []Row    `json:"rows"`
}

// Flatten returns all cells in report order, for line-oriented output.
func (m *Matrix) Flatten() []Result {
	out := make([]Result, 0, len(m.Rows)*len(m.Actions))
	for _, row := range m.Rows {
		out = append(out, row.Cells...)
	}
	return out
}

// Run executes the configured probes against every port. One port is one
// unit of work; a bounded worker pool processes ports concurrently while each
// worker runs its port's probes sequentially, fingerprint first. Ports left
// unvisited after a context cancellation report as errored, never as
// not-vulnerable.
func Run(ctx context.Context, cfg Config) (*Matrix, error) {
	if cfg.Host == "" {
		return nil, rmi.Validationf("scan needs a target host")
	}
	if len(cfg.Ports) == 0 {
		cfg.Ports = DefaultPorts
	}
	if len(cfg.Actions) == 0 {
		cfg.Actions = AllActions()
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = defaultThreads
	}
	if threads > len(cfg.Ports) {
		threads = len(cfg.Ports)
	}
	log := cfg.Log
	if log == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		log = silent
	}

	matrix := &Matrix{
		Host:    cfg.Host,
		Actions: cfg.Actions,
		Rows:    make([]Row, len(cfg.Ports)),
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				port := cfg.Ports[idx]
				log.WithFields(logrus.Fields{"host": cfg.Host, "port": port}).Debug("scanning port")
				matrix.Rows[idx] = scanPort(ctx, rmi.Endpoint{Host: cfg.Host, Port: port}, cfg.Actions, cfg.Options)
			}
		}()
	}

feed:
	for i := range cfg.Ports {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for i, row := range matrix.Rows {
		if row.Cells == nil {
			matrix.Rows[i] = canceledRow(rmi.Endpoint{Host: cfg.Host, Port: cfg.Ports[i]}, cfg.Actions)
		}
	}
	return matrix, nil
}

// scanPort runs the requested actions against one port over one connection
// per probe. Fingerprint always runs first; when the port is unreachable or
// not speaking the protocol, the remaining cells degrade instead of probing a
// dead port seven more times.
func scanPort(ctx context.Context, ep rmi.Endpoint, actions []Action, opts rmi.Options) Row {
	row := Row{Port: ep.Port, Cells: make([]Result, len(actions))}

	fp := probeTable[ActionFingerprint].Run(ctx, ep, opts)
	speaks := fp.Verdict == VerdictVulnerable

	for i, a := range actions {
		switch {
		case a == ActionFingerprint:
			row.Cells[i] = fp
		case fp.Verdict == VerdictError:
			row.Cells[i] = Result{
				Host: ep.Host, Port: ep.Port, Action: a,
				Verdict: VerdictError, Error: "port unreachable: " + fp.Error,
			}
		case !speaks:
			row.Cells[i] = cell(ep, a, VerdictInconclusive, "port does not speak the protocol")
		case ctx.Err() != nil:
			row.Cells[i] = errored(ep, a, ctx.Err())
		default:
			row.Cells[i] = probeTable[a].Run(ctx, ep, opts)
		}
	}
	return row
}

func canceledRow(ep rmi.Endpoint, actions []Action) Row {
	row := Row{Port: ep.Port, Cells: make([]Result, len(actions))}
	for i, a := range actions {
		row.Cells[i] = errored(ep, a, context.Canceled)
	}
	return row
}

// ParsePorts expands operator port specifications: single ports, inclusive
// ranges like 1090-1099 and comma separated mixes of both. Duplicates keep
// their first position; the result preserves specification order.
func ParsePorts(specs []string) ([]int, error) {
	var out []int
	seen := map[int]bool{}
	add := func(p int) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, spec := range specs {
		for _, part := range strings.Split(spec, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if lo, hi, ok := strings.Cut(part, "-"); ok {
				start, err1 := strconv.Atoi(strings.TrimSpace(lo))
				end, err2 := strconv.Atoi(strings.TrimSpace(hi))
				if err1 != nil || err2 != nil {
					return nil, rmi.Validationf("port range %q is not numeric", part)
				}
				if start > end || start < 1 || end > 65535 {
					return nil, rmi.Validationf("port range %q is out of order or out of bounds", part)
				}
				for p := start; p <= end; p++ {
					add(p)
				}
				continue
			}
			p, err := strconv.Atoi(part)
			if err != nil {
				return nil, rmi.Validationf("port %q is not numeric", part)
			}
			if p < 1 || p > 65535 {
				return nil, rmi.Validationf("port %d is out of bounds", p)
			}
			add(p)
		}
	}
	return out, nil
}
