// Package scan probes endpoints for known weaknesses of the remote invocation
// layer. Each probe is self-contained: it opens its own connection, sends one
// crafted call and classifies the response. Probes register themselves at
// init time; the scanner only knows the table.
package scan

import (
	"context"
	"sort"
	"strings"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

// Action names one registered probe.
type Action string

const (
	ActionFingerprint       Action = "fingerprint"
	ActionJMX               Action = "jmx"
	ActionStringMarshalling Action = "string-marshalling"
	ActionLocalhostBypass   Action = "localhost-bypass"
	ActionFilter            Action = "filter"
	ActionCodebase          Action = "codebase"
	ActionActivator         Action = "activator"
	ActionSSRF              Action = "ssrf"
)

// canonicalOrder fixes the column order of the report, independent of how the
// operator spelled the action list.
var canonicalOrder = []Action{
	ActionFingerprint,
	ActionJMX,
	ActionStringMarshalling,
	ActionLocalhostBypass,
	ActionFilter,
	ActionCodebase,
	ActionActivator,
	ActionSSRF,
}

// Verdict is the outcome of one probe against one port. An errored probe is
// never folded into not-vulnerable; absence of evidence stays visible.
type Verdict string

const (
	VerdictVulnerable    Verdict = "vulnerable"
	VerdictNotVulnerable Verdict = "not-vulnerable"
	VerdictInconclusive  Verdict = "inconclusive"
	VerdictError         Verdict = "error"
)

// Result is one cell of the scan matrix.
type Result struct {
	Host    string  `json:"host"`
	Port    int     `json:"port"`
	Action  Action  `json:"action"`
	Verdict Verdict `json:"verdict"`
	// Detail carries probe-specific evidence: bound names, exception
	// classifications, endpoint hints.
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Probe is one registered scan action. Run owns exactly one connection for
// its lifetime and must return a Result for every outcome, including its own
// failure.
type Probe interface {
	Action() Action
	// Description is the one-line explanation shown by action listings.
	Description() string
	Run(ctx context.Context, ep rmi.Endpoint, opts rmi.Options) Result
}

var probeTable = map[Action]Probe{}

func register(p Probe) {
	if _, dup := probeTable[p.Action()]; dup {
		panic("scan: duplicate probe " + string(p.Action()))
	}
	probeTable[p.Action()] = p
}

// Lookup resolves a registered probe.
func Lookup(a Action) (Probe, bool) {
	p, ok := probeTable[a]
	return p, ok
}

// AllActions lists the registered actions in canonical report order.
func AllActions() []Action {
	out := make([]Action, 0, len(probeTable))
	for _, a := range canonicalOrder {
		if _, ok := probeTable[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ParseActions resolves an operator-supplied action list. The keyword "all"
// selects every registered probe. Order and duplicates of the input do not
// matter; the returned slice follows canonical report order.
func ParseActions(specs []string) ([]Action, error) {
	if len(specs) == 0 {
		return AllActions(), nil
	}
	wanted := map[Action]bool{}
	for _, s := range specs {
		for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
			if field == "" {
				continue
			}
			if strings.EqualFold(field, "all") {
				return AllActions(), nil
			}
			a := Action(strings.ToLower(field))
			if _, ok := probeTable[a]; !ok {
				return nil, rmi.Validationf("unknown scan action %q, known actions are %s", field, knownActionList())
			}
			wanted[a] = true
		}
	}
	out := make([]Action, 0, len(wanted))
	for _, a := range canonicalOrder {
		if wanted[a] {
			out = append(out, a)
		}
	}
	return out, nil
}

func knownActionList() string {
	names := make([]string, 0, len(probeTable))
	for a := range probeTable {
		names = append(names, string(a))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
