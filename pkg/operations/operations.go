// Package operations dispatches one validated invocation against one target.
// Every verb is a row of a declarative table naming its required inputs;
// validation consults the table and fails before any socket is opened.
package operations

import (
	"sort"
	"strings"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

// Operation is one supported verb.
type Operation string

const (
	OpBind   Operation = "bind"
	OpRebind Operation = "rebind"
	OpUnbind Operation = "unbind"
	OpLookup Operation = "lookup"
	OpCall   Operation = "call"
	OpEnum   Operation = "enum"
	OpGuess  Operation = "guess"
	OpScan   Operation = "scan"
	OpListen Operation = "listen"
	OpGopher Operation = "gopher"
)

// need flags one required input of a verb.
type need int

const (
	needName      need = 1 << iota // a bound name positional
	needTarget                     // exactly one of bound name, object identifier, component
	needSignature                  // a method signature or a fixed-table keyword
	needPayload                    // a provider-supplied serialized payload
	needEndpoint                   // a reachable host and port
)

type opInfo struct {
	// MinArgs is the number of positional arguments after host and port.
	MinArgs     int
	Needs       need
	Description string
}

// opTable drives validation. Spelled as data so adding a verb never touches
// the dispatch logic.
var opTable = map[Operation]opInfo{
	OpBind:   {MinArgs: 1, Needs: needEndpoint | needName | needPayload, Description: "bind a provider-supplied remote object to a registry name"},
	OpRebind: {MinArgs: 1, Needs: needEndpoint | needName | needPayload, Description: "rebind a registry name, replacing an existing binding"},
	OpUnbind: {MinArgs: 1, Needs: needEndpoint | needName, Description: "remove a registry binding"},
	OpLookup: {MinArgs: 1, Needs: needEndpoint | needName, Description: "resolve a bound name to its remote reference"},
	OpCall:   {MinArgs: 0, Needs: needEndpoint | needTarget | needSignature, Description: "call one method on a remote object"},
	OpEnum:   {MinArgs: 0, Needs: needEndpoint, Description: "enumerate bound names, remote references and endpoint weaknesses"},
	OpGuess:  {MinArgs: 0, Needs: needEndpoint | needTarget, Description: "guess exposed methods from a signature wordlist"},
	OpScan:   {MinArgs: 0, Needs: 0, Description: "probe ports for known protocol-level weaknesses"},
	OpListen: {MinArgs: 0, Needs: 0, Description: "run a rogue endpoint answering inbound calls with a canned payload"},
	OpGopher: {MinArgs: 0, Needs: needEndpoint | needTarget | needSignature, Description: "render a call as an SSRF-deliverable byte stream"},
}

// ParseOperation resolves an operator-supplied verb.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := opTable[op]; !ok {
		return "", rmi.Validationf("unknown operation %q, supported operations are %s", s, OperationList())
	}
	return op, nil
}

// Describe returns the one-line description of a verb.
func Describe(op Operation) string {
	return opTable[op].Description
}

// MinArgs returns the verb's minimum positional argument count after host
// and port.
func MinArgs(op Operation) int {
	return opTable[op].MinArgs
}

// OperationList names all verbs, sorted, for error messages and help output.
func OperationList() string {
	names := make([]string, 0, len(opTable))
	for op := range opTable {
		names = append(names, string(op))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
