// Package provider defines the capability interfaces through which the core
// obtains call arguments and attack payloads. Concrete providers are injected
// by the command layer at construction time; the core never constructs
// serialized payloads itself.
package provider

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// ArgumentProvider turns an operator-supplied argument string into marshaled
// argument byte slices, placed verbatim into the call's object section.
type ArgumentProvider interface {
	ProduceArguments(argString string) ([][]byte, error)
}

// PayloadProvider produces one opaque serialized payload for the given
// operation. The payloadSpec string is provider-defined (a gadget name, a
// file path, a hex blob).
type PayloadProvider interface {
	ProducePayload(operation string, payloadSpec string) ([]byte, error)
}

// Default is the built-in provider: arguments and payloads are hex-encoded
// pre-serialized bytes. Anything richer (gadget generators, plugin-supplied
// object graphs) comes in through the same interfaces from the command layer.
type Default struct{}

func (Default) ProduceArguments(argString string) ([][]byte, error) {
	argString = strings.TrimSpace(argString)
	if argString == "" {
		return nil, nil
	}
	var out [][]byte
	for _, part := range strings.Fields(argString) {
		b, err := hex.DecodeString(strings.TrimPrefix(part, "0x"))
		if err != nil {
			return nil, errors.Wrapf(err, "argument %q is not hex-encoded serialized data", part)
		}
		out = append(out, b)
	}
	return out, nil
}

func (Default) ProducePayload(operation string, payloadSpec string) ([]byte, error) {
	payloadSpec = strings.TrimSpace(payloadSpec)
	if payloadSpec == "" {
		return nil, errors.Errorf("operation %s needs a payload specification", operation)
	}
	b, err := hex.DecodeString(strings.TrimPrefix(payloadSpec, "0x"))
	if err != nil {
		return nil, errors.Wrapf(err, "payload %q is not hex-encoded serialized data", payloadSpec)
	}
	return b, nil
}
