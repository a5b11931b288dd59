package ssrf_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/ssrf"
)

func listFrame() []byte {
	frame := &rmi.CallFrame{
		ObjID:     rmi.ComponentRegistry.ObjID(),
		Operation: 1,
		Hash:      rmi.RegistryInterfaceHash,
	}
	return frame.Encode()
}

func TestWrapPlain(t *testing.T) {
	out, err := ssrf.Wrap(listFrame(), ssrf.StylePlain, ssrf.Options{})
	require.NoError(t, err)

	// single-op handshake prefix: JRMI magic, version 2, protocol 0x4c
	assert.True(t, strings.HasPrefix(out, "%4a%52%4d%49%00%02%4c"), out[:24])
	// every byte is percent-encoded, nothing bare
	assert.Equal(t, 0, len(out)%3)

	decoded, err := ssrf.DecodeResponse(out)
	require.NoError(t, err)
	assert.Equal(t, rmi.SingleOpStream(listFrame()), decoded)
}

func TestWrapWithoutHandshake(t *testing.T) {
	out, err := ssrf.Wrap(listFrame(), ssrf.StylePlain, ssrf.Options{NoHandshake: true})
	require.NoError(t, err)

	decoded, err := ssrf.DecodeResponse(out)
	require.NoError(t, err)
	assert.Equal(t, listFrame(), decoded)
}

func TestWrapGopher(t *testing.T) {
	out, err := ssrf.Wrap(listFrame(), ssrf.StyleGopher, ssrf.Options{Host: "10.0.0.8", Port: 1099})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "gopher://10.0.0.8:1099/_%4a%52%4d%49"))

	out, err = ssrf.Wrap(listFrame(), ssrf.StyleGopher, ssrf.Options{Host: "2001:db8::1", Port: 1099})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "gopher://[2001:db8::1]:1099/_"))

	_, err = ssrf.Wrap(listFrame(), ssrf.StyleGopher, ssrf.Options{})
	assert.Error(t, err, "gopher needs the target endpoint")
}

func TestWrapDoubleEncode(t *testing.T) {
	out, err := ssrf.Wrap(listFrame(), ssrf.StylePlain, ssrf.Options{DoubleEncode: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "%254a%2552"))

	decoded, err := ssrf.DecodeResponse(out)
	require.NoError(t, err)
	assert.Equal(t, rmi.SingleOpStream(listFrame()), decoded)
}

func TestWrapEmptyFrame(t *testing.T) {
	_, err := ssrf.Wrap(nil, ssrf.StylePlain, ssrf.Options{})
	assert.Error(t, err)
}

func TestParseStyle(t *testing.T) {
	style, err := ssrf.ParseStyle("")
	require.NoError(t, err)
	assert.Equal(t, ssrf.StylePlain, style)

	style, err = ssrf.ParseStyle("gopher")
	require.NoError(t, err)
	assert.Equal(t, ssrf.StyleGopher, style)

	_, err = ssrf.ParseStyle("smtp")
	assert.Error(t, err)
}

func TestDecodeResponseHex(t *testing.T) {
	raw := rmi.EncodeReturn(rmi.ReturnNormal, rmi.UID{}, nil)

	decoded, err := ssrf.DecodeResponse("0x" + hexEncode(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	_, err = ssrf.DecodeResponse("")
	assert.Error(t, err)
	_, err = ssrf.DecodeResponse("zz")
	assert.Error(t, err)
	_, err = ssrf.DecodeResponse("%4")
	assert.Error(t, err)
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	var sb strings.Builder
	for _, c := range b {
		sb.WriteByte(digits[c>>4])
		sb.WriteByte(digits[c&0x0f])
	}
	return sb.String()
}
