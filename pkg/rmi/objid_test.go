package rmi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjIDEncodeDecode(t *testing.T) {
	id := ObjID{Number: 0x1122334455667788, UID: UID{Unique: -5, Time: 1700000000000, Count: 3}}
	raw := id.Encode()
	require.Len(t, raw, 22)

	decoded, err := DecodeObjID(raw)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}

func TestWellKnownObjIDs(t *testing.T) {
	assert.Equal(t, ObjID{Number: 0}, ComponentRegistry.ObjID())
	assert.Equal(t, ObjID{Number: 1}, ComponentActivator.ObjID())
	assert.Equal(t, ObjID{Number: 2}, ComponentDGC.ObjID())
}

func TestParseObjID(t *testing.T) {
	id, err := ParseObjID("2")
	require.NoError(t, err)
	assert.Equal(t, WellKnownObjID(2), id)

	original := ObjID{Number: 42, UID: UID{Unique: 7, Time: 99, Count: 1}}
	id, err = ParseObjID(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, id)

	id, err = ParseObjID("0x" + original.String())
	require.NoError(t, err)
	assert.Equal(t, original, id)
}

func TestParseObjIDRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "zz", "abcd", "0xdeadbeef"} {
		_, err := ParseObjID(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestDecodeObjIDTooShort(t *testing.T) {
	_, err := DecodeObjID(make([]byte, 10))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestEndpointAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.8:1099", Endpoint{Host: "10.0.0.8", Port: 1099}.Addr())
	assert.Equal(t, "registry.internal:1090", Endpoint{Host: "registry.internal", Port: 1090}.Addr())
	// IPv6 literals need brackets to stay dialable
	assert.Equal(t, "[2001:db8::1]:1099", Endpoint{Host: "2001:db8::1", Port: 1099}.Addr())
	assert.Equal(t, "[::1]:1099", Endpoint{Host: "::1", Port: 1099}.Addr())
}
