package rmi

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallFrameEncodeLayout(t *testing.T) {
	frame := &CallFrame{
		ObjID:     WellKnownObjID(0),
		Operation: 2,
		Hash:      RegistryInterfaceHash,
		Arguments: []Argument{StringArg("jmxrmi")},
	}
	raw := frame.Encode()

	require.Greater(t, len(raw), 40)
	assert.Equal(t, byte(0x50), raw[0], "call message type")
	assert.Equal(t, uint16(0xACED), binary.BigEndian.Uint16(raw[1:3]))
	assert.Equal(t, uint16(0x0005), binary.BigEndian.Uint16(raw[3:5]))
	assert.Equal(t, byte(0x77), raw[5], "short block data")
	assert.Equal(t, byte(34), raw[6], "objid + operation + hash")

	block := raw[7 : 7+34]
	objID, err := DecodeObjID(block)
	require.NoError(t, err)
	assert.Equal(t, frame.ObjID, objID)
	assert.Equal(t, int32(2), int32(binary.BigEndian.Uint32(block[22:26])))
	assert.Equal(t, RegistryInterfaceHash, int64(binary.BigEndian.Uint64(block[26:34])))

	tail := raw[7+34:]
	assert.Equal(t, byte(0x74), tail[0], "string argument tag")
	assert.Equal(t, "jmxrmi", string(tail[3:]))
}

func TestCallFramePrimitiveArgumentsExtendHeader(t *testing.T) {
	frame := &CallFrame{
		ObjID:     WellKnownObjID(2),
		Operation: CallForAnyOperation,
		Hash:      42,
		Arguments: []Argument{PrimitiveArg([]byte{0xDE, 0xAD}), NullArg()},
	}
	raw := frame.Encode()
	assert.Equal(t, byte(36), raw[6], "primitive bytes extend the block")
	assert.Equal(t, byte(0x70), raw[len(raw)-1], "null argument follows the block")
}

func TestDecodeCallRoundTrip(t *testing.T) {
	frame := &CallFrame{
		ObjID:     ObjID{Number: 7, UID: UID{Unique: 1, Time: 2, Count: 3}},
		Operation: CallForAnyOperation,
		Hash:      -7538657168040752697,
		Arguments: []Argument{StringArg("name")},
	}
	decoded, err := DecodeCall(frame.Encode())
	require.NoError(t, err)
	assert.Equal(t, frame.ObjID, decoded.ObjID)
	assert.Equal(t, frame.Operation, decoded.Operation)
	assert.Equal(t, frame.Hash, decoded.Hash)
	require.Len(t, decoded.Arguments, 1)
	assert.Equal(t, argRaw, decoded.Arguments[0].kind)
}

func TestDecodeReturnNormal(t *testing.T) {
	value := []byte{0x70}
	raw := EncodeReturn(ReturnNormal, UID{Unique: 9, Time: 8, Count: 7}, value)

	ret, err := DecodeReturn(raw)
	require.NoError(t, err)
	assert.Equal(t, ReturnNormal, ret.Kind)
	assert.Equal(t, UID{Unique: 9, Time: 8, Count: 7}, ret.UID)
	assert.Equal(t, value, ret.Value)
	assert.Nil(t, ret.Exception)
}

func TestDecodeReturnException(t *testing.T) {
	raw := EncodeReturn(ReturnException, UID{},
		EncodeException("java.rmi.NotBoundException", "nothing bound under that name"))

	ret, err := DecodeReturn(raw)
	require.NoError(t, err)
	assert.Equal(t, ReturnException, ret.Kind)
	require.NotNil(t, ret.Exception)
	assert.Equal(t, "java.rmi.NotBoundException", ret.Exception.ClassName)
	assert.Equal(t, "nothing bound under that name", ret.Exception.Message)
}

// The default listener answer must carry ServerException's real
// serialVersionUID; a Java client checks it before materializing the
// instance. Unlisted classes keep the zero placeholder.
func TestEncodeExceptionSerialVersionUID(t *testing.T) {
	svuid := []byte{0xbd, 0xb8, 0xc9, 0xfd, 0xc1, 0x27, 0x90, 0x06}

	raw := EncodeException("java.rmi.ServerException", "object not exported")
	name := []byte("java.rmi.ServerException")
	pos := bytes.Index(raw, name)
	require.True(t, pos > 0)
	assert.Equal(t, svuid, raw[pos+len(name):pos+len(name)+8])

	raw = EncodeException("java.rmi.NotBoundException", "nope")
	name = []byte("java.rmi.NotBoundException")
	pos = bytes.Index(raw, name)
	require.True(t, pos > 0)
	assert.Equal(t, make([]byte, 8), raw[pos+len(name):pos+len(name)+8])
}

// Every truncation of a valid reply and assorted garbage must either produce
// a decode error or keep the exception classification intact. Never a panic,
// never a false class name. Truncations inside the detail message may still
// decode; the message scan is a heuristic over trailing field data.
func TestDecodeReturnTotality(t *testing.T) {
	valid := EncodeReturn(ReturnException, UID{}, EncodeException("java.rmi.AccessException", "denied"))
	for cut := 0; cut < len(valid); cut++ {
		ret, err := DecodeReturn(valid[:cut])
		if err != nil {
			continue
		}
		require.Equal(t, ReturnException, ret.Kind, "truncated at %d", cut)
		assert.Equal(t, "java.rmi.AccessException", ret.Exception.ClassName, "truncated at %d", cut)
	}

	garbage := [][]byte{
		nil,
		{0x00},
		{0x51},
		{0x51, 0xAC, 0xED, 0x00, 0x05},
		{0x51, 0xAC, 0xED, 0x00, 0x05, 0x77, 0xFF},
		{0x52, 0xAC, 0xED, 0x00, 0x05},
		bytes.Repeat([]byte{0xFF}, 64),
	}
	for i, b := range garbage {
		_, err := DecodeReturn(b)
		assert.Error(t, err, "garbage case %d", i)
	}
}

func TestDecodeReturnRejectsUnknownCode(t *testing.T) {
	raw := EncodeReturn(ReturnNormal, UID{}, nil)
	// flip the return code inside the block
	raw[7] = 0x05
	_, err := DecodeReturn(raw)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestMarkerObjectParsesAsThrowable(t *testing.T) {
	ex, err := parseThrowable(EncodeMarkerObject("com.example.Probe", "http://marker:8000/"))
	require.NoError(t, err)
	assert.Equal(t, "com.example.Probe", ex.ClassName)

	ex, err = parseThrowable(EncodeMarkerObject("com.example.Plain", ""))
	require.NoError(t, err)
	assert.Equal(t, "com.example.Plain", ex.ClassName)
}

func encodeStringArray(names []string) []byte {
	out := new(bytes.Buffer)
	out.WriteByte(tcArray)
	out.WriteByte(tcClassDesc)
	writeUTF(out, "[Ljava.lang.String;")
	out.Write(make([]byte, 8))
	out.WriteByte(0x02)
	binary.Write(out, binary.BigEndian, uint16(0))
	out.WriteByte(tcEndBlockData)
	out.WriteByte(tcNull)
	binary.Write(out, binary.BigEndian, int32(len(names)))
	for _, name := range names {
		out.WriteByte(tcString)
		writeUTF(out, name)
	}
	return out.Bytes()
}

func TestDecodeStringArray(t *testing.T) {
	names, err := DecodeStringArray(encodeStringArray([]string{"jmxrmi", "app", "backup"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"jmxrmi", "app", "backup"}, names)

	names, err = DecodeStringArray(encodeStringArray(nil))
	require.NoError(t, err)
	assert.Empty(t, names)

	names, err = DecodeStringArray([]byte{tcNull})
	require.NoError(t, err)
	assert.Nil(t, names)

	_, err = DecodeStringArray([]byte{tcString, 0x00})
	assert.Error(t, err)
}

func TestParseRemoteRef(t *testing.T) {
	objID := ObjID{Number: 99, UID: UID{Unique: 1, Time: 2, Count: 3}}

	for _, refType := range []string{"UnicastRef", "UnicastRef2"} {
		value := new(bytes.Buffer)
		value.WriteString("\x73\x7dsome-framing")
		value.WriteString(refType)
		if refType == "UnicastRef2" {
			value.WriteByte(0x00)
		}
		writeUTF(value, "10.0.0.5")
		binary.Write(value, binary.BigEndian, int32(40001))
		value.Write(objID.Encode())

		ref, err := ParseRemoteRef(value.Bytes())
		require.NoError(t, err, refType)
		assert.Equal(t, refType, ref.Type)
		assert.Equal(t, Endpoint{Host: "10.0.0.5", Port: 40001}, ref.Endpoint)
		assert.Equal(t, objID, ref.ObjID)
	}
}

func TestParseRemoteRefMissingMarker(t *testing.T) {
	_, err := ParseRemoteRef([]byte("no reference in here"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
