package rmi

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode"

	"github.com/pkg/errors"
)

// JRMP message and reply types.
const (
	msgCall    byte = 0x50
	msgReturn  byte = 0x51
	msgPing    byte = 0x52
	msgPingAck byte = 0x53
	msgDgcAck  byte = 0x54
)

// Exported message identifiers, for server-side dispatch.
const (
	MsgCall    = msgCall
	MsgPing    = msgPing
	MsgPingAck = msgPingAck
	MsgDgcAck  = msgDgcAck
)

// Serialization stream constants.
const (
	streamMagic   uint16 = 0xACED
	streamVersion uint16 = 0x0005

	tcNull           byte = 0x70
	tcReference      byte = 0x71
	tcClassDesc      byte = 0x72
	tcObject         byte = 0x73
	tcString         byte = 0x74
	tcArray          byte = 0x75
	tcClass          byte = 0x76
	tcBlockData      byte = 0x77
	tcEndBlockData   byte = 0x78
	tcReset          byte = 0x79
	tcBlockDataLong  byte = 0x7A
	tcException      byte = 0x7B
	tcLongString     byte = 0x7C
	tcProxyClassDesc byte = 0x7D
	tcEnum           byte = 0x7E
)

// Return codes inside a ReturnData body.
const (
	returnCodeNormal    byte = 0x01
	returnCodeException byte = 0x02
)

type argumentKind int

const (
	argString argumentKind = iota
	argNull
	argRaw
	argPrimitive
)

// Argument is one marshaled call argument. String and null arguments are
// encoded by the codec; raw arguments are opaque caller-supplied bytes placed
// verbatim after the call header; primitive arguments extend the header block.
type Argument struct {
	kind argumentKind
	str  string
	data []byte
}

func StringArg(s string) Argument {
	return Argument{kind: argString, str: s}
}

func NullArg() Argument {
	return Argument{kind: argNull}
}

// RawArg appends b verbatim to the object section of the call. This is the
// delivery path for externally generated payloads.
func RawArg(b []byte) Argument {
	return Argument{kind: argRaw, data: b}
}

// PrimitiveArg appends b to the call header block, the way primitive
// parameters are marshaled.
func PrimitiveArg(b []byte) Argument {
	return Argument{kind: argPrimitive, data: b}
}

// CallFrame is one call to one remote object. Legacy components carry a
// method index in Operation and their interface hash in Hash; everything else
// uses Operation -1 and the method hash.
type CallFrame struct {
	ObjID     ObjID
	Operation int32
	Hash      int64
	Arguments []Argument
}

// Encode renders the complete call message, bit-exact with the live wire
// format: message type, stream magic and version, a block holding object
// identifier, operation and hash plus primitive arguments, then the object
// arguments.
func (f *CallFrame) Encode() []byte {
	header := new(bytes.Buffer)
	header.Write(f.ObjID.Encode())
	binary.Write(header, binary.BigEndian, f.Operation)
	binary.Write(header, binary.BigEndian, f.Hash)
	for _, a := range f.Arguments {
		if a.kind == argPrimitive {
			header.Write(a.data)
		}
	}

	out := new(bytes.Buffer)
	out.WriteByte(msgCall)
	binary.Write(out, binary.BigEndian, streamMagic)
	binary.Write(out, binary.BigEndian, streamVersion)
	writeBlock(out, header.Bytes())
	for _, a := range f.Arguments {
		switch a.kind {
		case argString:
			out.WriteByte(tcString)
			writeUTF(out, a.str)
		case argNull:
			out.WriteByte(tcNull)
		case argRaw:
			out.Write(a.data)
		}
	}
	return out.Bytes()
}

// DecodeCall parses an inbound call message. Primitive and object argument
// bytes are preserved raw; callers classify on the header fields.
func DecodeCall(b []byte) (*CallFrame, error) {
	r := bytes.NewReader(b)
	if err := expectHeader(r, msgCall); err != nil {
		return nil, err
	}
	block, err := readBlock(r)
	if err != nil {
		return nil, err
	}
	if len(block) < objIDLength+12 {
		return nil, errors.Wrapf(ErrMalformedFrame, "call header block is %d bytes", len(block))
	}
	objID, err := DecodeObjID(block)
	if err != nil {
		return nil, err
	}
	frame := &CallFrame{ObjID: objID}
	hr := bytes.NewReader(block[objIDLength:])
	binary.Read(hr, binary.BigEndian, &frame.Operation)
	binary.Read(hr, binary.BigEndian, &frame.Hash)
	if extra := block[objIDLength+12:]; len(extra) > 0 {
		frame.Arguments = append(frame.Arguments, PrimitiveArg(extra))
	}
	if rest := remaining(b, r); len(rest) > 0 {
		frame.Arguments = append(frame.Arguments, RawArg(rest))
	}
	return frame, nil
}

// ReturnKind tags a decoded return frame.
type ReturnKind int

const (
	ReturnNormal ReturnKind = iota
	ReturnException
)

// RemoteException is a decoded, named exception from the endpoint. It is data
// for probe and guess classification, not an error of this tool.
type RemoteException struct {
	ClassName string
	Message   string
	// Classes is the serialized class hierarchy, most derived first.
	Classes []string
}

func (e *RemoteException) String() string {
	if e.Message == "" {
		return e.ClassName
	}
	return e.ClassName + ": " + e.Message
}

// ReturnFrame is one decoded ReturnData body.
type ReturnFrame struct {
	Kind      ReturnKind
	UID       UID
	Primitive []byte
	Value     []byte
	Exception *RemoteException
}

// DecodeReturn classifies a raw reply into a normal return, a remote
// exception, or ErrMalformedFrame. It never panics on hostile input.
func DecodeReturn(b []byte) (*ReturnFrame, error) {
	r := bytes.NewReader(b)
	if err := expectHeader(r, msgReturn); err != nil {
		return nil, err
	}
	block, err := readBlock(r)
	if err != nil {
		return nil, err
	}
	if len(block) < 15 {
		return nil, errors.Wrapf(ErrMalformedFrame, "return header block is %d bytes", len(block))
	}
	code := block[0]
	frame := &ReturnFrame{Primitive: block[15:], Value: remaining(b, r)}
	ur := bytes.NewReader(block[1:15])
	binary.Read(ur, binary.BigEndian, &frame.UID.Unique)
	binary.Read(ur, binary.BigEndian, &frame.UID.Time)
	binary.Read(ur, binary.BigEndian, &frame.UID.Count)

	switch code {
	case returnCodeNormal:
		frame.Kind = ReturnNormal
	case returnCodeException:
		frame.Kind = ReturnException
		ex, err := parseThrowable(frame.Value)
		if err != nil {
			return nil, err
		}
		frame.Exception = ex
	default:
		return nil, errors.Wrapf(ErrMalformedFrame, "unknown return code 0x%02x", code)
	}
	return frame, nil
}

// EncodeReturn renders a ReturnData body. Used by the rogue listener and by
// test endpoints; value is appended verbatim after the header block.
func EncodeReturn(kind ReturnKind, uid UID, value []byte) []byte {
	code := returnCodeNormal
	if kind == ReturnException {
		code = returnCodeException
	}
	block := new(bytes.Buffer)
	block.WriteByte(code)
	binary.Write(block, binary.BigEndian, uid.Unique)
	binary.Write(block, binary.BigEndian, uid.Time)
	binary.Write(block, binary.BigEndian, uid.Count)

	out := new(bytes.Buffer)
	out.WriteByte(msgReturn)
	binary.Write(out, binary.BigEndian, streamMagic)
	binary.Write(out, binary.BigEndian, streamVersion)
	writeBlock(out, block.Bytes())
	out.Write(value)
	return out.Bytes()
}

// serialVersionUIDs of the exception classes the rogue listener answers with.
// A real client verifies the UID against its local class before materializing
// the instance, so classes listed here carry the genuine value; anything else
// only needs to classify by name.
var serialVersionUIDs = map[string]int64{
	"java.rmi.ServerException": -4775845313121906682,
}

// EncodeException serializes a minimal Throwable of the named class carrying
// the given message, suitable as the value of an exception return.
func EncodeException(className, message string) []byte {
	out := new(bytes.Buffer)
	out.WriteByte(tcObject)
	out.WriteByte(tcClassDesc)
	writeUTF(out, className)
	binary.Write(out, binary.BigEndian, serialVersionUIDs[className])
	out.WriteByte(0x02) // SC_SERIALIZABLE
	binary.Write(out, binary.BigEndian, uint16(0))
	out.WriteByte(tcEndBlockData)
	out.WriteByte(tcNull)
	out.WriteByte(tcString)
	writeUTF(out, message)
	return out.Bytes()
}

// EncodeMarkerObject serializes an instance skeleton of the named class with
// no fields. A non-empty codebase is attached as the class annotation, the
// way remote class loading advertises its source. How an endpoint reacts to
// unmarshaling such an object is what several scan probes classify on.
func EncodeMarkerObject(className, codebase string) []byte {
	out := new(bytes.Buffer)
	out.WriteByte(tcObject)
	out.WriteByte(tcClassDesc)
	writeUTF(out, className)
	binary.Write(out, binary.BigEndian, int64(2)) // serialVersionUID, never checked before class resolution
	out.WriteByte(0x02)                           // SC_SERIALIZABLE
	binary.Write(out, binary.BigEndian, uint16(0))
	if codebase != "" {
		out.WriteByte(tcString)
		writeUTF(out, codebase)
	} else {
		out.WriteByte(tcNull)
	}
	out.WriteByte(tcEndBlockData)
	out.WriteByte(tcNull)
	return out.Bytes()
}

// RemoteRef is a parsed remote reference from a lookup return: the endpoint
// the bound object lives on and its object identifier.
type RemoteRef struct {
	Type     string
	Endpoint Endpoint
	ObjID    ObjID
}

var unicastRefMarker = []byte("UnicastRef")

// ParseRemoteRef extracts the remote reference from the marshaled value of a
// lookup return. Both UnicastRef and UnicastRef2 layouts are understood.
func ParseRemoteRef(value []byte) (*RemoteRef, error) {
	idx := bytes.Index(value, unicastRefMarker)
	if idx < 0 {
		return nil, errors.Wrap(ErrMalformedFrame, "no remote reference in return value")
	}
	rest := value[idx+len(unicastRefMarker):]
	ref := &RemoteRef{Type: "UnicastRef"}
	if len(rest) > 0 && rest[0] == '2' {
		ref.Type = "UnicastRef2"
		rest = rest[1:]
		if len(rest) == 0 {
			return nil, errors.Wrap(ErrMalformedFrame, "truncated remote reference")
		}
		rest = rest[1:] // custom-socket-factory flag
	}
	r := bytes.NewReader(rest)
	host, err := readUTF(r)
	if err != nil {
		return nil, err
	}
	var port int32
	if err := binary.Read(r, binary.BigEndian, &port); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, "truncated remote reference port")
	}
	raw := make([]byte, objIDLength)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, "truncated remote reference identifier")
	}
	objID, err := DecodeObjID(raw)
	if err != nil {
		return nil, err
	}
	ref.Endpoint = Endpoint{Host: host, Port: int(port)}
	ref.ObjID = objID
	return ref, nil
}

// DecodeStringArray parses the marshaled value of a registry list return.
func DecodeStringArray(value []byte) ([]string, error) {
	r := bytes.NewReader(value)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, "empty array value")
	}
	if tag == tcNull {
		return nil, nil
	}
	if tag != tcArray {
		return nil, errors.Wrapf(ErrMalformedFrame, "expected array, got tag 0x%02x", tag)
	}
	if _, err := parseClassDescChain(r); err != nil {
		return nil, err
	}
	var size int32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, "truncated array length")
	}
	if size < 0 || int(size) > len(value) {
		return nil, errors.Wrapf(ErrMalformedFrame, "implausible array length %d", size)
	}
	out := make([]string, 0, size)
	for i := int32(0); i < size; i++ {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(ErrMalformedFrame, "truncated array element")
		}
		switch tag {
		case tcString:
			s, err := readUTF(r)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		case tcNull:
			out = append(out, "")
		case tcReference:
			if err := skip(r, 4); err != nil {
				return nil, err
			}
			out = append(out, "")
		default:
			return nil, errors.Wrapf(ErrMalformedFrame, "unexpected array element tag 0x%02x", tag)
		}
	}
	return out, nil
}

// parseThrowable walks enough of a serialized Throwable to recover its class
// hierarchy and, heuristically, its detail message.
func parseThrowable(value []byte) (*RemoteException, error) {
	r := bytes.NewReader(value)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, "empty exception value")
	}
	for tag == tcException || tag == tcReset {
		tag, err = r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(ErrMalformedFrame, "truncated exception value")
		}
	}
	if tag != tcObject {
		return nil, errors.Wrapf(ErrMalformedFrame, "expected exception object, got tag 0x%02x", tag)
	}
	classes, err := parseClassDescChain(r)
	if err != nil {
		return nil, err
	}
	if len(classes) == 0 {
		return nil, errors.Wrap(ErrMalformedFrame, "exception without class descriptor")
	}
	return &RemoteException{
		ClassName: classes[0],
		Classes:   classes,
		Message:   scanMessage(remaining(value, r)),
	}, nil
}

// parseClassDescChain reads a class descriptor and its superclass chain,
// returning the class names most derived first.
func parseClassDescChain(r *bytes.Reader) ([]string, error) {
	var names []string
	for {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(ErrMalformedFrame, "truncated class descriptor")
		}
		switch tag {
		case tcNull:
			return names, nil
		case tcReference:
			if err := skip(r, 4); err != nil {
				return nil, err
			}
			return names, nil
		case tcProxyClassDesc:
			var count int32
			if err := binary.Read(r, binary.BigEndian, &count); err != nil {
				return nil, errors.Wrap(ErrMalformedFrame, "truncated proxy descriptor")
			}
			if count < 0 || int(count) > r.Len() {
				return nil, errors.Wrapf(ErrMalformedFrame, "implausible interface count %d", count)
			}
			for i := int32(0); i < count; i++ {
				iface, err := readUTF(r)
				if err != nil {
					return nil, err
				}
				names = append(names, iface)
			}
			if err := skipAnnotation(r); err != nil {
				return nil, err
			}
		case tcClassDesc:
			name, err := readUTF(r)
			if err != nil {
				return nil, err
			}
			if err := skip(r, 9); err != nil { // serialVersionUID + flags
				return nil, err
			}
			var fields uint16
			if err := binary.Read(r, binary.BigEndian, &fields); err != nil {
				return nil, errors.Wrap(ErrMalformedFrame, "truncated field count")
			}
			if int(fields) > r.Len() {
				return nil, errors.Wrapf(ErrMalformedFrame, "implausible field count %d", fields)
			}
			for i := uint16(0); i < fields; i++ {
				if err := skipFieldDesc(r); err != nil {
					return nil, err
				}
			}
			if err := skipAnnotation(r); err != nil {
				return nil, err
			}
			names = append(names, name)
		default:
			return nil, errors.Wrapf(ErrMalformedFrame, "unexpected class descriptor tag 0x%02x", tag)
		}
	}
}

func skipFieldDesc(r *bytes.Reader) error {
	typeCode, err := r.ReadByte()
	if err != nil {
		return errors.Wrap(ErrMalformedFrame, "truncated field descriptor")
	}
	if _, err := readUTF(r); err != nil {
		return err
	}
	if typeCode != 'L' && typeCode != '[' {
		return nil
	}
	tag, err := r.ReadByte()
	if err != nil {
		return errors.Wrap(ErrMalformedFrame, "truncated field type")
	}
	switch tag {
	case tcString:
		_, err := readUTF(r)
		return err
	case tcReference:
		return skip(r, 4)
	default:
		return errors.Wrapf(ErrMalformedFrame, "unexpected field type tag 0x%02x", tag)
	}
}

// skipAnnotation consumes a class annotation up to its end-block marker.
func skipAnnotation(r *bytes.Reader) error {
	for {
		tag, err := r.ReadByte()
		if err != nil {
			return errors.Wrap(ErrMalformedFrame, "truncated class annotation")
		}
		switch tag {
		case tcEndBlockData:
			return nil
		case tcNull:
		case tcBlockData:
			n, err := r.ReadByte()
			if err != nil {
				return errors.Wrap(ErrMalformedFrame, "truncated annotation block")
			}
			if err := skip(r, int(n)); err != nil {
				return err
			}
		case tcBlockDataLong:
			var n int32
			if err := binary.Read(r, binary.BigEndian, &n); err != nil {
				return errors.Wrap(ErrMalformedFrame, "truncated annotation block")
			}
			if n < 0 {
				return errors.Wrapf(ErrMalformedFrame, "negative annotation length %d", n)
			}
			if err := skip(r, int(n)); err != nil {
				return err
			}
		case tcString:
			if _, err := readUTF(r); err != nil {
				return err
			}
		case tcReference:
			if err := skip(r, 4); err != nil {
				return err
			}
		default:
			return errors.Wrapf(ErrMalformedFrame, "unexpected annotation tag 0x%02x", tag)
		}
	}
}

// scanMessage looks for the first plausible string constant in the serialized
// field data. The detail message of a Throwable is the first string written
// after its class descriptors.
func scanMessage(b []byte) string {
	for i := 0; i+3 <= len(b); i++ {
		if b[i] != tcString {
			continue
		}
		n := int(binary.BigEndian.Uint16(b[i+1 : i+3]))
		if n == 0 || i+3+n > len(b) {
			continue
		}
		candidate := b[i+3 : i+3+n]
		if printable(candidate) {
			return string(candidate)
		}
	}
	return ""
}

func printable(b []byte) bool {
	for _, c := range string(b) {
		if c != '\n' && c != '\t' && !unicode.IsPrint(c) {
			return false
		}
	}
	return true
}

func expectHeader(r *bytes.Reader, msg byte) error {
	got, err := r.ReadByte()
	if err != nil {
		return errors.Wrap(ErrMalformedFrame, "empty message")
	}
	if got != msg {
		return errors.Wrapf(ErrMalformedFrame, "unexpected message type 0x%02x", got)
	}
	var magic, version uint16
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return errors.Wrap(ErrMalformedFrame, "truncated stream magic")
	}
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return errors.Wrap(ErrMalformedFrame, "truncated stream version")
	}
	if magic != streamMagic || version != streamVersion {
		return errors.Wrapf(ErrMalformedFrame, "bad stream header %04x%04x", magic, version)
	}
	return nil
}

func readBlock(r *bytes.Reader) ([]byte, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, "missing block data")
	}
	var n int
	switch tag {
	case tcBlockData:
		b, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(ErrMalformedFrame, "truncated block length")
		}
		n = int(b)
	case tcBlockDataLong:
		var l int32
		if err := binary.Read(r, binary.BigEndian, &l); err != nil {
			return nil, errors.Wrap(ErrMalformedFrame, "truncated block length")
		}
		if l < 0 {
			return nil, errors.Wrapf(ErrMalformedFrame, "negative block length %d", l)
		}
		n = int(l)
	default:
		return nil, errors.Wrapf(ErrMalformedFrame, "expected block data, got tag 0x%02x", tag)
	}
	block := make([]byte, n)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, "truncated block data")
	}
	return block, nil
}

func writeBlock(out *bytes.Buffer, b []byte) {
	if len(b) <= 0xFF {
		out.WriteByte(tcBlockData)
		out.WriteByte(byte(len(b)))
	} else {
		out.WriteByte(tcBlockDataLong)
		binary.Write(out, binary.BigEndian, int32(len(b)))
	}
	out.Write(b)
}

func writeUTF(out *bytes.Buffer, s string) {
	binary.Write(out, binary.BigEndian, uint16(len(s)))
	out.WriteString(s)
}

func readUTF(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", errors.Wrap(ErrMalformedFrame, "truncated string length")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errors.Wrap(ErrMalformedFrame, "truncated string data")
	}
	return string(b), nil
}

func skip(r *bytes.Reader, n int) error {
	if n < 0 || n > r.Len() {
		return errors.Wrapf(ErrMalformedFrame, "cannot skip %d bytes, %d left", n, r.Len())
	}
	_, err := r.Seek(int64(n), io.SeekCurrent)
	return err
}

// remaining returns the unread tail of the buffer backing r.
func remaining(b []byte, r *bytes.Reader) []byte {
	return b[len(b)-r.Len():]
}
