package rmi

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Object numbers of the three well-known components. Their UID is all zero.
const (
	RegistryNumber  int64 = 0
	ActivatorNumber int64 = 1
	DGCNumber       int64 = 2
)

const objIDLength = 22

// UID is the unique-identifier triple that, together with an object number,
// names one exported remote object. Unique marks the originating endpoint,
// Time the creation instant, Count a per-endpoint counter.
type UID struct {
	Unique int32
	Time   int64
	Count  int16
}

// ObjID identifies one exported remote object on one endpoint. It is only
// meaningful paired with the endpoint it was resolved against.
type ObjID struct {
	Number int64
	UID    UID
}

// WellKnownObjID returns the ObjID of a well-known component (zero UID).
func WellKnownObjID(number int64) ObjID {
	return ObjID{Number: number}
}

// Encode renders the 22-byte wire form: object number, unique, time, count,
// all big-endian.
func (o ObjID) Encode() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, o.Number)
	binary.Write(buf, binary.BigEndian, o.UID.Unique)
	binary.Write(buf, binary.BigEndian, o.UID.Time)
	binary.Write(buf, binary.BigEndian, o.UID.Count)
	return buf.Bytes()
}

func (o ObjID) String() string {
	return hex.EncodeToString(o.Encode())
}

// DecodeObjID parses the 22-byte wire form.
func DecodeObjID(b []byte) (ObjID, error) {
	if len(b) < objIDLength {
		return ObjID{}, errors.Wrapf(ErrMalformedFrame, "object identifier needs %d bytes, got %d", objIDLength, len(b))
	}
	var o ObjID
	r := bytes.NewReader(b[:objIDLength])
	binary.Read(r, binary.BigEndian, &o.Number)
	binary.Read(r, binary.BigEndian, &o.UID.Unique)
	binary.Read(r, binary.BigEndian, &o.UID.Time)
	binary.Read(r, binary.BigEndian, &o.UID.Count)
	return o, nil
}

// ParseObjID accepts either the hex form produced by String (optionally with
// an 0x prefix) or a bare decimal object number, which yields a well-known
// style identifier with a zero UID.
func ParseObjID(s string) (ObjID, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "0x"))
	if s == "" {
		return ObjID{}, Validationf("empty object identifier")
	}
	if num, err := strconv.ParseInt(s, 10, 64); err == nil {
		return WellKnownObjID(num), nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ObjID{}, Validationf("object identifier %q is neither decimal nor hex", s)
	}
	if len(raw) != objIDLength {
		return ObjID{}, Validationf("object identifier %q decodes to %d bytes, want %d", s, len(raw), objIDLength)
	}
	return DecodeObjID(raw)
}

// Endpoint is one host:port target.
type Endpoint struct {
	Host string
	Port int
}

// Addr renders the dialable address, bracketing IPv6 literals.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}
