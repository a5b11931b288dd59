// Package jrmptest runs in-process protocol endpoints for tests. A server
// performs the real server-side handshake and hands every decoded call to a
// test-supplied handler that returns the raw reply message.
package jrmptest

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

// Handler answers one decoded call with a complete reply message.
type Handler func(frame *rmi.CallFrame) []byte

// Server is one loopback stub endpoint.
type Server struct {
	Endpoint rmi.Endpoint
	ln       net.Listener
}

// Start runs a stub endpoint on a loopback port until the test ends.
func Start(t *testing.T, handler Handler) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	s := &Server{
		Endpoint: rmi.Endpoint{Host: "127.0.0.1", Port: addr.Port},
		ln:       ln,
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serve(conn, handler)
		}
	}()
	return s
}

func serve(conn net.Conn, handler Handler) {
	defer conn.Close()
	if _, err := rmi.AcceptHandshake(conn, 5*time.Second); err != nil {
		return
	}
	for {
		msg, err := rmi.ReadMessage(conn, 5*time.Second)
		if err != nil || len(msg) == 0 {
			return
		}
		switch msg[0] {
		case rmi.MsgPing:
			conn.Write([]byte{rmi.MsgPingAck})
		case rmi.MsgCall:
			frame, err := rmi.DecodeCall(msg)
			if err != nil {
				return
			}
			if reply := handler(frame); reply != nil {
				conn.Write(reply)
			}
		default:
			return
		}
	}
}

// ClosedPort returns a loopback port that refuses connections.
func ClosedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// ExceptionReply renders a full exception return carrying the named class
// and message.
func ExceptionReply(className, message string) []byte {
	return rmi.EncodeReturn(rmi.ReturnException, rmi.UID{}, rmi.EncodeException(className, message))
}

// NormalReply renders a normal return with the given marshaled value.
func NormalReply(value []byte) []byte {
	return rmi.EncodeReturn(rmi.ReturnNormal, rmi.UID{}, value)
}

// EncodeStringArray marshals a String[] the way registry list returns one.
func EncodeStringArray(names []string) []byte {
	out := new(bytes.Buffer)
	out.WriteByte(0x75) // TC_ARRAY
	out.WriteByte(0x72) // TC_CLASSDESC
	writeUTF(out, "[Ljava.lang.String;")
	out.Write(make([]byte, 8)) // serialVersionUID
	out.WriteByte(0x02)        // SC_SERIALIZABLE
	binary.Write(out, binary.BigEndian, uint16(0))
	out.WriteByte(0x78) // end of class annotation
	out.WriteByte(0x70) // null superclass
	binary.Write(out, binary.BigEndian, int32(len(names)))
	for _, name := range names {
		out.WriteByte(0x74) // TC_STRING
		writeUTF(out, name)
	}
	return out.Bytes()
}

// EncodeRemoteRef marshals enough of a lookup return value for reference
// parsing: the ref type marker followed by endpoint and identifier.
func EncodeRemoteRef(refType, host string, port int, objID rmi.ObjID) []byte {
	out := new(bytes.Buffer)
	out.WriteString("\x73\x7d") // object framing filler, parsers search the marker
	out.WriteString(refType)
	if refType == "UnicastRef2" {
		out.WriteByte(0x00) // no custom socket factory
	}
	writeUTF(out, host)
	binary.Write(out, binary.BigEndian, int32(port))
	out.Write(objID.Encode())
	return out.Bytes()
}

func writeUTF(out *bytes.Buffer, s string) {
	binary.Write(out, binary.BigEndian, uint16(len(s)))
	out.WriteString(s)
}
