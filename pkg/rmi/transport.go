package rmi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Stream handshake constants.
var streamMagicBytes = []byte{0x4A, 0x52, 0x4D, 0x49} // "JRMI"

const (
	protocolVersion uint16 = 0x0002

	ProtocolStream    byte = 0x4B
	ProtocolSingleOp  byte = 0x4C
	ProtocolMultiplex byte = 0x4D

	protocolAck  byte = 0x4E
	protocolNack byte = 0x4F
)

// Default timeouts for interactive calls. Scanning passes far more aggressive
// values; both are per-invocation parameters, never globals.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 15 * time.Second
)

// Options configures one connection. The zero value gets the defaults.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TLS            bool
	TLSConfig      *tls.Config
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

// Conn is one established protocol connection. Each unit of work owns exactly
// one Conn for its lifetime and is responsible for closing it.
type Conn struct {
	conn     net.Conn
	opts     Options
	endpoint Endpoint

	// endpoint the server suggested for this client during the handshake
	suggestedHost string
	suggestedPort int
}

// Connect dials the endpoint, negotiates TLS when requested and performs the
// stream protocol handshake. All failures on this path are ConnectErrors.
func Connect(ctx context.Context, ep Endpoint, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, &ConnectError{Endpoint: ep, Err: err}
	}

	if opts.TLS {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // audit tool, endpoint identity is not the question
		}
		tlsConn := tls.Client(raw, cfg)
		hsCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
		if err := tlsConn.HandshakeContext(hsCtx); err != nil {
			raw.Close()
			return nil, &ConnectError{Endpoint: ep, Err: errors.Wrap(err, "tls negotiation")}
		}
		raw = tlsConn
	}

	c := &Conn{conn: raw, opts: opts, endpoint: ep}
	if err := c.handshake(); err != nil {
		raw.Close()
		return nil, &ConnectError{Endpoint: ep, Err: err}
	}
	return c, nil
}

func (c *Conn) handshake() error {
	out := new(bytes.Buffer)
	out.Write(streamMagicBytes)
	binary.Write(out, binary.BigEndian, protocolVersion)
	out.WriteByte(ProtocolStream)
	if _, err := c.conn.Write(out.Bytes()); err != nil {
		return errors.Wrap(err, "handshake write")
	}

	c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	ack := make([]byte, 1)
	if _, err := io.ReadFull(c.conn, ack); err != nil {
		return errors.Wrap(err, "handshake read")
	}
	switch ack[0] {
	case protocolAck:
	case protocolNack:
		return errors.Wrap(ErrProtocolMismatch, "stream protocol rejected")
	default:
		return errors.Wrapf(ErrProtocolMismatch, "handshake response byte 0x%02x", ack[0])
	}

	host, err := readConnUTF(c.conn)
	if err != nil {
		return errors.Wrap(err, "handshake endpoint")
	}
	var port int32
	if err := binary.Read(c.conn, binary.BigEndian, &port); err != nil {
		return errors.Wrap(err, "handshake endpoint")
	}
	c.suggestedHost, c.suggestedPort = host, int(port)

	// identify ourselves; the value is not verified by endpoints
	reply := new(bytes.Buffer)
	writeUTF(reply, "127.0.0.1")
	binary.Write(reply, binary.BigEndian, int32(0))
	if _, err := c.conn.Write(reply.Bytes()); err != nil {
		return errors.Wrap(err, "handshake reply")
	}
	return nil
}

// SuggestedEndpoint returns the client endpoint the server proposed during
// the handshake. A value differing from the local address is a NAT/multihome
// hint worth reporting.
func (c *Conn) SuggestedEndpoint() (string, int) {
	return c.suggestedHost, c.suggestedPort
}

// Endpoint returns the target this connection was opened against.
func (c *Conn) Endpoint() Endpoint {
	return c.endpoint
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// WriteMessage sends raw protocol bytes.
func (c *Conn) WriteMessage(b []byte) error {
	if _, err := c.conn.Write(b); err != nil {
		return classifyIOError(err)
	}
	return nil
}

// ReadResponse reads one reply. Replies are not length-prefixed on the wire,
// so the first read waits up to the configured read timeout and subsequent
// reads drain with a short deadline until the endpoint pauses.
func (c *Conn) ReadResponse() ([]byte, error) {
	buf := make([]byte, 4096)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, classifyIOError(err)
	}
	out := append([]byte(nil), buf[:n]...)

	drain := c.opts.ReadTimeout / 10
	if drain < 50*time.Millisecond {
		drain = 50 * time.Millisecond
	}
	if drain > 500*time.Millisecond {
		drain = 500 * time.Millisecond
	}
	for {
		c.conn.SetReadDeadline(time.Now().Add(drain))
		n, err = c.conn.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			return out, nil
		}
	}
}

// Call sends one call frame and decodes the reply.
func (c *Conn) Call(frame *CallFrame) (*ReturnFrame, error) {
	if err := c.WriteMessage(frame.Encode()); err != nil {
		return nil, err
	}
	reply, err := c.ReadResponse()
	if err != nil {
		return nil, err
	}
	return DecodeReturn(reply)
}

// Ping sends a protocol ping and waits for its ack.
func (c *Conn) Ping() error {
	if err := c.WriteMessage([]byte{msgPing}); err != nil {
		return err
	}
	c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	ack := make([]byte, 1)
	if _, err := io.ReadFull(c.conn, ack); err != nil {
		return classifyIOError(err)
	}
	if ack[0] != msgPingAck {
		return errors.Wrapf(ErrMalformedFrame, "expected ping ack, got 0x%02x", ack[0])
	}
	return nil
}

// SingleOpStream renders the complete byte stream of a single-op invocation:
// handshake header plus call message in one write, no negotiation round-trip.
// This is the shape a byte-faithful relay can deliver.
func SingleOpStream(call []byte) []byte {
	out := new(bytes.Buffer)
	out.Write(streamMagicBytes)
	binary.Write(out, binary.BigEndian, protocolVersion)
	out.WriteByte(ProtocolSingleOp)
	out.Write(call)
	return out.Bytes()
}

// RawExchange dials the endpoint, writes a pre-built byte stream in a single
// write and returns whatever comes back. This is the client side of the
// single-op delivery shape; no handshake round-trip happens.
func RawExchange(ctx context.Context, ep Endpoint, opts Options, stream []byte) ([]byte, error) {
	opts = opts.withDefaults()

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, &ConnectError{Endpoint: ep, Err: err}
	}
	defer raw.Close()

	if opts.TLS {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		tlsConn := tls.Client(raw, cfg)
		hsCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
		if err := tlsConn.HandshakeContext(hsCtx); err != nil {
			return nil, &ConnectError{Endpoint: ep, Err: errors.Wrap(err, "tls negotiation")}
		}
		raw = tlsConn
	}

	if _, err := raw.Write(stream); err != nil {
		return nil, classifyIOError(err)
	}
	return ReadMessage(raw, opts.ReadTimeout)
}

// AcceptHandshake performs the server side of the protocol handshake on an
// accepted connection and returns the negotiated protocol byte. Used by the
// rogue listener and by test endpoints.
func AcceptHandshake(conn net.Conn, timeout time.Duration) (byte, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	header := make([]byte, 7)
	if _, err := io.ReadFull(conn, header); err != nil {
		return 0, classifyIOError(err)
	}
	if !bytes.Equal(header[:4], streamMagicBytes) {
		return 0, errors.Wrapf(ErrMalformedFrame, "bad handshake magic %x", header[:4])
	}
	if binary.BigEndian.Uint16(header[4:6]) != protocolVersion {
		return 0, errors.Wrapf(ErrMalformedFrame, "unsupported protocol version %x", header[4:6])
	}
	proto := header[6]
	switch proto {
	case ProtocolSingleOp:
		return proto, nil
	case ProtocolStream:
	default:
		conn.Write([]byte{protocolNack})
		return 0, errors.Wrapf(ErrMalformedFrame, "unsupported protocol 0x%02x", proto)
	}

	host, port := "127.0.0.1", 0
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		host, port = addr.IP.String(), addr.Port
	}
	reply := new(bytes.Buffer)
	reply.WriteByte(protocolAck)
	writeUTF(reply, host)
	binary.Write(reply, binary.BigEndian, int32(port))
	if _, err := conn.Write(reply.Bytes()); err != nil {
		return 0, classifyIOError(err)
	}

	// client's own endpoint identification
	if _, err := readConnUTF(conn); err != nil {
		return 0, err
	}
	var clientPort int32
	if err := binary.Read(conn, binary.BigEndian, &clientPort); err != nil {
		return 0, classifyIOError(err)
	}
	return proto, nil
}

// ReadMessage reads one inbound message on a server-side connection.
func ReadMessage(conn net.Conn, timeout time.Duration) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, classifyIOError(err)
	}
	out := append([]byte(nil), buf[:n]...)
	for {
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err = conn.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			return out, nil
		}
	}
}

func readConnUTF(conn net.Conn) (string, error) {
	var n uint16
	if err := binary.Read(conn, binary.BigEndian, &n); err != nil {
		return "", classifyIOError(err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(conn, b); err != nil {
		return "", classifyIOError(err)
	}
	return string(b), nil
}

func classifyIOError(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return errors.Wrap(ErrReadTimeout, err.Error())
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrap(ErrConnectionReset, "endpoint closed the connection")
	}
	return errors.Wrap(ErrConnectionReset, err.Error())
}
