package rmi_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/H4cking2theGate/remote-method-guesser/internal/jrmptest"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

func shortOptions() rmi.Options {
	return rmi.Options{ConnectTimeout: 2 * time.Second, ReadTimeout: 2 * time.Second}
}

func TestConnectHandshakeAndPing(t *testing.T) {
	srv := jrmptest.Start(t, func(*rmi.CallFrame) []byte { return nil })

	conn, err := rmi.Connect(context.Background(), srv.Endpoint, shortOptions())
	require.NoError(t, err)
	defer conn.Close()

	host, _ := conn.SuggestedEndpoint()
	assert.NotEmpty(t, host)
	assert.NoError(t, conn.Ping())
}

func TestCallRoundTrip(t *testing.T) {
	seenCh := make(chan *rmi.CallFrame, 1)
	srv := jrmptest.Start(t, func(frame *rmi.CallFrame) []byte {
		seenCh <- frame
		return jrmptest.ExceptionReply("java.rmi.NotBoundException", "nothing here")
	})

	conn, err := rmi.Connect(context.Background(), srv.Endpoint, shortOptions())
	require.NoError(t, err)
	defer conn.Close()

	frame := &rmi.CallFrame{
		ObjID:     rmi.ComponentRegistry.ObjID(),
		Operation: 2,
		Hash:      rmi.RegistryInterfaceHash,
		Arguments: []rmi.Argument{rmi.StringArg("missing")},
	}
	ret, err := conn.Call(frame)
	require.NoError(t, err)

	seen := <-seenCh
	require.NotNil(t, seen)
	assert.Equal(t, frame.ObjID, seen.ObjID)
	assert.Equal(t, frame.Operation, seen.Operation)
	assert.Equal(t, frame.Hash, seen.Hash)

	require.Equal(t, rmi.ReturnException, ret.Kind)
	assert.Equal(t, rmi.ClassNotBound, rmi.Classify(ret.Exception))
}

func TestConnectRefused(t *testing.T) {
	port := jrmptest.ClosedPort(t)
	_, err := rmi.Connect(context.Background(), rmi.Endpoint{Host: "127.0.0.1", Port: port}, shortOptions())
	require.Error(t, err)
	assert.True(t, rmi.IsConnectError(err))
}

func TestConnectProtocolMismatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Write([]byte("HTTP/1.0 400 Bad Request\r\n\r\n"))
			conn.Close()
		}
	}()

	ep := rmi.Endpoint{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	_, err = rmi.Connect(context.Background(), ep, shortOptions())
	require.Error(t, err)
	assert.True(t, rmi.IsConnectError(err))
	assert.True(t, errors.Is(err, rmi.ErrProtocolMismatch))
}

func TestSingleOpExchange(t *testing.T) {
	srv := jrmptest.Start(t, func(*rmi.CallFrame) []byte {
		return jrmptest.NormalReply(jrmptest.EncodeStringArray(nil))
	})

	frame := &rmi.CallFrame{
		ObjID:     rmi.ComponentRegistry.ObjID(),
		Operation: 1,
		Hash:      rmi.RegistryInterfaceHash,
	}
	stream := rmi.SingleOpStream(frame.Encode())
	reply, err := rmi.RawExchange(context.Background(), srv.Endpoint, shortOptions(), stream)
	require.NoError(t, err)

	ret, err := rmi.DecodeReturn(reply)
	require.NoError(t, err)
	assert.Equal(t, rmi.ReturnNormal, ret.Kind)
}
