package netx

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
)

func TestResolveLiteralPassthrough(t *testing.T) {
	r := NewResolver(time.Second)

	ips, err := r.Resolve(context.Background(), "10.0.0.8")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, net.ParseIP("10.0.0.8"), ips[0])

	ips, err = r.Resolve(context.Background(), "2001:db8::1")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, net.ParseIP("2001:db8::1"), ips[0])
}

// A resolved IPv6 address substituted as the endpoint host must still render
// as a dialable address.
func TestResolvedAddressStaysDialable(t *testing.T) {
	r := NewResolver(time.Second)
	ips, err := r.Resolve(context.Background(), "::1")
	require.NoError(t, err)

	ep := rmi.Endpoint{Host: ips[0].String(), Port: 1099}
	assert.Equal(t, "[::1]:1099", ep.Addr())
}
