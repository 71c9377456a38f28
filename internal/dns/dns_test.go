package dns

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupIPLiteral(t *testing.T) {
	var r Resolver

	ip, err := r.Lookup(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)
}

func TestDialContextLocal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	var r Resolver
	conn, err := r.DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}

func TestDialContextBadAddress(t *testing.T) {
	var r Resolver
	_, err := r.DialContext(context.Background(), "tcp", "no-port")
	require.Error(t, err)
}
