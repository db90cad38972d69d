package server

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListenAcceptsConnections(t *testing.T) {
	listener, err := Listen(context.Background(), "127.0.0.1:0", DefaultTuningConfig())
	require.NoError(t, err)
	defer listener.Close()

	acceptErr := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			conn.Close()
		}
		acceptErr <- err
	}()

	client, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, <-acceptErr)
}
