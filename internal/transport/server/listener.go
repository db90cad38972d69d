// Package server builds a tuned TCP listener for the charge-point
// WebSocket front door, where thousands of long-lived, low-traffic
// connections benefit from disabling Nagle's algorithm and from
// explicit keepalive rather than the defaults net.Listen picks. It
// hands back a plain net.Listener; internal/transport/wsserver owns
// its own http.Server and shutdown sequencing on top of it.
package server

import (
	"context"
	"net"
	"syscall"
	"time"
)

// TuningConfig controls the socket options applied to each accepted
// connection.
type TuningConfig struct {
	KeepAlivePeriod    time.Duration
	EnableTCPKeepAlive bool
	ReadBufferBytes    int
	WriteBufferBytes   int
}

// DefaultTuningConfig matches what a charge point gateway needs: long
// idle periods between heartbeats, small frames, many connections.
func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		KeepAlivePeriod:    30 * time.Second,
		EnableTCPKeepAlive: true,
		ReadBufferBytes:    64 * 1024,
		WriteBufferBytes:   64 * 1024,
	}
}

// Listen opens addr with SO_REUSEADDR and TCP_NODELAY set on the
// listening socket, and returns a net.Listener whose Accept applies
// cfg's keepalive and buffer tuning to every accepted connection.
func Listen(ctx context.Context, addr string, cfg TuningConfig) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
					ctrlErr = err
					return
				}
				ctrlErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
		KeepAlive: cfg.KeepAlivePeriod,
	}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	tcpListener, ok := listener.(*net.TCPListener)
	if !ok {
		return listener, nil
	}
	return &tunedListener{TCPListener: tcpListener, cfg: cfg}, nil
}

// tunedListener applies cfg to every connection it accepts.
type tunedListener struct {
	*net.TCPListener
	cfg TuningConfig
}

func (l *tunedListener) Accept() (net.Conn, error) {
	conn, err := l.TCPListener.AcceptTCP()
	if err != nil {
		return nil, err
	}

	if l.cfg.EnableTCPKeepAlive {
		conn.SetKeepAlive(true)
		conn.SetKeepAlivePeriod(l.cfg.KeepAlivePeriod)
	}
	conn.SetNoDelay(true)
	if l.cfg.ReadBufferBytes > 0 {
		conn.SetReadBuffer(l.cfg.ReadBufferBytes)
	}
	if l.cfg.WriteBufferBytes > 0 {
		conn.SetWriteBuffer(l.cfg.WriteBufferBytes)
	}

	return conn, nil
}
