package network

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog/log"
)

// DefaultBacklog is the listen(2) backlog when none is configured. One
// pending connection matches the one-client-at-a-time service model.
const DefaultBacklog = 1

// ListenConfig describes the single listening socket.
type ListenConfig struct {
	Host    string
	Port    int
	Backlog int
}

// Address returns host:port for the configuration.
func (c ListenConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Listener accepts driver connections. Cancelling the context passed to
// Listen closes the socket and unblocks Accept.
type Listener struct {
	ln   net.Listener
	stop func() bool
}

// Listen binds the socket with SO_REUSEADDR and the configured backlog.
func Listen(ctx context.Context, cfg ListenConfig) (*Listener, error) {
	if cfg.Backlog < 1 {
		cfg.Backlog = DefaultBacklog
	}
	addr := cfg.Address()

	ln, err := listenBacklog(ctx, addr, cfg.Backlog)
	if err != nil {
		return nil, fmt.Errorf("failed to start TCP listener on %s: %w", addr, err)
	}

	log.Info().
		Str("addr", ln.Addr().String()).
		Int("backlog", cfg.Backlog).
		Msg("TCP listener started")

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	return &Listener{ln: ln, stop: stop}, nil
}

// Accept waits for the next connection. After the listen context is
// cancelled it returns the context error.
func (l *Listener) Accept(ctx context.Context) (net.Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Port returns the bound TCP port.
func (l *Listener) Port() int {
	if tcp, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Close closes the listening socket and releases the context watch.
func (l *Listener) Close() error {
	if l.stop != nil {
		l.stop()
	}
	return l.ln.Close()
}

// Unwrap returns the underlying net.Listener for servers that run their
// own accept loop, such as net/http.
func (l *Listener) Unwrap() net.Listener {
	return l.ln
}
