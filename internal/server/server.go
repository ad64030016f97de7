package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sparc-project/sparcd/internal/calc"
	"github.com/sparc-project/sparcd/internal/config"
	"github.com/sparc-project/sparcd/internal/events"
	"github.com/sparc-project/sparcd/internal/network"
	"github.com/sparc-project/sparcd/internal/protocol"
)

// acceptRetryDelay throttles the accept loop after a failed accept.
const acceptRetryDelay = 50 * time.Millisecond

// Server owns the listening socket and serves driver sessions strictly one
// at a time. It stops after a session ends with ABORT.
type Server struct {
	cfg        config.ServerConfig
	eventBus   *events.EventBus
	router     *protocol.Router
	dispatcher *Dispatcher

	mu       sync.Mutex
	listener *network.Listener
	ready    chan struct{}
	sessions int
}

// New creates a server. eventBus may be nil when nothing subscribes to
// session events; computer may be nil for the echo engine.
func New(cfg config.ServerConfig, eventBus *events.EventBus, computer calc.Computer) *Server {
	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		router:   protocol.NewRouter(),
		dispatcher: NewDispatcher(computer, Limits{
			MaxInitBytes: cfg.MaxInitBytes,
			MaxAtoms:     cfg.MaxAtoms,
		}),
		ready: make(chan struct{}),
	}
}

// Ready is closed once the listening socket is bound.
func (srv *Server) Ready() <-chan struct{} {
	return srv.ready
}

// Addr returns the bound address, or nil before Ready.
func (srv *Server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

// Sessions returns how many sessions have been accepted.
func (srv *Server) Sessions() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.sessions
}

// Serve binds the listener and serves sessions until a client sends ABORT
// or ctx is cancelled; both return nil. A session that fails is closed and
// the server goes back to accepting.
func (srv *Server) Serve(ctx context.Context) error {
	ln, err := network.Listen(ctx, network.ListenConfig{
		Host:    srv.cfg.Host,
		Port:    srv.cfg.Port,
		Backlog: srv.cfg.MaxQueue,
	})
	if err != nil {
		return err
	}
	defer ln.Close()

	srv.mu.Lock()
	srv.listener = ln
	srv.mu.Unlock()
	close(srv.ready)

	srv.emit(ctx, events.EventServerListening, events.ServerListeningPayload{
		Addr:     ln.Addr().String(),
		MaxQueue: srv.cfg.MaxQueue,
		Engine:   srv.dispatcher.EngineName(),
	})

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("server stopping")
				srv.emitStopped(ctx, ReasonShutdown)
				return nil
			}
			log.Error().Err(err).Msg("failed to accept connection")
			pause(ctx, acceptRetryDelay)
			continue
		}

		if reason := srv.serveConn(ctx, conn); reason == ReasonAbort {
			log.Info().Msg("session aborted, server stopping")
			srv.emitStopped(ctx, ReasonAbort)
			return nil
		}
	}
}

// pause waits for d or until ctx is done, whichever comes first.
func pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// serveConn runs one session to completion and returns why it ended.
func (srv *Server) serveConn(ctx context.Context, conn net.Conn) string {
	transport := network.NewTransport(conn, srv.cfg.MaxFrameBytes)
	sess := newSession(uuid.NewString(), transport)

	srv.mu.Lock()
	srv.sessions++
	srv.mu.Unlock()

	// Shutdown unblocks a pending read by closing the connection.
	stop := context.AfterFunc(ctx, func() { transport.Close() })
	defer stop()

	sess.logger.Info().Msg("session opened")
	srv.emit(ctx, events.EventSessionOpened, events.SessionOpenedPayload{
		SessionID: sess.ID,
		Remote:    transport.RemoteAddr(),
		OpenedAt:  sess.OpenedAt,
	})

	reason, err := srv.runSession(ctx, sess)
	stats := transport.Stats()
	sess.close()

	logEvent := sess.logger.Info()
	if err != nil {
		logEvent = sess.logger.Warn().Err(err)
	}
	logEvent.
		Str("reason", reason).
		Stringer("status", sess.status).
		Int("requests", sess.requests).
		Int64("bytes_in", stats.BytesIn).
		Int64("bytes_out", stats.BytesOut).
		Msg("session closed")

	srv.emit(ctx, events.EventSessionClosed, events.SessionClosedPayload{
		SessionID: sess.ID,
		Remote:    transport.RemoteAddr(),
		Reason:    reason,
		Status:    int(sess.status),
		Requests:  sess.requests,
		BytesIn:   stats.BytesIn,
		BytesOut:  stats.BytesOut,
		ClosedAt:  time.Now(),
	})
	return reason
}

// runSession is the receive, route, dispatch loop of one session.
func (srv *Server) runSession(ctx context.Context, sess *Session) (string, error) {
	for {
		frame, err := sess.transport.ReadTextFrame()
		if err != nil {
			sess.status = StatusInvalid
			return srv.closeFor(ctx, sess, err)
		}
		sess.requests++
		start := time.Now()
		before := sess.transport.Stats()

		req, err := srv.router.Route(frame)
		if err != nil {
			sess.status = StatusInvalid
			srv.recordRequest(ctx, sess, req, start, before, err)
			if errors.Is(err, protocol.ErrUnknownCommand) {
				sess.logger.Warn().Err(err).Msg("invalid request skipped")
				continue
			}
			return srv.closeFor(ctx, sess, err)
		}

		outcome, err := srv.dispatcher.Dispatch(ctx, sess, req)
		if err != nil {
			if errors.Is(err, ErrComputeFailed) && ctx.Err() == nil {
				sess.status = StatusError
				srv.recordRequest(ctx, sess, req, start, before, err)
				sess.logger.Error().Err(err).Str("kind", req.Kind.String()).Msg("compute failed")
				srv.sendErrorReply(sess, "compute failed")
				continue
			}
			sess.status = StatusInvalid
			srv.recordRequest(ctx, sess, req, start, before, err)
			return srv.closeFor(ctx, sess, err)
		}

		sess.status = StatusOK
		srv.recordRequest(ctx, sess, req, start, before, nil)
		if srv.dispatcher.changesState(req.Kind) {
			srv.emit(ctx, events.EventStateChanged, events.StateChangedPayload{
				SessionID: sess.ID,
				Snapshot:  sess.state.Snapshot(),
			})
		}

		if outcome == OutcomeStop {
			return ReasonAbort, nil
		}
	}
}

// closeFor classifies a session-ending error and sends the optional typed
// error reply.
func (srv *Server) closeFor(ctx context.Context, sess *Session, err error) (string, error) {
	switch {
	case ctx.Err() != nil:
		return ReasonShutdown, nil
	case errors.Is(err, network.ErrFrameTooLarge):
		srv.sendErrorReply(sess, "frame too large")
		return ReasonFrameTooLarge, err
	case errors.Is(err, network.ErrShortFrame),
		errors.Is(err, protocol.ErrBadInteger),
		errors.Is(err, protocol.ErrMissingSentinel),
		errors.Is(err, protocol.ErrShortPayload),
		errors.Is(err, ErrNegativeLength),
		errors.Is(err, ErrLimitExceeded),
		errors.Is(err, calc.ErrNegativeBead),
		errors.Is(err, calc.ErrCoordShape):
		srv.sendErrorReply(sess, "malformed payload")
		return ReasonProtocol, err
	case errors.Is(err, network.ErrPeerClosed), errors.Is(err, network.ErrClosed):
		return ReasonPeerClosed, err
	default:
		return ReasonTransport, err
	}
}

func (srv *Server) sendErrorReply(sess *Session, reason string) {
	if !srv.cfg.ErrorReplies || sess.transport.IsClosed() {
		return
	}
	if _, err := sess.transport.Send(protocol.BuildErrorReply(reason)); err != nil {
		sess.logger.Debug().Err(err).Msg("error reply not delivered")
	}
}

func (srv *Server) recordRequest(ctx context.Context, sess *Session, req protocol.Request, start time.Time, before network.Stats, err error) {
	after := sess.transport.Stats()
	payload := events.RequestHandledPayload{
		SessionID: sess.ID,
		Kind:      req.Kind.String(),
		Status:    int(sess.status),
		Duration:  time.Since(start),
		// the command frame itself was read before start
		BytesIn:  after.BytesIn - before.BytesIn + int64(len(req.Frame)),
		BytesOut: after.BytesOut - before.BytesOut,
	}
	if err != nil {
		payload.Error = err.Error()
	}

	sess.logger.Debug().
		Str("kind", payload.Kind).
		Int("status", payload.Status).
		Dur("duration", payload.Duration).
		Msg("request handled")
	srv.emit(ctx, events.EventRequestHandled, payload)
}

func (srv *Server) emitStopped(ctx context.Context, reason string) {
	srv.emit(ctx, events.EventServerStopped, events.ServerStoppedPayload{
		Reason:   reason,
		Sessions: srv.Sessions(),
	})
}

func (srv *Server) emit(ctx context.Context, typ events.EventType, payload interface{}) {
	if srv.eventBus == nil {
		return
	}
	srv.eventBus.Emit(ctx, events.Event{Type: typ, Source: "server", Payload: payload})
}
