// Package server implements the sparcd session loop: it accepts one driver
// connection at a time, routes its text commands and dispatches them to the
// protocol handlers over the session's calculation state.
package server

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sparc-project/sparcd/internal/calc"
	"github.com/sparc-project/sparcd/internal/network"
)

// Status is the session status code.
type Status int

const (
	StatusOK      Status = 200
	StatusError   Status = 500
	StatusInvalid Status = 600
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Reasons a session ends.
const (
	ReasonAbort         = "abort"
	ReasonPeerClosed    = "peer_closed"
	ReasonFrameTooLarge = "frame_too_large"
	ReasonProtocol      = "protocol_error"
	ReasonTransport     = "transport_error"
	ReasonShutdown      = "shutdown"
)

// Session is one live driver connection and the calculation state it owns.
type Session struct {
	ID       string
	OpenedAt time.Time

	transport *network.Transport
	state     *calc.State
	status    Status
	requests  int
	logger    zerolog.Logger
}

func newSession(id string, transport *network.Transport) *Session {
	return &Session{
		ID:        id,
		OpenedAt:  time.Now(),
		transport: transport,
		state:     calc.NewState(),
		status:    StatusOK,
		logger: log.With().
			Str("component", "session").
			Str("session", id).
			Str("remote", transport.RemoteAddr()).
			Logger(),
	}
}

// Status returns the status left by the most recent request.
func (s *Session) Status() Status { return s.status }

// State returns the session's calculation state.
func (s *Session) State() *calc.State { return s.state }

// Transport returns the session's framed transport.
func (s *Session) Transport() *network.Transport { return s.transport }

// Requests returns how many frames the session has received.
func (s *Session) Requests() int { return s.requests }

// close releases the calculation state and the connection.
func (s *Session) close() {
	s.state.Release()
	if err := s.transport.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("close connection")
	}
}
