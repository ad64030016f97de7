package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/sparc-project/sparcd/internal/calc"
	"github.com/sparc-project/sparcd/internal/config"
	"github.com/sparc-project/sparcd/internal/protocol"
)

// Outcome tells the session loop whether to keep serving.
type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeStop
)

var (
	ErrNegativeLength = errors.New("server: negative length")
	ErrLimitExceeded  = errors.New("server: declared size exceeds limit")
	// ErrComputeFailed marks a compute engine failure; the session survives it.
	ErrComputeFailed = errors.New("server: compute failed")
)

// HandlerFunc serves one classified request. Payload frames that follow
// the command frame are read from the session transport by the handler.
type HandlerFunc func(ctx context.Context, s *Session, req protocol.Request) (Outcome, error)

// Limits bound the allocations a client can request.
type Limits struct {
	MaxInitBytes int
	MaxAtoms     int
}

func (l Limits) withDefaults() Limits {
	if l.MaxInitBytes <= 0 {
		l.MaxInitBytes = config.DefaultMaxInit
	}
	if l.MaxAtoms <= 0 {
		l.MaxAtoms = config.DefaultMaxAtoms
	}
	return l
}

// Dispatcher maps every request kind to exactly one handler.
type Dispatcher struct {
	handlers map[protocol.Kind]HandlerFunc
	computer calc.Computer
	limits   Limits
}

// NewDispatcher builds the handler table. A nil computer selects the echo
// engine for GETFORCE and GETSTRESS.
func NewDispatcher(computer calc.Computer, limits Limits) *Dispatcher {
	d := &Dispatcher{
		computer: computer,
		limits:   limits.withDefaults(),
	}
	d.handlers = map[protocol.Kind]HandlerFunc{
		protocol.KindStatus:    d.handleStatus,
		protocol.KindInit:      d.handleInit,
		protocol.KindPosData:   d.handlePosData,
		protocol.KindGetForce:  d.handleGetForce,
		protocol.KindGetStress: d.handleGetStress,
		protocol.KindAbort:     d.handleAbort,
		protocol.KindEcho:      d.handleEcho,
	}
	return d
}

// Dispatch invokes the handler for req.Kind. Dispatching a kind without a
// handler, including KindInvalid, is a programming error and panics.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, req protocol.Request) (Outcome, error) {
	h, ok := d.handlers[req.Kind]
	if !ok {
		panic(fmt.Sprintf("server: no handler for request kind %v", req.Kind))
	}
	return h(ctx, s, req)
}

// Handles reports whether kind has a handler.
func (d *Dispatcher) Handles(kind protocol.Kind) bool {
	_, ok := d.handlers[kind]
	return ok
}

// EngineName returns the compute engine in use.
func (d *Dispatcher) EngineName() string {
	if d.computer == nil {
		return config.EngineEcho
	}
	return d.computer.Name()
}

// changesState reports whether a successful request of kind updates the
// calculation state.
func (d *Dispatcher) changesState(kind protocol.Kind) bool {
	switch kind {
	case protocol.KindInit, protocol.KindPosData:
		return true
	case protocol.KindGetForce, protocol.KindGetStress:
		return d.computer != nil
	}
	return false
}
