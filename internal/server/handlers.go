package server

import (
	"context"
	"fmt"

	"github.com/sparc-project/sparcd/internal/calc"
	"github.com/sparc-project/sparcd/internal/protocol"
)

func (d *Dispatcher) handleStatus(_ context.Context, s *Session, _ protocol.Request) (Outcome, error) {
	if _, err := s.transport.Send(protocol.BuildTextReply(s.state.Phase().String())); err != nil {
		return OutcomeContinue, err
	}
	return OutcomeContinue, nil
}

// handleInit receives the bead index and the init payload. Every frame is
// received and validated before the state is touched.
func (d *Dispatcher) handleInit(_ context.Context, s *Session, _ protocol.Request) (Outcome, error) {
	bead, err := d.readInt(s, "bead index")
	if err != nil {
		return OutcomeContinue, err
	}
	if bead < 0 {
		return OutcomeContinue, fmt.Errorf("init: %w: %d", calc.ErrNegativeBead, bead)
	}

	length, err := d.readInt(s, "init length")
	if err != nil {
		return OutcomeContinue, err
	}
	if length < 0 {
		return OutcomeContinue, fmt.Errorf("init: %w: %d", ErrNegativeLength, length)
	}
	if int(length) > d.limits.MaxInitBytes {
		return OutcomeContinue, fmt.Errorf("init: %w: %d bytes (max %d)", ErrLimitExceeded, length, d.limits.MaxInitBytes)
	}

	var payload []byte
	if length > 0 {
		payload, err = s.transport.ReadExact(int(length))
		if err != nil {
			return OutcomeContinue, fmt.Errorf("init payload: %w", err)
		}
	}

	if err := s.state.ApplyInit(bead, payload); err != nil {
		return OutcomeContinue, fmt.Errorf("init: %w", err)
	}
	s.logger.Debug().Int32("bead", bead).Int32("bytes", length).Msg("init applied")
	return OutcomeContinue, nil
}

// handlePosData receives cell, inverse cell, atom count and coordinates,
// then commits them in one step.
func (d *Dispatcher) handlePosData(_ context.Context, s *Session, _ protocol.Request) (Outcome, error) {
	cell, err := s.transport.ReadMatrix()
	if err != nil {
		return OutcomeContinue, fmt.Errorf("posdata cell: %w", err)
	}
	inverse, err := s.transport.ReadMatrix()
	if err != nil {
		return OutcomeContinue, fmt.Errorf("posdata inverse cell: %w", err)
	}

	natoms, err := s.transport.ReadInt32()
	if err != nil {
		return OutcomeContinue, fmt.Errorf("posdata atom count: %w", err)
	}
	if natoms < 0 {
		return OutcomeContinue, fmt.Errorf("posdata: %w: atom count %d", ErrNegativeLength, natoms)
	}
	if int(natoms) > d.limits.MaxAtoms {
		return OutcomeContinue, fmt.Errorf("posdata: %w: %d atoms (max %d)", ErrLimitExceeded, natoms, d.limits.MaxAtoms)
	}

	coords, err := s.transport.ReadFloat64s(3 * int(natoms))
	if err != nil {
		return OutcomeContinue, fmt.Errorf("posdata coordinates: %w", err)
	}

	if err := s.state.ApplyPositions(cell, inverse, coords); err != nil {
		return OutcomeContinue, fmt.Errorf("posdata: %w", err)
	}
	s.logger.Debug().Int32("atoms", natoms).Msg("positions applied")
	return OutcomeContinue, nil
}

// handleGetForce always recomputes. The echo engine returns the command
// frame unchanged.
func (d *Dispatcher) handleGetForce(ctx context.Context, s *Session, req protocol.Request) (Outcome, error) {
	if d.computer == nil {
		_, err := s.transport.Send(req.Frame)
		return OutcomeContinue, err
	}

	r, err := d.computer.Compute(ctx, s.state)
	if err != nil {
		return OutcomeContinue, fmt.Errorf("%w: %s: %w", ErrComputeFailed, d.computer.Name(), err)
	}
	if err := s.state.SetResults(r); err != nil {
		return OutcomeContinue, fmt.Errorf("%w: %w", ErrComputeFailed, err)
	}

	_, err = s.transport.Send(protocol.BuildForceReply(r.Potential, r.Forces, r.Virial))
	return OutcomeContinue, err
}

// handleGetStress reuses cached results when the positions have not changed.
func (d *Dispatcher) handleGetStress(ctx context.Context, s *Session, req protocol.Request) (Outcome, error) {
	if d.computer == nil {
		_, err := s.transport.Send(req.Frame)
		return OutcomeContinue, err
	}

	r, err := calc.Ensure(ctx, d.computer, s.state)
	if err != nil {
		return OutcomeContinue, fmt.Errorf("%w: %w", ErrComputeFailed, err)
	}

	_, err = s.transport.Send(protocol.BuildStressReply(r.Virial))
	return OutcomeContinue, err
}

func (d *Dispatcher) handleAbort(_ context.Context, s *Session, _ protocol.Request) (Outcome, error) {
	s.logger.Info().Msg("abort requested")
	return OutcomeStop, nil
}

// handleEcho sends the next text frame back byte for byte.
func (d *Dispatcher) handleEcho(_ context.Context, s *Session, _ protocol.Request) (Outcome, error) {
	frame, err := s.transport.ReadTextFrame()
	if err != nil {
		return OutcomeContinue, fmt.Errorf("echo: %w", err)
	}
	_, err = s.transport.Send(frame)
	return OutcomeContinue, err
}

func (d *Dispatcher) readInt(s *Session, what string) (int32, error) {
	frame, err := s.transport.ReadTextFrame()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	v, err := protocol.ParseInt(frame)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return v, nil
}
