package calc

import (
	"context"
	"errors"
	"fmt"

	"github.com/sparc-project/sparcd/internal/config"
)

var ErrUnknownEngine = errors.New("calc: unknown compute engine")

// Computer turns the current positions of a State into a Result.
type Computer interface {
	Name() string
	Compute(ctx context.Context, s *State) (Result, error)
}

// NewComputer builds the engine selected in cfg. The echo engine has no
// computer: GETFORCE and GETSTRESS echo the command frame, so nil is
// returned for it.
func NewComputer(cfg config.ComputeConfig) (Computer, error) {
	switch cfg.Engine {
	case "", config.EngineEcho:
		return nil, nil
	case config.EngineLennardJones:
		return NewLennardJones(cfg.Epsilon, cfg.Sigma, cfg.Cutoff), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}

// Ensure computes results for s when none are cached and stores them.
func Ensure(ctx context.Context, c Computer, s *State) (Result, error) {
	if r, ok := s.Results(); ok {
		return r, nil
	}
	r, err := c.Compute(ctx, s)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", c.Name(), err)
	}
	if err := s.SetResults(r); err != nil {
		return Result{}, err
	}
	return r, nil
}
