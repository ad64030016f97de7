// Package calc holds the session-scoped calculation state and the compute
// engines that turn an atomic configuration into energy, forces and virial.
package calc

import (
	"errors"
	"fmt"
	"time"
)

// MatrixLen is the number of elements in a row-major 3x3 matrix.
const MatrixLen = 9

// Uninitialized is the bead index before the first successful INIT.
const Uninitialized int32 = -1

var (
	ErrNegativeBead = errors.New("calc: bead index must not be negative")
	ErrCoordShape   = errors.New("calc: coordinate count is not a multiple of 3")
	ErrResultShape  = errors.New("calc: force count does not match coordinates")
)

// Phase is the externally visible readiness of a State.
type Phase int

const (
	PhaseNeedInit Phase = iota
	PhaseReady
	PhaseHaveData
)

// String returns the STATUS reply token for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseReady:
		return "READY"
	case PhaseHaveData:
		return "HAVEDATA"
	default:
		return "NEEDINIT"
	}
}

// Result is the output of one computation.
type Result struct {
	Potential float64
	Forces    []float64
	Virial    [MatrixLen]float64
}

// State is the accumulated record of simulation inputs and outputs for one
// session. It is owned by the session goroutine and is not safe for
// concurrent use; other goroutines receive Snapshot copies.
type State struct {
	beadIndex   int32
	initPayload []byte

	cell    [MatrixLen]float64
	inverse [MatrixLen]float64

	numAtoms int32
	coords   []float64

	// nil while stale
	results *Result

	updatedAt time.Time
}

// NewState creates an uninitialized State.
func NewState() *State {
	return &State{
		beadIndex: Uninitialized,
		updatedAt: time.Now(),
	}
}

// Phase reports NEEDINIT until the first INIT, READY while no atoms are
// loaded and HAVEDATA afterwards.
func (s *State) Phase() Phase {
	switch {
	case s.beadIndex == Uninitialized:
		return PhaseNeedInit
	case s.numAtoms == 0:
		return PhaseReady
	default:
		return PhaseHaveData
	}
}

// ApplyInit commits a fully received INIT. An empty payload releases any
// previously held one. Cached results become stale.
func (s *State) ApplyInit(bead int32, payload []byte) error {
	if bead < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeBead, bead)
	}

	s.beadIndex = bead
	if len(payload) == 0 {
		s.initPayload = nil
	} else {
		s.initPayload = payload
	}
	s.results = nil
	s.updatedAt = time.Now()
	return nil
}

// ApplyPositions commits a fully received POSDATA. The coordinate store is
// reallocated to exactly len(coords). Cached results become stale.
func (s *State) ApplyPositions(cell, inverse [MatrixLen]float64, coords []float64) error {
	if len(coords)%3 != 0 {
		return fmt.Errorf("%w: %d values", ErrCoordShape, len(coords))
	}

	fresh := make([]float64, len(coords))
	copy(fresh, coords)

	s.cell = cell
	s.inverse = inverse
	s.numAtoms = int32(len(coords) / 3)
	s.coords = fresh
	s.results = nil
	s.updatedAt = time.Now()
	return nil
}

// SetResults stores the output of a computation over the current positions.
func (s *State) SetResults(r Result) error {
	if len(r.Forces) != len(s.coords) {
		return fmt.Errorf("%w: %d forces for %d coordinates", ErrResultShape, len(r.Forces), len(s.coords))
	}
	forces := make([]float64, len(r.Forces))
	copy(forces, r.Forces)
	s.results = &Result{Potential: r.Potential, Forces: forces, Virial: r.Virial}
	return nil
}

// Results returns the cached computation output, if it is current.
func (s *State) Results() (Result, bool) {
	if s.results == nil {
		return Result{}, false
	}
	return *s.results, true
}

// Release drops everything the state owns and returns it to NEEDINIT.
func (s *State) Release() {
	*s = State{beadIndex: Uninitialized, updatedAt: time.Now()}
}

// BeadIndex returns the bead index from the last INIT, or Uninitialized.
func (s *State) BeadIndex() int32 { return s.beadIndex }

// InitPayload returns the INIT bytes; nil when none were sent.
func (s *State) InitPayload() []byte { return s.initPayload }

// Cell returns the simulation cell matrix.
func (s *State) Cell() [MatrixLen]float64 { return s.cell }

// Inverse returns the inverse cell matrix as sent by the driver.
func (s *State) Inverse() [MatrixLen]float64 { return s.inverse }

// NumAtoms returns the atom count of the last POSDATA.
func (s *State) NumAtoms() int32 { return s.numAtoms }

// Coords returns the flat x,y,z coordinates, 3*NumAtoms values.
func (s *State) Coords() []float64 { return s.coords }

// UpdatedAt returns when the state last changed.
func (s *State) UpdatedAt() time.Time { return s.updatedAt }

// Snapshot is an immutable summary of a State that may cross goroutines.
type Snapshot struct {
	BeadIndex  int32              `json:"bead_index"`
	Phase      string             `json:"phase"`
	InitBytes  int                `json:"init_bytes"`
	NumAtoms   int32              `json:"num_atoms"`
	Cell       [MatrixLen]float64 `json:"cell"`
	HasResults bool               `json:"has_results"`
	Potential  float64            `json:"potential"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Snapshot copies the summary fields.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		BeadIndex: s.beadIndex,
		Phase:     s.Phase().String(),
		InitBytes: len(s.initPayload),
		NumAtoms:  s.numAtoms,
		Cell:      s.cell,
		UpdatedAt: s.updatedAt,
	}
	if s.results != nil {
		snap.HasResults = true
		snap.Potential = s.results.Potential
	}
	return snap
}
