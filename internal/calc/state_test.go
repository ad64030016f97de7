package calc

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparc-project/sparcd/internal/config"
)

var identity = [MatrixLen]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

func TestPhaseOrdering(t *testing.T) {
	s := NewState()
	assert.Equal(t, PhaseNeedInit, s.Phase())
	assert.Equal(t, "NEEDINIT", s.Phase().String())

	require.NoError(t, s.ApplyInit(0, nil))
	assert.Equal(t, PhaseReady, s.Phase())

	require.NoError(t, s.ApplyPositions(identity, identity, nil))
	assert.Equal(t, PhaseReady, s.Phase(), "zero atoms stays READY")

	require.NoError(t, s.ApplyPositions(identity, identity, []float64{1, 2, 3}))
	assert.Equal(t, PhaseHaveData, s.Phase())
	assert.Equal(t, "HAVEDATA", s.Phase().String())
}

func TestApplyInitPayload(t *testing.T) {
	s := NewState()
	require.NoError(t, s.ApplyInit(3, []byte("mode=md")))
	assert.Equal(t, int32(3), s.BeadIndex())
	assert.Equal(t, "mode=md", string(s.InitPayload()))

	require.NoError(t, s.ApplyInit(3, nil))
	assert.Nil(t, s.InitPayload())
}

func TestApplyInitRejectsNegativeBead(t *testing.T) {
	s := NewState()
	require.NoError(t, s.ApplyInit(1, []byte("keep")))

	err := s.ApplyInit(-2, []byte("other"))
	require.ErrorIs(t, err, ErrNegativeBead)
	assert.Equal(t, int32(1), s.BeadIndex())
	assert.Equal(t, "keep", string(s.InitPayload()))
}

func TestApplyPositionsReallocates(t *testing.T) {
	s := NewState()
	first := []float64{1, 2, 3, 4, 5, 6}
	require.NoError(t, s.ApplyPositions(identity, identity, first))
	assert.Equal(t, int32(2), s.NumAtoms())

	second := make([]float64, 15)
	for i := range second {
		second[i] = float64(100 + i)
	}
	require.NoError(t, s.ApplyPositions(identity, identity, second))
	assert.Equal(t, int32(5), s.NumAtoms())
	assert.Equal(t, second, s.Coords())

	// the store is a copy, not the caller's slice
	second[0] = -1
	assert.Equal(t, 100.0, s.Coords()[0])
}

func TestApplyPositionsRejectsShape(t *testing.T) {
	s := NewState()
	require.NoError(t, s.ApplyPositions(identity, identity, []float64{1, 2, 3}))

	err := s.ApplyPositions(identity, identity, []float64{1, 2})
	require.ErrorIs(t, err, ErrCoordShape)
	assert.Equal(t, []float64{1, 2, 3}, s.Coords())
}

func TestResultsClearedByUpdates(t *testing.T) {
	s := NewState()
	require.NoError(t, s.ApplyPositions(identity, identity, []float64{0, 0, 0}))
	require.NoError(t, s.SetResults(Result{Potential: 2, Forces: []float64{1, 1, 1}}))

	_, ok := s.Results()
	require.True(t, ok)
	assert.True(t, s.Snapshot().HasResults)

	require.NoError(t, s.ApplyInit(0, nil))
	_, ok = s.Results()
	assert.False(t, ok)

	err := s.SetResults(Result{Forces: []float64{1}})
	assert.ErrorIs(t, err, ErrResultShape)
}

func TestReleaseResets(t *testing.T) {
	s := NewState()
	require.NoError(t, s.ApplyInit(4, []byte("x")))
	require.NoError(t, s.ApplyPositions(identity, identity, []float64{1, 2, 3}))

	s.Release()
	assert.Equal(t, Uninitialized, s.BeadIndex())
	assert.Nil(t, s.InitPayload())
	assert.Nil(t, s.Coords())
	assert.Equal(t, PhaseNeedInit, s.Phase())
}

func TestSnapshot(t *testing.T) {
	s := NewState()
	require.NoError(t, s.ApplyInit(2, []byte("abcd")))
	require.NoError(t, s.ApplyPositions(identity, identity, []float64{1, 2, 3, 4, 5, 6}))

	snap := s.Snapshot()
	assert.Equal(t, int32(2), snap.BeadIndex)
	assert.Equal(t, "HAVEDATA", snap.Phase)
	assert.Equal(t, 4, snap.InitBytes)
	assert.Equal(t, int32(2), snap.NumAtoms)
	assert.Equal(t, identity, snap.Cell)
	assert.False(t, snap.HasResults)
}

func TestLennardJonesAtMinimum(t *testing.T) {
	lj := NewLennardJones(1.5, 1.0, 0)
	rmin := math.Pow(2, 1.0/6)

	s := NewState()
	require.NoError(t, s.ApplyPositions([MatrixLen]float64{}, [MatrixLen]float64{}, []float64{0, 0, 0, rmin, 0, 0}))

	r, err := lj.Compute(context.Background(), s)
	require.NoError(t, err)
	assert.InDelta(t, -1.5, r.Potential, 1e-12)
	for _, f := range r.Forces {
		assert.InDelta(t, 0, f, 1e-9)
	}
}

func TestLennardJonesRepulsion(t *testing.T) {
	lj := NewLennardJones(1, 1, 0)
	s := NewState()
	require.NoError(t, s.ApplyPositions([MatrixLen]float64{}, [MatrixLen]float64{}, []float64{0, 0, 0, 1, 0, 0}))

	r, err := lj.Compute(context.Background(), s)
	require.NoError(t, err)
	assert.InDelta(t, 0, r.Potential, 1e-12)
	assert.InDelta(t, -24, r.Forces[0], 1e-9)
	assert.InDelta(t, 24, r.Forces[3], 1e-9)
	// d = -1, f = -24 along x
	assert.InDelta(t, 24, r.Virial[0], 1e-9)
}

func TestLennardJonesMinimumImage(t *testing.T) {
	lj := NewLennardJones(1, 1, 2.5)
	cell := [MatrixLen]float64{10, 0, 0, 0, 10, 0, 0, 0, 10}
	inverse := [MatrixLen]float64{0.1, 0, 0, 0, 0.1, 0, 0, 0, 0.1}

	s := NewState()
	require.NoError(t, s.ApplyPositions(cell, inverse, []float64{0.5, 0, 0, 9.5, 0, 0}))

	r, err := lj.Compute(context.Background(), s)
	require.NoError(t, err)
	assert.InDelta(t, 0, r.Potential, 1e-9)
	assert.InDelta(t, 24, r.Forces[0], 1e-9)
	assert.InDelta(t, -24, r.Forces[3], 1e-9)
}

func TestLennardJonesCutoff(t *testing.T) {
	lj := NewLennardJones(1, 1, 2.5)
	s := NewState()
	require.NoError(t, s.ApplyPositions([MatrixLen]float64{}, [MatrixLen]float64{}, []float64{0, 0, 0, 3, 0, 0}))

	r, err := lj.Compute(context.Background(), s)
	require.NoError(t, err)
	assert.Zero(t, r.Potential)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, r.Forces)
}

func TestNewComputerAndEnsure(t *testing.T) {
	c, err := NewComputer(config.ComputeConfig{Engine: config.EngineEcho})
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = NewComputer(config.ComputeConfig{Engine: "dft"})
	assert.ErrorIs(t, err, ErrUnknownEngine)

	c, err = NewComputer(config.ComputeConfig{Engine: config.EngineLennardJones, Epsilon: 1, Sigma: 1})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "lennard-jones", c.Name())

	s := NewState()
	require.NoError(t, s.ApplyPositions([MatrixLen]float64{}, [MatrixLen]float64{}, []float64{0, 0, 0, 1, 0, 0}))
	r, err := Ensure(context.Background(), c, s)
	require.NoError(t, err)
	cached, ok := s.Results()
	require.True(t, ok)
	assert.Equal(t, r.Potential, cached.Potential)
}

func TestComputeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewState()
	require.NoError(t, s.ApplyPositions([MatrixLen]float64{}, [MatrixLen]float64{}, []float64{0, 0, 0, 1, 0, 0}))
	_, err := NewLennardJones(1, 1, 0).Compute(ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
}
