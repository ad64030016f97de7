package calc

import (
	"context"
	"math"
)

// LennardJones is a reference pair potential,
// U(r) = 4ε[(σ/r)^12 - (σ/r)^6], truncated at the cutoff.
type LennardJones struct {
	Epsilon float64
	Sigma   float64
	// Cutoff of zero evaluates every pair.
	Cutoff float64
}

// NewLennardJones creates the engine.
func NewLennardJones(epsilon, sigma, cutoff float64) *LennardJones {
	return &LennardJones{Epsilon: epsilon, Sigma: sigma, Cutoff: cutoff}
}

func (lj *LennardJones) Name() string { return "lennard-jones" }

// Compute evaluates potential, forces and virial over all atom pairs. When
// the inverse cell is non-zero the minimum image convention is applied.
func (lj *LennardJones) Compute(ctx context.Context, s *State) (Result, error) {
	coords := s.Coords()
	n := len(coords) / 3
	cell, inverse := s.Cell(), s.Inverse()
	periodic := inverse != [MatrixLen]float64{}

	res := Result{Forces: make([]float64, len(coords))}
	sigma6 := math.Pow(lj.Sigma, 6)
	cutoff2 := lj.Cutoff * lj.Cutoff

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		for j := i + 1; j < n; j++ {
			d := [3]float64{
				coords[3*i] - coords[3*j],
				coords[3*i+1] - coords[3*j+1],
				coords[3*i+2] - coords[3*j+2],
			}
			if periodic {
				d = minimumImage(d, cell, inverse)
			}

			r2 := d[0]*d[0] + d[1]*d[1] + d[2]*d[2]
			if r2 == 0 || (cutoff2 > 0 && r2 > cutoff2) {
				continue
			}

			sr6 := sigma6 / (r2 * r2 * r2)
			res.Potential += 4 * lj.Epsilon * (sr6*sr6 - sr6)

			// f_ij = -dU/dr * d/r
			scale := 24 * lj.Epsilon * (2*sr6*sr6 - sr6) / r2
			for a := 0; a < 3; a++ {
				f := scale * d[a]
				res.Forces[3*i+a] += f
				res.Forces[3*j+a] -= f
				for b := 0; b < 3; b++ {
					res.Virial[3*a+b] += d[a] * scale * d[b]
				}
			}
		}
	}
	return res, nil
}

// minimumImage wraps d into the cell using fractional coordinates.
func minimumImage(d [3]float64, cell, inverse [MatrixLen]float64) [3]float64 {
	var frac [3]float64
	for a := 0; a < 3; a++ {
		frac[a] = inverse[3*a]*d[0] + inverse[3*a+1]*d[1] + inverse[3*a+2]*d[2]
		frac[a] -= math.Round(frac[a])
	}
	var out [3]float64
	for a := 0; a < 3; a++ {
		out[a] = cell[3*a]*frac[0] + cell[3*a+1]*frac[1] + cell[3*a+2]*frac[2]
	}
	return out
}
