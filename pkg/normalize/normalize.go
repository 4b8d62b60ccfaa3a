// Package normalize defines the normalization step applied to the collapsed
// intensity matrix.
package normalize

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
)

// Result is a normalized intensity matrix with its convergence trail.
type Result struct {
	Matrix *mat.Dense
	// Convergence holds the deviation from the target after each iteration.
	// Single-pass methods report one value.
	Convergence []float64
}

// Normalizer turns a detections x channels intensity matrix into a
// normalized one. Missing values stay missing.
type Normalizer interface {
	Name() string
	Normalize(m mat.Matrix) (*Result, error)
}

// New returns the normalizer registered under name.
func New(name string) (Normalizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None{}, nil
	case "relative":
		return Relative{}, nil
	}
	return nil, &core.ConfigError{
		Field:   "normalization",
		Message: fmt.Sprintf("unknown normalization method '%s' (allowed: none, relative)", name),
	}
}

// None returns a copy of its input.
type None struct{}

func (None) Name() string { return "none" }

func (None) Normalize(m mat.Matrix) (*Result, error) {
	return &Result{Matrix: mat.DenseCopyOf(m), Convergence: []float64{0}}, nil
}

// Relative divides every row by the sum of its present values, so each row
// sums to one.
type Relative struct{}

func (Relative) Name() string { return "relative" }

func (Relative) Normalize(m mat.Matrix) (*Result, error) {
	out := mat.DenseCopyOf(m)
	r, c := out.Dims()
	deviation := 0.0
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		sum := 0.0
		for _, v := range row {
			if !math.IsNaN(v) {
				sum += v
			}
		}
		if sum == 0 {
			return nil, fmt.Errorf("row %d has no intensity to normalize", i)
		}
		for j := 0; j < c; j++ {
			row[j] /= sum
		}
		deviation += math.Abs(sum - 1)
	}
	return &Result{Matrix: out, Convergence: []float64{deviation}}, nil
}
