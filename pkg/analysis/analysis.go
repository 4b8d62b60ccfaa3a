// Package analysis provides the exploratory analyses run on the processed
// data: PCA and hierarchical clustering of reporter channels, and retention
// time statistics of collapsed duplicates.
package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCAResult holds the channel scores of a principal component analysis.
type PCAResult struct {
	// Scores has one row per reporter channel and one column per component.
	Scores *mat.Dense
	// ExplainedVarianceRatio is the share of the total variance per component.
	ExplainedVarianceRatio []float64
}

// Impute returns the transpose of intensities (proteins x channels), so that
// channels become observations, with missing values set to 1/N for N
// channels.
func Impute(intensities mat.Matrix) *mat.Dense {
	r, c := intensities.Dims()
	fill := 1 / float64(c)
	out := mat.NewDense(c, r, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := intensities.At(i, j)
			if math.IsNaN(v) {
				v = fill
			}
			out.Set(j, i, v)
		}
	}
	return out
}

// PCA projects the reporter channels onto the first nComponents principal
// components of the protein intensity matrix.
func PCA(intensities mat.Matrix, nComponents int) (*PCAResult, error) {
	r, c := intensities.Dims()
	if r == 0 || c < 2 {
		return nil, fmt.Errorf("PCA needs at least one protein and two channels, got %dx%d", r, c)
	}
	if nComponents < 1 {
		return nil, fmt.Errorf("invalid number of components %d", nComponents)
	}
	obs := Impute(intensities)

	var pc stat.PC
	if ok := pc.PrincipalComponents(obs, nil); !ok {
		return nil, fmt.Errorf("principal component decomposition failed")
	}
	vars := pc.VarsTo(nil)
	if nComponents > len(vars) {
		nComponents = len(vars)
	}

	total := 0.0
	for _, v := range vars {
		total += v
	}
	ratio := make([]float64, nComponents)
	for i := range ratio {
		if total > 0 {
			ratio[i] = vars[i] / total
		}
	}

	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	nObs, nVars := obs.Dims()
	centered := mat.NewDense(nObs, nVars, nil)
	for j := 0; j < nVars; j++ {
		col := mat.Col(nil, j, obs)
		mean := stat.Mean(col, nil)
		for i := range col {
			centered.Set(i, j, col[i]-mean)
		}
	}

	var scores mat.Dense
	scores.Mul(centered, vecs.Slice(0, nVars, 0, nComponents))
	return &PCAResult{Scores: &scores, ExplainedVarianceRatio: ratio}, nil
}
