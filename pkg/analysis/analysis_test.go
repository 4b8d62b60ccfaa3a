package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/guregu/null.v3"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/ledger"
)

func TestImpute(t *testing.T) {
	m := mat.NewDense(2, 4, []float64{
		1, math.NaN(), 3, 4,
		5, 6, 7, math.NaN(),
	})
	got := Impute(m)
	r, c := got.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 0.25, got.At(1, 0))
	assert.Equal(t, 0.25, got.At(3, 1))
	assert.Equal(t, 7.0, got.At(2, 1))
}

func TestPCACollinearChannels(t *testing.T) {
	// Channels as observations: (1,2), (2,4), (3,6), (4,8).
	m := mat.NewDense(2, 4, []float64{
		1, 2, 3, 4,
		2, 4, 6, 8,
	})
	res, err := PCA(m, 2)
	require.NoError(t, err)

	require.Len(t, res.ExplainedVarianceRatio, 2)
	assert.InDelta(t, 1, res.ExplainedVarianceRatio[0], 1e-9)
	assert.InDelta(t, 0, res.ExplainedVarianceRatio[1], 1e-9)

	r, c := res.Scores.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 2, c)
	step := 0.5 * math.Sqrt(5)
	for i, want := range []float64{3 * step, step, step, 3 * step} {
		assert.InDelta(t, want, math.Abs(res.Scores.At(i, 0)), 1e-9, "channel %d", i)
		assert.InDelta(t, 0, res.Scores.At(i, 1), 1e-9, "channel %d", i)
	}
}

func TestPCARejectsBadInput(t *testing.T) {
	_, err := PCA(mat.NewDense(2, 1, []float64{1, 2}), 1)
	assert.Error(t, err)
	_, err = PCA(mat.NewDense(1, 2, []float64{1, 2}), 0)
	assert.Error(t, err)
}

func TestWardLinkage(t *testing.T) {
	m := mat.NewDense(1, 3, []float64{0, 1, 10})
	got, err := WardLinkage(m)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, Merge{Left: 0, Right: 1, Distance: 1, Size: 2}, got[0])
	assert.Equal(t, 2, got[1].Left)
	assert.Equal(t, 3, got[1].Right)
	assert.InDelta(t, math.Sqrt(361.0/3), got[1].Distance, 1e-9)
	assert.Equal(t, 3, got[1].Size)
}

func TestWardLinkageTwoPairs(t *testing.T) {
	m := mat.NewDense(1, 4, []float64{0, 10, 1, 11})
	got, err := WardLinkage(m)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, Merge{Left: 0, Right: 2, Distance: 1, Size: 2}, got[0])
	assert.Equal(t, Merge{Left: 1, Right: 3, Distance: 1, Size: 2}, got[1])
	assert.Equal(t, 4, got[2].Left)
	assert.Equal(t, 5, got[2].Right)
	assert.Equal(t, 4, got[2].Size)

	_, err = WardLinkage(mat.NewDense(2, 1, []float64{1, 2}))
	assert.Error(t, err)
}

func TestRTIsolationInfo(t *testing.T) {
	entry := func(rep int, rt any) ledger.Entry {
		saved := map[core.Column]any{}
		if rt != nil {
			saved[core.ColumnRetentionTime] = rt
		}
		return ledger.Entry{Stage: "RT", Representative: null.IntFrom(int64(rep)), Saved: saved}
	}
	entries := []ledger.Entry{
		entry(9, 10.0),
		entry(2, 5.0),
		entry(9, 14.0),
		entry(2, nil),
		{Stage: "RT", RemovedID: 4},
	}

	got := RTIsolationInfo(entries)
	require.Len(t, got, 2)

	assert.Equal(t, 2, got[0].Representative)
	assert.Equal(t, 2, got[0].Degeneracy)
	assert.Equal(t, null.FloatFrom(5), got[0].Mean)
	assert.Equal(t, null.FloatFrom(0), got[0].Std)

	assert.Equal(t, 9, got[1].Representative)
	assert.Equal(t, null.FloatFrom(12), got[1].Mean)
	assert.Equal(t, null.FloatFrom(2), got[1].Std)
	assert.Equal(t, null.FloatFrom(4), got[1].Range)
}
