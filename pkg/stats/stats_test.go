package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/protein"
)

func TestTTest(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name  string
		a, b  []float64
		wantT float64
		wantP float64
		valid bool
	}{
		{"separated", []float64{1, 2, 3, 4, 5}, []float64{6, 7, 8, 9, 10}, -5, 0.0010528, true},
		{"missing values are omitted", []float64{1, nan, 2, 3, 4, 5}, []float64{6, 7, 8, 9, 10, nan}, -5, 0.0010528, true},
		{"identical samples", []float64{1, 2, 3}, []float64{1, 2, 3}, 0, 1, true},
		{"too few values", []float64{1}, []float64{2, 3}, 0, 0, false},
		{"all missing", []float64{nan, nan}, []float64{nan, nan}, 0, 0, false},
		{"zero variance", []float64{2, 2}, []float64{2, 2}, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tv, p := TTest(tt.a, tt.b)
			require.Equal(t, tt.valid, p.Valid)
			require.Equal(t, tt.valid, tv.Valid)
			if !tt.valid {
				return
			}
			assert.InDelta(t, tt.wantT, tv.Float64, 1e-9)
			assert.InDelta(t, tt.wantP, p.Float64, 1e-6)
		})
	}
}

func TestBenjaminiHochberg(t *testing.T) {
	in := []null.Float{null.FloatFrom(0.01), null.FloatFrom(0.04), null.FloatFrom(0.03), null.FloatFrom(0.005)}
	want := []float64{0.02, 0.04, 0.04, 0.02}

	got := BenjaminiHochberg(in)
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, got[i].Valid)
		assert.InDelta(t, want[i], got[i].Float64, 1e-12, "position %d", i)
	}
}

func TestBenjaminiHochbergKeepsUndefined(t *testing.T) {
	in := []null.Float{null.FloatFrom(0.01), {}, null.FloatFrom(0.04), null.FloatFrom(math.NaN())}
	got := BenjaminiHochberg(in)

	assert.InDelta(t, 0.02, got[0].Float64, 1e-12)
	assert.False(t, got[1].Valid)
	assert.InDelta(t, 0.04, got[2].Float64, 1e-12)
	assert.False(t, got[3].Valid)
	assert.Empty(t, BenjaminiHochberg(nil))
}

func TestFoldChange(t *testing.T) {
	nan := math.NaN()
	assert.Equal(t, null.FloatFrom(2), FoldChange([]float64{2, 4, nan}, []float64{1, 2}, CenterMean))
	assert.Equal(t, null.FloatFrom(1.5), FoldChange([]float64{1, 3, 100}, []float64{1, 2, 3}, CenterMedian))
	assert.False(t, FoldChange([]float64{nan}, []float64{1}, CenterMean).Valid)
	assert.False(t, FoldChange([]float64{1}, []float64{0, 0}, CenterMean).Valid)
}

func TestParseCenter(t *testing.T) {
	c, err := ParseCenter(" Median ")
	require.NoError(t, err)
	assert.Equal(t, CenterMedian, c)

	_, err = ParseCenter("mode")
	var cfgErr *core.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDifferentialExpression(t *testing.T) {
	nan := math.NaN()
	table := protein.Table{
		{Protein: "P1", Intensities: [][]float64{{1, 2, 3, 4, 5}, {6, 7, 8, 9, 10}}},
		{Protein: "P2", Intensities: [][]float64{{nan, nan}, {nan, nan}}},
		{Protein: "P3", Intensities: [][]float64{{1, 2, 3}, {1, 2, 3}}},
	}
	DifferentialExpression(table, CenterMean)

	assert.InDelta(t, 0.0010528, table[0].PValue.Float64, 1e-6)
	assert.InDelta(t, 0.0021056, table[0].AdjustedPValue.Float64, 1e-6)
	assert.InDelta(t, 3.0/8.0, table[0].FoldChange.Float64, 1e-12)

	assert.False(t, table[1].PValue.Valid)
	assert.False(t, table[1].AdjustedPValue.Valid)
	assert.False(t, table[1].FoldChange.Valid)

	assert.InDelta(t, 1, table[2].PValue.Float64, 1e-12)
	assert.InDelta(t, 1, table[2].AdjustedPValue.Float64, 1e-12)
}
