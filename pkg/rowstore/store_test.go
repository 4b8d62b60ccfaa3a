package rowstore

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
)

func det(id int, seq string, charge int, scan int) *core.Detection {
	return &core.Detection{
		ID:          id,
		Sequence:    seq,
		Charge:      charge,
		FirstScan:   scan,
		Algorithm:   core.AlgorithmMascot,
		IonsScore:   30,
		XCorr:       math.NaN(),
		Intensities: []float64{1, 2},
	}
}

func newStore(t *testing.T, rows ...*core.Detection) *Store {
	t.Helper()
	s := New(2)
	for _, d := range rows {
		require.NoError(t, s.Add(d))
	}
	return s
}

func TestAddDefaultsDegeneracy(t *testing.T) {
	s := newStore(t, det(1, "AAK", 2, 10))
	d, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, 1, d.Degeneracy)
}

func TestAddRejectsDuplicateAndInvalid(t *testing.T) {
	s := newStore(t, det(1, "AAK", 2, 10))
	assert.Error(t, s.Add(det(1, "AAK", 2, 11)))

	bad := det(2, "AAK", 2, 12)
	bad.Intensities = []float64{1}
	assert.Error(t, s.Add(bad))
	assert.Equal(t, 1, s.Len())
}

func TestDeleteKeepsOrder(t *testing.T) {
	s := newStore(t, det(5, "A", 2, 1), det(3, "B", 2, 2), det(9, "C", 2, 3), det(1, "D", 2, 4))
	require.NoError(t, s.Delete(3, 1))
	assert.Equal(t, []int{5, 9}, s.IDs())

	assert.Error(t, s.Delete(42))
	assert.Equal(t, []int{5, 9}, s.IDs())
}

func TestGroupByFirstOccurrenceOrder(t *testing.T) {
	s := newStore(t,
		det(1, "B", 2, 1),
		det(2, "A", 2, 2),
		det(3, "B", 3, 3),
		det(4, "C", 2, 4),
		det(5, "A", 2, 5),
	)

	groups, err := s.GroupBy(s.IDs(), core.ColumnSequence)
	require.NoError(t, err)

	want := []Group{
		{Key: "B", IDs: []int{1, 3}},
		{Key: "A", IDs: []int{2, 5}},
		{Key: "C", IDs: []int{4}},
	}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Errorf("GroupBy() mismatch (-want +got):\n%s", diff)
	}
}

func TestSetDegeneracyNeverDecreases(t *testing.T) {
	s := newStore(t, det(1, "A", 2, 1))
	require.NoError(t, s.SetDegeneracy(1, 3))
	assert.Error(t, s.SetDegeneracy(1, 2))
	assert.Equal(t, 3, s.TotalDegeneracy())
}

func TestCloneIsIndependent(t *testing.T) {
	s := newStore(t, det(1, "A", 2, 1), det(2, "B", 2, 2))
	c := s.Clone()

	require.NoError(t, c.SetIntensities(1, []float64{9, 9}))
	require.NoError(t, c.Delete(2))

	d, _ := s.Get(1)
	assert.Equal(t, []float64{1, 2}, d.Intensities)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, c.Len())
}

func TestMatrixRoundTrip(t *testing.T) {
	s := newStore(t, det(7, "A", 2, 1), det(3, "B", 2, 2))
	m, ids := s.Matrix()
	assert.Equal(t, []int{7, 3}, ids)

	m.Scale(2, m)
	require.NoError(t, s.SetMatrix(m, ids))

	d, _ := s.Get(3)
	assert.Equal(t, []float64{2, 4}, d.Intensities)

	assert.Error(t, s.SetMatrix(mat.NewDense(1, 2, nil), ids))
}
