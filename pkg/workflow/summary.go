package workflow

import (
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/rowstore"
)

// Summary describes the content of a data set.
type Summary struct {
	Detections int
	Sequences  int
	Proteins   int
	Shared     int // Detections assigned to more than one protein
	Missing    int // Detections with at least one missing channel
	// ByAlgorithm counts detections per identifying algorithm.
	ByAlgorithm map[core.Algorithm]int
}

// Summarize counts the detections, sequences and proteins of s.
func Summarize(s *rowstore.Store) Summary {
	rows, _ := s.Rows(s.IDs())

	sum := Summary{
		Detections: len(rows),
		Sequences:  len(lo.Uniq(lo.Map(rows, func(d *core.Detection, _ int) string { return d.Sequence }))),
		Proteins:   len(lo.Uniq(lo.FlatMap(rows, func(d *core.Detection, _ int) []string { return d.MasterProteins }))),
		Shared:     lo.CountBy(rows, func(d *core.Detection) bool { return len(d.MasterProteins) > 1 }),
		Missing: lo.CountBy(rows, func(d *core.Detection) bool {
			return lo.SomeBy(d.Intensities, math.IsNaN)
		}),
		ByAlgorithm: make(map[core.Algorithm]int),
	}
	for alg, ds := range lo.GroupBy(rows, func(d *core.Detection) core.Algorithm { return d.Algorithm }) {
		sum.ByAlgorithm[alg] = len(ds)
	}
	return sum
}

// Algorithms returns the algorithms of a summary in name order.
func (s Summary) Algorithms() []core.Algorithm {
	algs := lo.Keys(s.ByAlgorithm)
	sort.Slice(algs, func(i, j int) bool { return algs[i] < algs[j] })
	return algs
}
