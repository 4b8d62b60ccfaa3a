package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/guregu/null.v3"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/ledger"
)

// RTIsolation summarizes the retention times of the rows merged into one
// representative during RT collapse.
type RTIsolation struct {
	Representative int
	Degeneracy     int // number of merged rows
	Mean           null.Float
	Std            null.Float // population standard deviation
	Range          null.Float // max - min
}

// RTIsolationInfo groups RT ledger entries by representative. Entries need
// the retention time among their saved columns to contribute statistics.
func RTIsolationInfo(entries []ledger.Entry) []RTIsolation {
	byRep := make(map[int][]float64)
	counts := make(map[int]int)
	for _, e := range entries {
		if !e.Representative.Valid {
			continue
		}
		rep := int(e.Representative.Int64)
		counts[rep]++
		if rt, ok := e.Saved[core.ColumnRetentionTime].(float64); ok && !math.IsNaN(rt) {
			byRep[rep] = append(byRep[rep], rt)
		}
	}

	out := make([]RTIsolation, 0, len(counts))
	for rep, n := range counts {
		info := RTIsolation{Representative: rep, Degeneracy: n}
		if rts := byRep[rep]; len(rts) > 0 {
			info.Mean = null.FloatFrom(stat.Mean(rts, nil))
			info.Std = null.FloatFrom(math.Sqrt(stat.PopVariance(rts, nil)))
			info.Range = null.FloatFrom(floats.Max(rts) - floats.Min(rts))
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Representative < out[j].Representative
	})
	return out
}
