// Package stats implements the differential expression statistics applied to
// protein tables: a two-sample t-test, Benjamini-Hochberg correction and fold
// changes.
package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/guregu/null.v3"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/protein"
)

// Center is the central tendency used for fold changes.
type Center string

const (
	CenterMean   Center = "mean"
	CenterMedian Center = "median"
)

// ParseCenter resolves a central tendency name case-insensitively.
func ParseCenter(s string) (Center, error) {
	switch Center(strings.ToLower(strings.TrimSpace(s))) {
	case CenterMean:
		return CenterMean, nil
	case CenterMedian:
		return CenterMedian, nil
	}
	return "", &core.ConfigError{
		Field:   "foldChange",
		Message: fmt.Sprintf("invalid central tendency '%s', pick mean or median", s),
	}
}

// TTest runs Student's two-sample t-test with pooled variance on the present
// values of a and b. It returns the t statistic and the two-sided p-value,
// both invalid when either sample has fewer than two values or the pooled
// variance is zero.
func TTest(a, b []float64) (t, p null.Float) {
	a, b = present(a), present(b)
	n1, n2 := float64(len(a)), float64(len(b))
	if n1 < 2 || n2 < 2 {
		return null.Float{}, null.Float{}
	}

	m1, v1 := stat.MeanVariance(a, nil)
	m2, v2 := stat.MeanVariance(b, nil)
	df := n1 + n2 - 2
	pooled := ((n1-1)*v1 + (n2-1)*v2) / df
	if pooled == 0 {
		return null.Float{}, null.Float{}
	}

	tv := (m1 - m2) / math.Sqrt(pooled*(1/n1+1/n2))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	pv := 2 * dist.Survival(math.Abs(tv))
	return null.FloatFrom(tv), null.FloatFrom(math.Min(pv, 1))
}

// BenjaminiHochberg returns the BH adjusted p-values of pvals. Invalid
// entries stay invalid and do not count towards the number of tests; the
// output is aligned with the input.
func BenjaminiHochberg(pvals []null.Float) []null.Float {
	out := make([]null.Float, len(pvals))
	var idx []int
	for i, p := range pvals {
		if p.Valid && !math.IsNaN(p.Float64) {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return out
	}

	sort.SliceStable(idx, func(i, j int) bool {
		return pvals[idx[i]].Float64 < pvals[idx[j]].Float64
	})
	m := float64(len(idx))
	running := 1.0
	for k := len(idx) - 1; k >= 0; k-- {
		adj := pvals[idx[k]].Float64 * m / float64(k+1)
		running = math.Min(running, adj)
		out[idx[k]] = null.FloatFrom(running)
	}
	return out
}

// FoldChange returns center(a) / center(b) over the present values. It is
// invalid when either side has no values or the denominator is zero.
func FoldChange(a, b []float64, c Center) null.Float {
	a, b = present(a), present(b)
	if len(a) == 0 || len(b) == 0 {
		return null.Float{}
	}
	var num, den float64
	switch c {
	case CenterMedian:
		num, den = median(a), median(b)
	default:
		num, den = stat.Mean(a, nil), stat.Mean(b, nil)
	}
	if den == 0 {
		return null.Float{}
	}
	return null.FloatFrom(num / den)
}

// DifferentialExpression fills the p-values, adjusted p-values and fold
// changes of every record, comparing the first condition to the second.
func DifferentialExpression(table protein.Table, c Center) {
	pvals := make([]null.Float, len(table))
	for i, rec := range table {
		_, pvals[i] = TTest(rec.Condition1(), rec.Condition2())
		rec.PValue = pvals[i]
		rec.FoldChange = FoldChange(rec.Condition1(), rec.Condition2(), c)
	}
	for i, adj := range BenjaminiHochberg(pvals) {
		table[i].AdjustedPValue = adj
	}
}

func present(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func median(x []float64) float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
