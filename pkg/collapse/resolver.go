package collapse

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/rowstore"
)

// DuplicateGroup is a confirmed set of duplicates: the representative keeps
// its row, the duplicates are merged into it.
type DuplicateGroup struct {
	Representative int
	Duplicates     []int
}

// Members returns the representative followed by the duplicates.
func (g DuplicateGroup) Members() []int {
	return append([]int{g.Representative}, g.Duplicates...)
}

// Resolver confirms candidate groups for one dimension and picks their
// representatives.
type Resolver struct {
	dim      Dimension
	master   core.Algorithm
	tieBreak TieBreak
}

// NewResolver creates a resolver for dim.
func NewResolver(dim Dimension, master core.Algorithm, tieBreak TieBreak) *Resolver {
	if tieBreak == "" {
		tieBreak = TieBreakFirstScan
	}
	return &Resolver{dim: dim, master: master, tieBreak: tieBreak}
}

// Resolve turns candidate groups into duplicate groups.
//
// In the PSM stage every row of the non-master algorithm is merged into one
// master row of its scan, preferring a master row with the same charge and
// modifications. Rows of the same algorithm are alternative matches for the
// scan and stay distinct, as do scans seen by a single algorithm.
//
// In the later stages rows sharing a first scan with a preferred row of the
// group are left out, then every remaining pair is checked against the
// dimension's duplicate predicate. The grouping keys of a stage make the
// predicate hold by construction, so a failing pair is returned as an
// *core.InvariantViolation.
func (r *Resolver) Resolve(s *rowstore.Store, candidates [][]int) ([]DuplicateGroup, error) {
	out := make([]DuplicateGroup, 0, len(candidates))
	for _, ids := range candidates {
		if len(ids) < 2 {
			continue
		}
		rows, err := s.Rows(ids)
		if err != nil {
			return nil, err
		}
		var groups []DuplicateGroup
		if r.dim == DimensionPSM {
			groups, err = r.resolveScan(rows)
		} else {
			groups, err = r.resolveGroup(rows)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, groups...)
	}
	return out, nil
}

func (r *Resolver) resolveScan(rows []*core.Detection) ([]DuplicateGroup, error) {
	isMaster := func(d *core.Detection, _ int) bool { return d.Algorithm == r.master }
	masters, others := lo.Filter(rows, isMaster), lo.Reject(rows, isMaster)
	if len(masters) == 0 || len(others) == 0 {
		return nil, nil
	}

	merged := make(map[int][]int, len(masters))
	for _, o := range others {
		pool := lo.Filter(masters, func(m *core.Detection, _ int) bool {
			return m.Charge == o.Charge && m.ModString() == o.ModString()
		})
		if len(pool) == 0 {
			pool = masters
		}
		rep := SelectRepresentative(pool, r.master, r.tieBreak)
		if err := r.check(rep, o); err != nil {
			return nil, err
		}
		merged[rep.ID] = append(merged[rep.ID], o.ID)
	}

	var groups []DuplicateGroup
	for _, m := range masters {
		if dups, ok := merged[m.ID]; ok {
			groups = append(groups, DuplicateGroup{Representative: m.ID, Duplicates: dups})
		}
	}
	return groups, nil
}

func (r *Resolver) resolveGroup(rows []*core.Detection) ([]DuplicateGroup, error) {
	// Rows of one scan are alternative matches of one spectrum: only the
	// preferred one takes part.
	keep := make(map[int]bool, len(rows))
	scans := make(map[int]bool, len(rows))
	for _, d := range preferenceOrder(rows, r.master, r.tieBreak) {
		if !scans[d.FirstScan] {
			scans[d.FirstScan] = true
			keep[d.ID] = true
		}
	}
	rows = lo.Filter(rows, func(d *core.Detection, _ int) bool { return keep[d.ID] })
	if len(rows) < 2 {
		return nil, nil
	}

	for i := 0; i < len(rows); i++ {
		for j := i + 1; j < len(rows); j++ {
			if err := r.check(rows[i], rows[j]); err != nil {
				return nil, err
			}
		}
	}

	rep := SelectRepresentative(rows, r.master, r.tieBreak)
	g := DuplicateGroup{Representative: rep.ID}
	for _, d := range rows {
		if d.ID != rep.ID {
			g.Duplicates = append(g.Duplicates, d.ID)
		}
	}
	return []DuplicateGroup{g}, nil
}

func (r *Resolver) check(a, b *core.Detection) error {
	if err := TrueDuplicates(r.dim, a, b); err != nil {
		return &core.InvariantViolation{
			Stage:   string(r.dim),
			Rows:    []int{a.ID, b.ID},
			Message: err.Error(),
		}
	}
	return nil
}

// TrueDuplicates returns nil when a and b are duplicates attributable solely
// to dim, and an error naming the failed condition otherwise.
func TrueDuplicates(dim Dimension, a, b *core.Detection) error {
	if a.Sequence != b.Sequence {
		return fmt.Errorf("sequences differ (%s, %s)", a.Sequence, b.Sequence)
	}

	sameCharge := a.Charge == b.Charge
	samePTM := a.ModString() == b.ModString()
	sameScan := a.FirstScan == b.FirstScan

	switch dim {
	case DimensionPSM:
		if a.Algorithm == b.Algorithm {
			return fmt.Errorf("both identified by %s", a.Algorithm.NodeName())
		}
	case DimensionRT:
		if !sameCharge {
			return fmt.Errorf("charges differ (%d, %d)", a.Charge, b.Charge)
		}
		if !samePTM {
			return fmt.Errorf("modifications differ")
		}
		if sameScan {
			return fmt.Errorf("identical first scan %d", a.FirstScan)
		}
	case DimensionCharge:
		if sameCharge {
			return fmt.Errorf("identical charge %d", a.Charge)
		}
		if !samePTM {
			return fmt.Errorf("modifications differ")
		}
		if sameScan {
			return fmt.Errorf("identical first scan %d", a.FirstScan)
		}
	case DimensionPTM:
		if samePTM {
			return fmt.Errorf("identical modifications '%s'", a.ModString())
		}
		if !sameCharge {
			return fmt.Errorf("charges differ (%d, %d)", a.Charge, b.Charge)
		}
		if sameScan {
			return fmt.Errorf("identical first scan %d", a.FirstScan)
		}
	default:
		return fmt.Errorf("unknown dimension '%s'", dim)
	}
	return nil
}

// SelectRepresentative picks the representative of a duplicate group. Rows
// of the master algorithm come first, then the tie-break applies, then the
// lowest first scan and finally the lowest row id. The result depends only on
// the set of rows, not their order.
func SelectRepresentative(rows []*core.Detection, master core.Algorithm, tieBreak TieBreak) *core.Detection {
	return preferenceOrder(rows, master, tieBreak)[0]
}

// preferenceOrder returns a sorted copy of rows, most preferred first.
func preferenceOrder(rows []*core.Detection, master core.Algorithm, tieBreak TieBreak) []*core.Detection {
	sorted := append([]*core.Detection(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if am, bm := a.Algorithm == master, b.Algorithm == master; am != bm {
			return am
		}
		switch tieBreak {
		case TieBreakBestScore:
			if sa, sb := orMinusInf(a.Score()), orMinusInf(b.Score()); sa != sb {
				return sa > sb
			}
		case TieBreakMostIntense:
			if ia, ib := orMinusInf(a.PrecursorIntensity), orMinusInf(b.PrecursorIntensity); ia != ib {
				return ia > ib
			}
		}
		if a.FirstScan != b.FirstScan {
			return a.FirstScan < b.FirstScan
		}
		return a.ID < b.ID
	})
	return sorted
}

func orMinusInf(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}
