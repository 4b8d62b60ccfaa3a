// Package group partitions detections into equivalence classes over an
// ordered list of key columns.
package group

import (
	"sort"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/rowstore"
)

// Result is a partition of the input ids. Every entry of Groups has at least
// two members; ids that end up alone are listed in Singletons.
type Result struct {
	Groups     [][]int
	Singletons []int
}

// Partition splits ids into classes whose members share the value of every
// column in keys. Refinement follows the column order, and only classes with
// more than one member are refined further.
//
// The output is independent of map iteration order: groups are ordered by the
// input position of their first member, members and singletons keep their
// input order.
func Partition(s *rowstore.Store, ids []int, keys []core.Column) (Result, error) {
	var res Result
	if len(ids) == 0 {
		return res, nil
	}

	pos := make(map[int]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}

	pending := [][]int{append([]int(nil), ids...)}
	if len(ids) == 1 {
		pending = nil
		res.Singletons = []int{ids[0]}
	}

	for _, col := range keys {
		var next [][]int
		for _, g := range pending {
			sub, err := s.GroupBy(g, col)
			if err != nil {
				return Result{}, err
			}
			for _, sg := range sub {
				if len(sg.IDs) == 1 {
					res.Singletons = append(res.Singletons, sg.IDs[0])
					continue
				}
				next = append(next, sg.IDs)
			}
		}
		pending = next
	}
	res.Groups = pending

	sort.Slice(res.Groups, func(i, j int) bool {
		return pos[res.Groups[i][0]] < pos[res.Groups[j][0]]
	})
	sort.Slice(res.Singletons, func(i, j int) bool {
		return pos[res.Singletons[i]] < pos[res.Singletons[j]]
	})
	return res, nil
}
