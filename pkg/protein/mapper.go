// Package protein maps collapsed peptides onto their master proteins and
// builds protein-level intensity tables.
package protein

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/rowstore"
)

// Mapping holds the protein to peptide row id maps of one data set.
type Mapping struct {
	// Min holds only peptides assigned to exactly one master protein.
	Min map[string][]int
	// Max additionally holds every shared peptide under each of its proteins.
	Max map[string][]int
	// Unassigned lists peptide rows without a master protein accession.
	Unassigned []int
}

// Build partitions the rows of s by their number of master protein
// accessions. Peptide ids keep the store order within each protein.
func Build(s *rowstore.Store, log zerolog.Logger) Mapping {
	m := Mapping{
		Min: make(map[string][]int),
		Max: make(map[string][]int),
	}
	for _, id := range s.IDs() {
		d, _ := s.Get(id)
		proteins := lo.Uniq(lo.Compact(d.MasterProteins))
		switch len(proteins) {
		case 0:
			m.Unassigned = append(m.Unassigned, id)
		case 1:
			m.Min[proteins[0]] = append(m.Min[proteins[0]], id)
			m.Max[proteins[0]] = append(m.Max[proteins[0]], id)
		default:
			for _, p := range proteins {
				m.Max[p] = append(m.Max[p], id)
			}
		}
	}
	if len(m.Unassigned) > 0 {
		log.Warn().
			Int("peptides", len(m.Unassigned)).
			Msg("peptides without master protein accession, omitting them from the analysis")
	}
	return m
}

// Proteins returns the sorted protein accessions of a map.
func Proteins(pm map[string][]int) []string {
	keys := lo.Keys(pm)
	sort.Strings(keys)
	return keys
}

// Shared returns the proteins of Max that have no uniquely assigned peptide.
func (m Mapping) Shared() []string {
	return lo.Filter(Proteins(m.Max), func(p string, _ int) bool {
		_, ok := m.Min[p]
		return !ok
	})
}
