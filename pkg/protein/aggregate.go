package protein

import (
	"fmt"

	"gopkg.in/guregu/null.v3"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/rowstore"
)

// Condition names an experimental condition and its reporter channels.
type Condition struct {
	Name     string
	Channels []int
}

// Record is one protein with the pooled intensities of its peptides.
type Record struct {
	Protein  string
	Peptides []string
	// Intensities holds one list per condition, in condition order: all
	// peptides of the first channel, then all peptides of the next one.
	Intensities [][]float64

	PValue         null.Float
	AdjustedPValue null.Float
	FoldChange     null.Float
}

// Condition1 returns the intensities of the first condition.
func (r *Record) Condition1() []float64 {
	if len(r.Intensities) < 1 {
		return nil
	}
	return r.Intensities[0]
}

// Condition2 returns the intensities of the second condition.
func (r *Record) Condition2() []float64 {
	if len(r.Intensities) < 2 {
		return nil
	}
	return r.Intensities[1]
}

// Table is a protein-level table sorted by accession.
type Table []*Record

// Aggregate builds one record per protein of pm.
func Aggregate(pm map[string][]int, s *rowstore.Store, conditions []Condition) (Table, error) {
	if len(conditions) == 0 {
		return nil, &core.ConfigError{Field: "conditions", Message: "at least one condition is required"}
	}
	for _, c := range conditions {
		if len(c.Channels) == 0 {
			return nil, &core.ConfigError{Field: "conditions", Message: fmt.Sprintf("condition '%s' has no channels", c.Name)}
		}
		for _, ch := range c.Channels {
			if ch < 0 || ch >= s.NumChannels() {
				return nil, &core.ConfigError{
					Field:   "conditions",
					Message: fmt.Sprintf("condition '%s' uses channel %d, data has %d channels", c.Name, ch, s.NumChannels()),
				}
			}
		}
	}

	table := make(Table, 0, len(pm))
	for _, protein := range Proteins(pm) {
		rows, err := s.Rows(pm[protein])
		if err != nil {
			return nil, fmt.Errorf("protein %s: %w", protein, err)
		}
		rec := &Record{
			Protein:     protein,
			Peptides:    make([]string, len(rows)),
			Intensities: make([][]float64, len(conditions)),
		}
		for i, d := range rows {
			rec.Peptides[i] = d.Sequence
		}
		for i, c := range conditions {
			vals := make([]float64, 0, len(c.Channels)*len(rows))
			for _, ch := range c.Channels {
				for _, d := range rows {
					vals = append(vals, d.Intensities[ch])
				}
			}
			rec.Intensities[i] = vals
		}
		table = append(table, rec)
	}
	return table, nil
}
