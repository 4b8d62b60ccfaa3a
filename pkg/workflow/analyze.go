package workflow

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/analysis"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/config"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/protein"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/stats"
)

// Protein table variants.
const (
	VariantMin = "min"
	VariantMax = "max"
)

// Analysis holds the job-level results combining all experiments.
type Analysis struct {
	Min protein.Table // Proteins with uniquely assigned peptides only
	Max protein.Table // Proteins with shared peptides too

	// Channels labels the columns of Intensities as "experiment/channel".
	Channels []string
	// Intensities is the protein x channel matrix of mean peptide intensities,
	// with rows in Max order.
	Intensities *mat.Dense

	PCA     *analysis.PCAResult
	Linkage []analysis.Merge

	// Report is set only for jobs comparing exactly two conditions.
	Report *Report
}

// Report lists the differentially expressed proteins.
type Report struct {
	Min []*protein.Record // Sorted by adjusted p-value
	Max []*protein.Record

	// OnlyMin and OnlyMax list significant proteins missing from the other
	// variant's significant set.
	OnlyMin []string
	OnlyMax []string
}

// Analyze combines processed experiments into protein tables, runs the
// differential expression statistics and the exploratory analyses.
func Analyze(job *config.Job, experiments []*Experiment, log zerolog.Logger) (*Analysis, error) {
	center, err := stats.ParseCenter(job.FoldChange)
	if err != nil {
		return nil, err
	}

	out := &Analysis{}
	out.Min, err = combine(job.Conditions, experiments, func(e *Experiment) map[string][]int { return e.Mapping.Min })
	if err != nil {
		return nil, fmt.Errorf("min proteins: %w", err)
	}
	out.Max, err = combine(job.Conditions, experiments, func(e *Experiment) map[string][]int { return e.Mapping.Max })
	if err != nil {
		return nil, fmt.Errorf("max proteins: %w", err)
	}
	stats.DifferentialExpression(out.Min, center)
	stats.DifferentialExpression(out.Max, center)
	log.Info().
		Int("minProteins", len(out.Min)).
		Int("maxProteins", len(out.Max)).
		Msg("protein tables built")

	out.Channels, out.Intensities = channelMatrix(experiments, out.Max)
	if out.Intensities != nil {
		if out.PCA, err = analysis.PCA(out.Intensities, job.PCAComponents); err != nil {
			log.Warn().Err(err).Msg("skipping PCA")
		}
		if out.Linkage, err = analysis.WardLinkage(out.Intensities); err != nil {
			log.Warn().Err(err).Msg("skipping hierarchical clustering")
		}
	}

	if len(job.Conditions) == 2 {
		out.Report = report(out.Min, out.Max, job.Alpha, job.FoldThreshold)
		log.Info().
			Int("minDifferentials", len(out.Report.Min)).
			Int("maxDifferentials", len(out.Report.Max)).
			Msg("differential expression done")
	}
	return out, nil
}

// combine aggregates every experiment and joins the records by protein,
// concatenating the intensities of equally named conditions.
func combine(conditions []string, experiments []*Experiment, pick func(*Experiment) map[string][]int) (protein.Table, error) {
	position := make(map[string]int, len(conditions))
	for i, name := range conditions {
		position[name] = i
	}

	merged := make(map[string]*protein.Record)
	for _, e := range experiments {
		present := lo.Filter(e.Conditions, func(c protein.Condition, _ int) bool { return len(c.Channels) > 0 })
		if len(present) == 0 {
			continue
		}
		table, err := protein.Aggregate(pick(e), e.Store, present)
		if err != nil {
			return nil, fmt.Errorf("experiment %s: %w", e.Name, err)
		}
		for _, rec := range table {
			m, ok := merged[rec.Protein]
			if !ok {
				m = &protein.Record{Protein: rec.Protein, Intensities: make([][]float64, len(conditions))}
				merged[rec.Protein] = m
			}
			m.Peptides = append(m.Peptides, rec.Peptides...)
			for i, c := range present {
				k := position[c.Name]
				m.Intensities[k] = append(m.Intensities[k], rec.Intensities[i]...)
			}
		}
	}

	keys := lo.Keys(merged)
	sort.Strings(keys)
	table := make(protein.Table, len(keys))
	for i, k := range keys {
		rec := merged[k]
		rec.Peptides = lo.Uniq(rec.Peptides)
		sort.Strings(rec.Peptides)
		table[i] = rec
	}
	return table, nil
}

// channelMatrix averages the peptide intensities of every protein per
// channel. Proteins not detected in an experiment are missing there.
func channelMatrix(experiments []*Experiment, table protein.Table) ([]string, *mat.Dense) {
	var labels []string
	for _, e := range experiments {
		for _, ch := range e.Channels {
			labels = append(labels, e.Name+"/"+ch)
		}
	}
	if len(table) == 0 || len(labels) == 0 {
		return labels, nil
	}

	m := mat.NewDense(len(table), len(labels), nil)
	for i, rec := range table {
		col := 0
		for _, e := range experiments {
			ids := e.Mapping.Max[rec.Protein]
			rows, _ := e.Store.Rows(ids)
			for ch := range e.Channels {
				values := make([]float64, 0, len(rows))
				for _, d := range rows {
					if v := d.Intensities[ch]; !math.IsNaN(v) {
						values = append(values, v)
					}
				}
				v := math.NaN()
				if len(values) > 0 {
					v = stat.Mean(values, nil)
				}
				m.Set(i, col, v)
				col++
			}
		}
	}
	return labels, m
}

func report(minTable, maxTable protein.Table, alpha, foldThreshold float64) *Report {
	significant := func(t protein.Table) []*protein.Record {
		out := lo.Filter(t, func(r *protein.Record, _ int) bool {
			if !r.AdjustedPValue.Valid || r.AdjustedPValue.Float64 >= alpha || !r.FoldChange.Valid {
				return false
			}
			fc := r.FoldChange.Float64
			return fc >= foldThreshold || fc <= 1/foldThreshold
		})
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].AdjustedPValue.Float64 < out[j].AdjustedPValue.Float64
		})
		return out
	}
	names := func(rs []*protein.Record) []string {
		return lo.Map(rs, func(r *protein.Record, _ int) string { return r.Protein })
	}

	rep := &Report{Min: significant(minTable), Max: significant(maxTable)}
	onlyMin, onlyMax := lo.Difference(names(rep.Min), names(rep.Max))
	sort.Strings(onlyMin)
	sort.Strings(onlyMax)
	rep.OnlyMin, rep.OnlyMax = onlyMin, onlyMax
	return rep
}
