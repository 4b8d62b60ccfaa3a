// Package workflow runs a configured job: every experiment is filtered,
// collapsed and mapped to proteins, then the experiments are combined for
// differential expression and exploratory analysis.
package workflow

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/analysis"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/collapse"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/config"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/filter"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/ledger"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/normalize"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/protein"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/reader/psm"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/rowstore"
)

// Experiment is one fully processed experiment.
type Experiment struct {
	Name     string
	Channels []string

	Store  *rowstore.Store
	Ledger *ledger.Ledger
	State  collapse.State

	// HighVariance maps representatives to their flagged channels.
	HighVariance map[int][]int
	// Uncorrected lists rows skipped by the isotopic correction.
	Uncorrected []int
	// Convergence is the trail reported by the normalizer.
	Convergence []float64

	Mapping     protein.Mapping
	Conditions  []protein.Condition // In job condition order, possibly without channels
	RTIsolation []analysis.RTIsolation
}

// Load reads the input file of an experiment.
func Load(e config.Experiment) (*rowstore.Store, error) {
	modDB, err := e.ModDatabase()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(e.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to open data: %w", err)
	}
	defer f.Close()

	s, err := psm.ReadAll(f, e.ReaderOptions(modDB))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Data, err)
	}
	return s, nil
}

// Process runs the per-experiment steps on raw: pre-filters, isotopic
// correction, collapse, normalization and protein mapping. raw is not
// modified. conditions is the job's condition order.
func Process(e config.Experiment, raw *rowstore.Store, conditions []string, log zerolog.Logger) (*Experiment, error) {
	log = log.With().Str("experiment", e.Name).Logger()

	fcfg, err := e.FilterConfig()
	if err != nil {
		return nil, err
	}
	ccfg, err := e.CollapseConfig()
	if err != nil {
		return nil, err
	}
	conds, err := e.ConditionChannels(conditions)
	if err != nil {
		return nil, err
	}
	correction, err := e.CorrectionMatrix()
	if err != nil {
		return nil, err
	}
	normalizer, err := normalize.New(e.Normalization)
	if err != nil {
		return nil, err
	}
	pipeline, err := collapse.NewPipeline(ccfg, log)
	if err != nil {
		return nil, err
	}

	out := &Experiment{
		Name:       e.Name,
		Channels:   e.Channels,
		Ledger:     ledger.New(),
		Conditions: conds,
	}
	log.Info().Int("detections", raw.Len()).Msg("processing experiment")

	filtered, removed, err := fcfg.Apply(raw, log)
	if err != nil {
		return nil, err
	}
	out.Ledger.Append(removed...)

	if correction != nil {
		uncorrected, err := filter.IsotopicCorrection(filtered, correction, log)
		if err != nil {
			return nil, err
		}
		out.Uncorrected = uncorrected
	}

	res, err := pipeline.Run(filtered)
	if err != nil {
		return nil, err
	}
	out.Ledger.Merge(res.Ledger)
	out.Store = res.Store
	out.State = res.State
	out.HighVariance = res.HighVariance

	if m, ids := out.Store.Matrix(); m != nil {
		norm, err := normalizer.Normalize(m)
		if err != nil {
			return nil, fmt.Errorf("%s normalization: %w", normalizer.Name(), err)
		}
		if err := out.Store.SetMatrix(norm.Matrix, ids); err != nil {
			return nil, fmt.Errorf("%s normalization: %w", normalizer.Name(), err)
		}
		out.Convergence = norm.Convergence
	}

	out.Mapping = protein.Build(out.Store, log)
	out.RTIsolation = analysis.RTIsolationInfo(out.Ledger.Entries(string(collapse.DimensionRT)))

	log.Info().
		Int("detections", out.Store.Len()).
		Int("removed", out.Ledger.Len()).
		Int("proteins", len(out.Mapping.Max)).
		Stringer("state", out.State).
		Msg("experiment processed")
	return out, nil
}
