package collapse

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/group"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/ledger"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/rowstore"
)

// State is the position of a data set in the collapse sequence.
type State int

const (
	StateRaw State = iota
	StatePSMCollapsed
	StateRTCollapsed
	StateChargeCollapsed
	StatePTMCollapsed
)

func (s State) String() string {
	switch s {
	case StateRaw:
		return "Raw"
	case StatePSMCollapsed:
		return "PSMCollapsed"
	case StateRTCollapsed:
		return "RTCollapsed"
	case StateChargeCollapsed:
		return "ChargeCollapsed"
	case StatePTMCollapsed:
		return "PTMCollapsed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// stages lists the transitions in the only order they may run.
var stages = []struct {
	dim  Dimension
	next State
}{
	{DimensionPSM, StatePSMCollapsed},
	{DimensionRT, StateRTCollapsed},
	{DimensionCharge, StateChargeCollapsed},
	{DimensionPTM, StatePTMCollapsed},
}

// Result is the outcome of a full pipeline run.
type Result struct {
	Store  *rowstore.Store
	Ledger *ledger.Ledger
	State  State
	// HighVariance maps representative row ids to the channels flagged by the
	// variance check, across all stages.
	HighVariance map[int][]int
}

// Pipeline runs the collapse stages for one experiment.
type Pipeline struct {
	cfg      Config
	combiner *Combiner
	log      zerolog.Logger
}

// NewPipeline validates cfg and creates a pipeline.
func NewPipeline(cfg Config, log zerolog.Logger) (*Pipeline, error) {
	if cfg.TieBreak == "" {
		cfg.TieBreak = TieBreakFirstScan
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		combiner: NewCombiner(cfg.Policy, cfg.MasterAlgorithm, cfg.MaxRelativeVariance, log),
		log:      log,
	}, nil
}

// Enabled reports whether the stage for dim is switched on.
func (p *Pipeline) Enabled(dim Dimension) bool {
	switch dim {
	case DimensionPSM:
		return p.cfg.EnablePSM
	case DimensionRT:
		return p.cfg.EnableRT
	case DimensionCharge:
		return p.cfg.EnableCharge
	case DimensionPTM:
		return p.cfg.EnablePTM
	}
	return false
}

// Keys returns the grouping columns of the stage for dim. Without the PSM
// stage, rows of different algorithms are never merged by later stages.
func (p *Pipeline) Keys(dim Dimension) []core.Column {
	var keys []core.Column
	switch dim {
	case DimensionPSM:
		return []core.Column{core.ColumnSequence, core.ColumnFirstScan}
	case DimensionRT:
		keys = []core.Column{core.ColumnSequence, core.ColumnCharge, core.ColumnModifications}
	case DimensionCharge:
		keys = []core.Column{core.ColumnSequence, core.ColumnModifications}
	case DimensionPTM:
		keys = []core.Column{core.ColumnSequence, core.ColumnCharge}
	}
	if !p.cfg.EnablePSM {
		keys = append(keys, core.ColumnAlgorithm)
	}
	return keys
}

// Run applies every enabled stage in order. The input store is not modified.
func (p *Pipeline) Run(in *rowstore.Store) (*Result, error) {
	res := &Result{
		Store:        in,
		Ledger:       ledger.New(),
		State:        StateRaw,
		HighVariance: make(map[int][]int),
	}
	for _, st := range stages {
		if !p.Enabled(st.dim) {
			res.State = st.next
			continue
		}
		out, entries, flagged, err := p.collapse(st.dim, res.Store)
		if err != nil {
			return nil, err
		}
		if st.dim == DimensionPSM && p.cfg.Exclusive {
			var dropped []ledger.Entry
			out, dropped, err = p.dropNonMaster(out)
			if err != nil {
				return nil, err
			}
			entries = append(entries, dropped...)
		}
		for id, ch := range flagged {
			res.HighVariance[id] = ch
		}
		p.log.Info().
			Str("stage", string(st.dim)).
			Int("removed", len(entries)).
			Int("remaining", out.Len()).
			Msg("collapse stage done")

		res.Store = out
		res.Ledger.Append(entries...)
		res.State = st.next
	}
	if res.Store == in {
		res.Store = in.Clone()
	}
	return res, nil
}

// Collapse runs a single stage over a copy of in and returns the collapsed
// copy together with the ledger entries of the removed rows.
func (p *Pipeline) Collapse(dim Dimension, in *rowstore.Store) (*rowstore.Store, []ledger.Entry, error) {
	out, entries, _, err := p.collapse(dim, in)
	return out, entries, err
}

func (p *Pipeline) collapse(dim Dimension, in *rowstore.Store) (*rowstore.Store, []ledger.Entry, map[int][]int, error) {
	out := in.Clone()
	part, err := group.Partition(out, out.IDs(), p.Keys(dim))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("grouping %s candidates: %w", dim, err)
	}

	resolver := NewResolver(dim, p.cfg.MasterAlgorithm, p.cfg.TieBreak)
	dups, err := resolver.Resolve(out, part.Groups)
	if err != nil {
		return nil, nil, nil, err
	}

	var (
		entries []ledger.Entry
		drop    []int
		flagged = make(map[int][]int)
	)
	for _, g := range dups {
		rows, err := out.Rows(g.Members())
		if err != nil {
			return nil, nil, nil, err
		}
		combined, err := p.combiner.Combine(rows, g.Representative)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("combining group of row %d: %w", g.Representative, err)
		}
		if len(combined.HighVarianceChannels) > 0 {
			flagged[g.Representative] = combined.HighVarianceChannels
		}

		degeneracy := 0
		for _, d := range rows {
			degeneracy += d.Degeneracy
		}
		for _, d := range rows[1:] {
			entries = append(entries, ledger.Merged(string(dim), d, g.Representative, p.cfg.ColumnsToSave))
		}
		if err := out.SetIntensities(g.Representative, combined.Intensities); err != nil {
			return nil, nil, nil, err
		}
		if err := out.SetDegeneracy(g.Representative, degeneracy); err != nil {
			return nil, nil, nil, err
		}
		drop = append(drop, g.Duplicates...)
	}
	if err := out.Delete(drop...); err != nil {
		return nil, nil, nil, err
	}
	return out, entries, flagged, nil
}

// dropNonMaster removes every row not identified by the master algorithm.
func (p *Pipeline) dropNonMaster(in *rowstore.Store) (*rowstore.Store, []ledger.Entry, error) {
	out := in.Clone()
	var (
		entries []ledger.Entry
		drop    []int
	)
	for _, id := range out.IDs() {
		d, _ := out.Get(id)
		if d.Algorithm == p.cfg.MasterAlgorithm {
			continue
		}
		entries = append(entries, ledger.Filtered(string(DimensionPSM), d, p.cfg.ColumnsToSave))
		drop = append(drop, id)
	}
	if err := out.Delete(drop...); err != nil {
		return nil, nil, err
	}
	return out, entries, nil
}
