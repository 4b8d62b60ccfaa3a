// Package filter provides detection pre-filters and intensity corrections
package filter

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/guregu/null.v3"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/ledger"
	"github.com/ChrisMcGann/CONSTANdpp/pkg/rowstore"
)

// Ledger stage names of the pre-filters.
const (
	StageMissing               = "missing"
	StageConfidence            = "confidence"
	StageIsolationInterference = "isolationInterference"
)

// Quan Info values marking detections without usable reporter ions.
const (
	noQuanValues = "NoQuanValues"
	noQuanLabels = "NoQuanLabels"
)

var confidenceLevels = map[string]int{"Low": 1, "Medium": 2, "High": 3}

// Config holds pre-filter configuration
type Config struct {
	EssentialColumns         []core.Column // Rows missing any of these are removed
	MinConfidence            string        // Low, Medium or High ("" = no filter)
	MaxIsolationInterference null.Float    // Percent in (0, 100) (invalid = no filter)
	ColumnsToSave            []core.Column // Projected into the ledger for removed rows
}

// Validate checks the filter settings.
func (c *Config) Validate() error {
	if c.MinConfidence != "" {
		if _, ok := confidenceLevels[c.MinConfidence]; !ok {
			return &core.ConfigError{
				Field:   "minConfidence",
				Message: fmt.Sprintf("illegal confidence '%s' (allowed: Low, Medium, High)", c.MinConfidence),
			}
		}
	}
	if c.MaxIsolationInterference.Valid {
		v := c.MaxIsolationInterference.Float64
		if !(v > 0 && v < 100) {
			return &core.ConfigError{
				Field:   "maxIsolationInterference",
				Message: fmt.Sprintf("must lie between 0 and 100, got %g", v),
			}
		}
	}
	return nil
}

// Apply runs all configured filters on a copy of s and returns it together
// with the ledger entries of the removed rows.
func (c *Config) Apply(s *rowstore.Store, log zerolog.Logger) (*rowstore.Store, []ledger.Entry, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	out := s.Clone()

	var all []ledger.Entry
	run := func(stage string, keep func(*core.Detection) (bool, error), extra ...core.Column) error {
		entries, err := removeWhere(out, stage, append(extra, c.ColumnsToSave...), keep)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			log.Warn().
				Str("stage", stage).
				Int("removed", len(entries)).
				Msg("detections removed by pre-filter")
		}
		all = append(all, entries...)
		return nil
	}

	if err := run(StageMissing, func(d *core.Detection) (bool, error) {
		return !Missing(d, c.EssentialColumns), nil
	}); err != nil {
		return nil, nil, err
	}

	// Filter by confidence
	if c.MinConfidence != "" {
		minimum := confidenceLevels[c.MinConfidence]
		if err := run(StageConfidence, func(d *core.Detection) (bool, error) {
			level, ok := confidenceLevels[d.Confidence]
			if !ok {
				return false, fmt.Errorf("row %d: illegal confidence '%s' (allowed: Low, Medium, High)", d.ID, d.Confidence)
			}
			return level >= minimum, nil
		}, core.ColumnConfidence); err != nil {
			return nil, nil, err
		}
	}

	// Filter by isolation interference
	if c.MaxIsolationInterference.Valid {
		threshold := c.MaxIsolationInterference.Float64
		if err := run(StageIsolationInterference, func(d *core.Detection) (bool, error) {
			return !(d.IsolationInterference > threshold), nil
		}, core.ColumnIsolationInterference); err != nil {
			return nil, nil, err
		}
	}

	return out, all, nil
}

// Missing reports whether d lacks a value in one of the essential columns,
// has neither PSM score, or carries no quantification values or labels.
func Missing(d *core.Detection, essential []core.Column) bool {
	for _, col := range essential {
		v, err := d.Value(col)
		if err != nil || v == nil {
			return true
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			return true
		}
	}
	if math.IsNaN(d.IonsScore) && math.IsNaN(d.XCorr) {
		return true
	}
	return d.QuanInfo == noQuanValues || d.QuanInfo == noQuanLabels
}

// removeWhere deletes every row for which keep returns false.
func removeWhere(s *rowstore.Store, stage string, columns []core.Column, keep func(*core.Detection) (bool, error)) ([]ledger.Entry, error) {
	var (
		entries []ledger.Entry
		drop    []int
	)
	for _, id := range s.IDs() {
		d, _ := s.Get(id)
		ok, err := keep(d)
		if err != nil {
			return nil, fmt.Errorf("%s filter: %w", stage, err)
		}
		if ok {
			continue
		}
		entries = append(entries, ledger.Filtered(stage, d, columns))
		drop = append(drop, id)
	}
	if err := s.Delete(drop...); err != nil {
		return nil, err
	}
	return entries, nil
}

// IsotopicCorrection corrects the reporter intensities of every row for
// isotopic impurities by solving correction * real = observed. Rows with a
// missing intensity cannot be corrected and are returned unchanged.
func IsotopicCorrection(s *rowstore.Store, correction mat.Matrix, log zerolog.Logger) (uncorrected []int, err error) {
	r, c := correction.Dims()
	if r != c || r != s.NumChannels() {
		return nil, &core.ConfigError{
			Field:   "isotopicCorrection",
			Message: fmt.Sprintf("matrix is %dx%d, data has %d channels", r, c, s.NumChannels()),
		}
	}

	var lu mat.LU
	lu.Factorize(correction)
	if lu.Det() == 0 {
		return nil, &core.ConfigError{Field: "isotopicCorrection", Message: "matrix is singular"}
	}

	corrected := mat.NewVecDense(r, nil)
	for _, id := range s.IDs() {
		d, _ := s.Get(id)
		if hasNaN(d.Intensities) {
			uncorrected = append(uncorrected, id)
			continue
		}
		observed := mat.NewVecDense(r, append([]float64(nil), d.Intensities...))
		if err := lu.SolveVecTo(corrected, false, observed); err != nil {
			return nil, fmt.Errorf("row %d: %w", id, err)
		}
		if err := s.SetIntensities(id, mat.Col(nil, 0, corrected)); err != nil {
			return nil, err
		}
	}
	if len(uncorrected) > 0 {
		log.Warn().
			Int("detections", len(uncorrected)).
			Msg("cannot correct isotope impurities for detections with missing reporter intensities, skipping those")
	}
	return uncorrected, nil
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
