// Package collapse removes redundant PSM detections. Duplicates caused by
// multiple PSM algorithms, retention times, charge states and modifications
// are merged, in that order, into one representative detection each.
package collapse

import (
	"fmt"
	"strings"

	"gopkg.in/guregu/null.v3"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
)

// Dimension is the attribute a collapse stage removes redundancy over. Its
// value doubles as the ledger stage name.
type Dimension string

const (
	DimensionPSM    Dimension = "PSMAlgo"
	DimensionRT     Dimension = "RT"
	DimensionCharge Dimension = "charge"
	DimensionPTM    Dimension = "PTM"
)

// Policy selects how the intensities of a duplicate group are merged.
type Policy string

const (
	PolicyMean            Policy = "mean"
	PolicyMedian          Policy = "median"
	PolicyGeometricMedian Policy = "geometricMedian"
	PolicyWeighted        Policy = "weighted"
	PolicyBestMatch       Policy = "bestMatch"
	PolicyMostIntense     Policy = "mostIntense"
)

var policies = []Policy{PolicyMean, PolicyMedian, PolicyGeometricMedian, PolicyWeighted, PolicyBestMatch, PolicyMostIntense}

// ParsePolicy resolves a policy name case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	for _, p := range policies {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, nil
		}
	}
	return "", &core.ConfigError{
		Field:   "policy",
		Message: fmt.Sprintf("invalid intensity combination policy '%s'", s),
	}
}

// TieBreak orders master-algorithm rows when choosing a representative.
type TieBreak string

const (
	TieBreakFirstScan   TieBreak = "firstScan"
	TieBreakBestScore   TieBreak = "bestScore"
	TieBreakMostIntense TieBreak = "mostIntense"
)

// ParseTieBreak resolves a tie-break name case-insensitively. An empty name
// selects TieBreakFirstScan.
func ParseTieBreak(s string) (TieBreak, error) {
	if strings.TrimSpace(s) == "" {
		return TieBreakFirstScan, nil
	}
	for _, tb := range []TieBreak{TieBreakFirstScan, TieBreakBestScore, TieBreakMostIntense} {
		if strings.EqualFold(string(tb), strings.TrimSpace(s)) {
			return tb, nil
		}
	}
	return "", &core.ConfigError{
		Field:   "tieBreak",
		Message: fmt.Sprintf("invalid representative tie-break '%s'", s),
	}
}

// Config holds the collapse settings for one experiment.
type Config struct {
	MasterAlgorithm core.Algorithm

	// Exclusive makes the PSM stage drop every non-master row, including
	// scans that only the other algorithm identified.
	Exclusive bool

	EnablePSM    bool
	EnableRT     bool
	EnableCharge bool
	EnablePTM    bool

	Policy   Policy
	TieBreak TieBreak

	// MaxRelativeVariance disables the variance check when invalid.
	MaxRelativeVariance null.Float

	// ColumnsToSave are projected into the ledger for every removed row.
	ColumnsToSave []core.Column
}

// Validate checks the configuration before any row is touched.
func (c *Config) Validate() error {
	if !c.MasterAlgorithm.Valid() {
		return &core.ConfigError{
			Field:   "masterAlgorithm",
			Message: fmt.Sprintf("invalid master PSM algorithm '%s', pick mascot or sequest", c.MasterAlgorithm),
		}
	}
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	if _, err := ParseTieBreak(string(c.TieBreak)); err != nil {
		return err
	}
	if c.MaxRelativeVariance.Valid && !(c.MaxRelativeVariance.Float64 > 0) {
		return &core.ConfigError{
			Field:   "maxRelativeVariance",
			Message: "must be absent or greater than zero",
		}
	}
	// Charge and PTM predicates assume every same-charge, same-PTM pair was
	// already merged by the RT stage.
	if (c.EnableCharge || c.EnablePTM) && !c.EnableRT {
		return &core.ConfigError{
			Field:   "collapse",
			Message: "charge and PTM collapse require RT collapse",
		}
	}
	if c.Exclusive && !c.EnablePSM {
		return &core.ConfigError{
			Field:   "exclusive",
			Message: "exclusive mode requires PSM algorithm collapse",
		}
	}
	return nil
}
