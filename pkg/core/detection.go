// Package core provides the detection row model, column projections and error
// types shared by the CONSTANd++ processing packages.
package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Algorithm identifies the PSM search engine that produced a detection.
type Algorithm string

const (
	AlgorithmMascot  Algorithm = "mascot"
	AlgorithmSequest Algorithm = "sequest"
)

// Proteome Discoverer node names as they appear in the "Identifying Node" column.
const (
	mascotNodeName  = "Mascot (A6)"
	sequestNodeName = "Sequest HT (A2)"
)

// ParseAlgorithm accepts either the short algorithm name or the Proteome
// Discoverer node name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mascot", strings.ToLower(mascotNodeName):
		return AlgorithmMascot, nil
	case "sequest", "sequest ht", strings.ToLower(sequestNodeName):
		return AlgorithmSequest, nil
	}
	return "", fmt.Errorf("unknown PSM algorithm '%s', expected mascot or sequest", s)
}

// Valid reports whether a is one of the two supported algorithms.
func (a Algorithm) Valid() bool {
	return a == AlgorithmMascot || a == AlgorithmSequest
}

// NodeName returns the Proteome Discoverer node name for a.
func (a Algorithm) NodeName() string {
	switch a {
	case AlgorithmMascot:
		return mascotNodeName
	case AlgorithmSequest:
		return sequestNodeName
	}
	return string(a)
}

// Detection is one peptide-spectrum match observation.
type Detection struct {
	// Identity
	ID        int // Row id assigned by the importer, stable for the whole run
	Sequence  string
	Charge    int
	FirstScan int // Unique per raw detection

	Modifications []Modification
	Algorithm     Algorithm

	RetentionTime      float64 // minutes
	PrecursorIntensity float64 // MS1 intensity
	IonsScore          float64 // Mascot score, NaN when absent
	XCorr              float64 // Sequest score, NaN when absent

	// Pre-filter inputs
	Confidence            string
	IsolationInterference float64
	QuanInfo              string

	// Reporter intensities, one per isobaric channel. NaN marks a missing value.
	Intensities []float64

	MasterProteins []string

	// Number of original detections collapsed into this row.
	Degeneracy int
}

// Name returns the detection name in format "Sequence/Charge".
func (d *Detection) Name() string {
	return fmt.Sprintf("%s/%d", d.Sequence, d.Charge)
}

// ModString returns the modifications ordered by position and name, joined
// by "; ". Equal modification sets give equal strings whatever the input order.
func (d *Detection) ModString() string {
	if len(d.Modifications) == 0 {
		return ""
	}
	mods := append([]Modification(nil), d.Modifications...)
	sort.SliceStable(mods, func(i, j int) bool {
		if mods[i].Position != mods[j].Position {
			return mods[i].Position < mods[j].Position
		}
		return mods[i].Name < mods[j].Name
	})
	parts := make([]string, len(mods))
	for i, mod := range mods {
		parts[i] = mod.String()
	}
	return strings.Join(parts, "; ")
}

// Score returns the PSM score of the algorithm that identified d.
func (d *Detection) Score() float64 {
	if d.Algorithm == AlgorithmSequest {
		return d.XCorr
	}
	return d.IonsScore
}

// TotalIntensity returns the sum of the non-missing reporter intensities.
func (d *Detection) TotalIntensity() float64 {
	total := 0.0
	for _, v := range d.Intensities {
		if !math.IsNaN(v) {
			total += v
		}
	}
	return total
}

// Clone returns a deep copy of d.
func (d *Detection) Clone() *Detection {
	c := *d
	c.Modifications = append([]Modification(nil), d.Modifications...)
	c.Intensities = append([]float64(nil), d.Intensities...)
	c.MasterProteins = append([]string(nil), d.MasterProteins...)
	return &c
}

// ValidationError represents an error found during detection validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Validate checks that a detection meets the requirements for collapsing.
// nChannels is the number of reporter channels every row must carry.
func (d *Detection) Validate(nChannels int) error {
	var errs []string

	if d.Sequence == "" {
		errs = append(errs, "sequence is required")
	}
	if d.Charge <= 0 {
		errs = append(errs, "charge must be positive")
	}
	if d.FirstScan <= 0 {
		errs = append(errs, "first scan must be positive")
	}
	if !d.Algorithm.Valid() {
		errs = append(errs, fmt.Sprintf("unknown identifying algorithm '%s'", d.Algorithm))
	}
	if len(d.Intensities) != nChannels {
		errs = append(errs, fmt.Sprintf("expected %d reporter intensities, got %d", nChannels, len(d.Intensities)))
	}
	for i, v := range d.Intensities {
		if math.IsInf(v, 0) {
			errs = append(errs, fmt.Sprintf("channel %d has infinite intensity", i))
		}
		if v < 0 {
			errs = append(errs, fmt.Sprintf("channel %d intensity must be non-negative", i))
		}
	}
	if d.Degeneracy < 1 {
		errs = append(errs, "degeneracy must be at least 1")
	}

	if len(errs) > 0 {
		return &ValidationError{
			Field:   fmt.Sprintf("Detection %d", d.ID),
			Message: strings.Join(errs, "; "),
		}
	}
	return nil
}
