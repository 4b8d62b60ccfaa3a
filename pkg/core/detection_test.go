package core

import (
	"errors"
	"math"
	"testing"
)

func validDetection() *Detection {
	return &Detection{
		ID:            1,
		Sequence:      "PEPTIDEK",
		Charge:        2,
		FirstScan:     1001,
		Algorithm:     AlgorithmMascot,
		RetentionTime: 31.2,
		IonsScore:     42,
		XCorr:         math.NaN(),
		Intensities:   []float64{100, 200, 300},
		Degeneracy:    1,
	}
}

func TestDetectionValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Detection)
		wantErr bool
	}{
		{"valid detection", func(d *Detection) {}, false},
		{"missing sequence", func(d *Detection) { d.Sequence = "" }, true},
		{"zero charge", func(d *Detection) { d.Charge = 0 }, true},
		{"missing first scan", func(d *Detection) { d.FirstScan = 0 }, true},
		{"unknown algorithm", func(d *Detection) { d.Algorithm = "comet" }, true},
		{"wrong channel count", func(d *Detection) { d.Intensities = []float64{1, 2} }, true},
		{"negative intensity", func(d *Detection) { d.Intensities[1] = -5 }, true},
		{"infinite intensity", func(d *Detection) { d.Intensities[0] = math.Inf(1) }, true},
		{"missing intensity is allowed", func(d *Detection) { d.Intensities[2] = math.NaN() }, false},
		{"zero degeneracy", func(d *Detection) { d.Degeneracy = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDetection()
			tt.mutate(d)
			err := d.Validate(3)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			var verr *ValidationError
			if err != nil && !errors.As(err, &verr) {
				t.Errorf("Validate() returned %T, want *ValidationError", err)
			}
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"mascot", AlgorithmMascot, false},
		{"Mascot (A6)", AlgorithmMascot, false},
		{"SEQUEST", AlgorithmSequest, false},
		{"Sequest HT (A2)", AlgorithmSequest, false},
		{"comet", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAlgorithm(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAlgorithm(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDetectionScore(t *testing.T) {
	d := validDetection()
	if got := d.Score(); got != 42 {
		t.Errorf("Mascot score = %v, want 42", got)
	}

	d.Algorithm = AlgorithmSequest
	d.XCorr = 3.5
	if got := d.Score(); got != 3.5 {
		t.Errorf("Sequest score = %v, want 3.5", got)
	}
}

func TestTotalIntensitySkipsMissing(t *testing.T) {
	d := validDetection()
	d.Intensities = []float64{10, math.NaN(), 5}
	if got := d.TotalIntensity(); got != 15 {
		t.Errorf("TotalIntensity() = %v, want 15", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	d := validDetection()
	d.MasterProteins = []string{"P1"}
	c := d.Clone()
	c.Intensities[0] = 999
	c.MasterProteins[0] = "P2"

	if d.Intensities[0] != 100 {
		t.Errorf("clone shares intensity storage with original")
	}
	if d.MasterProteins[0] != "P1" {
		t.Errorf("clone shares protein storage with original")
	}
}

func TestDetectionKey(t *testing.T) {
	d := validDetection()
	d.Modifications = []Modification{{Site: "N-Term", Position: -1, Name: "TMT6plex"}, {Site: "K8", Position: 7, Name: "TMT6plex"}}

	tests := []struct {
		col  Column
		want string
	}{
		{ColumnSequence, "PEPTIDEK"},
		{ColumnCharge, "2"},
		{ColumnFirstScan, "1001"},
		{ColumnModifications, "N-Term(TMT6plex); K8(TMT6plex)"},
		{ColumnAlgorithm, "Mascot (A6)"},
		{ColumnXCorr, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.col), func(t *testing.T) {
			if got := d.Key(tt.col); got != tt.want {
				t.Errorf("Key(%s) = %q, want %q", tt.col, got, tt.want)
			}
		})
	}
}

func TestModStringIgnoresInputOrder(t *testing.T) {
	a, b := validDetection(), validDetection()
	a.Modifications = []Modification{
		{Site: "K8", Position: 7, Name: "TMT6plex"},
		{Site: "M3", Position: 2, Name: "Oxidation"},
		{Site: "N-Term", Position: -1, Name: "TMT6plex"},
	}
	b.Modifications = []Modification{a.Modifications[2], a.Modifications[0], a.Modifications[1]}

	want := "N-Term(TMT6plex); M3(Oxidation); K8(TMT6plex)"
	if got := a.ModString(); got != want {
		t.Errorf("ModString() = %q, want %q", got, want)
	}
	if a.Key(ColumnModifications) != b.Key(ColumnModifications) {
		t.Errorf("keys differ: %q, %q", a.Key(ColumnModifications), b.Key(ColumnModifications))
	}
	if a.Modifications[0].Site != "K8" {
		t.Errorf("ModString reordered the detection's modifications")
	}
}

func TestParseColumn(t *testing.T) {
	c, err := ParseColumn("rt [min]")
	if err != nil {
		t.Fatalf("ParseColumn() error = %v", err)
	}
	if c != ColumnRetentionTime {
		t.Errorf("ParseColumn() = %q, want %q", c, ColumnRetentionTime)
	}

	if _, err := ParseColumn("Not A Column"); err == nil {
		t.Error("expected error for unknown column")
	}
}

func TestInvariantViolationMessage(t *testing.T) {
	err := &InvariantViolation{Stage: "RT", Rows: []int{3, 7}, Message: "identical first scan"}
	want := "invariant violation in RT stage (rows 3, 7): identical first scan"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
