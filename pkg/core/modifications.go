package core

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Modification is one post-translational modification descriptor of a PSM.
type Modification struct {
	Site     string  // "N-Term", "C-Term" or residue+position such as "K8"
	Position int     // 0-based residue position; -1 for N-term, len(seq) for C-term
	Name     string  // Unimod name (e.g. "TMT6plex", "Oxidation")
	Mass     float64 // Mass shift; NaN when the name is not in the database
}

// String returns the descriptor in Proteome Discoverer format, e.g. "K8(TMT6plex)".
func (m Modification) String() string {
	return fmt.Sprintf("%s(%s)", m.Site, m.Name)
}

// ModDatabase stores modification definitions
type ModDatabase struct {
	mods map[string]float64 // name -> mass shift
}

// NewModDatabase creates an empty modification database
func NewModDatabase() *ModDatabase {
	return &ModDatabase{
		mods: make(map[string]float64),
	}
}

// LoadFromCSV loads modifications from a CSV file (format: mod,massshift[,aa])
func (db *ModDatabase) LoadFromCSV(r io.Reader) error {
	scanner := bufio.NewScanner(r)

	// header
	scanner.Scan()

	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			return fmt.Errorf("line %d: invalid format, expected at least 2 comma-separated fields", lineNum)
		}

		mass, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid mass value '%s': %w", lineNum, parts[1], err)
		}
		db.mods[strings.TrimSpace(parts[0])] = mass
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading CSV: %w", err)
	}
	return nil
}

// GetMass returns the mass shift for a modification name
func (db *ModDatabase) GetMass(name string) (float64, bool) {
	mass, ok := db.mods[name]
	return mass, ok
}

// Add adds or updates a modification
func (db *ModDatabase) Add(name string, mass float64) {
	db.mods[name] = mass
}

// ParseModifications parses a Proteome Discoverer modification string such as
// "N-Term(TMT6plex); K8(TMT6plex); M3(Oxidation)". The descriptor order of the
// input is preserved. Names missing from the database get a NaN mass.
func (db *ModDatabase) ParseModifications(modStr string, sequence string) ([]Modification, error) {
	modStr = strings.TrimSpace(modStr)
	if modStr == "" {
		return nil, nil
	}

	var mods []Modification
	for _, part := range strings.Split(modStr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		open := strings.Index(part, "(")
		if open <= 0 || !strings.HasSuffix(part, ")") {
			return nil, fmt.Errorf("invalid modification format '%s', expected 'site(name)'", part)
		}
		site := strings.TrimSpace(part[:open])
		name := strings.TrimSpace(part[open+1 : len(part)-1])
		if name == "" {
			return nil, fmt.Errorf("invalid modification format '%s', empty name", part)
		}

		position, err := parseSite(site, sequence)
		if err != nil {
			return nil, fmt.Errorf("invalid site '%s': %w", site, err)
		}

		mass, ok := db.GetMass(name)
		if !ok {
			mass = math.NaN()
		}
		mods = append(mods, Modification{
			Site:     site,
			Position: position,
			Name:     name,
			Mass:     mass,
		})
	}

	return mods, nil
}

// parseSite converts a site such as "K8", "N-Term" or "C-Term" to a 0-based position.
func parseSite(site string, sequence string) (int, error) {
	switch strings.ToLower(site) {
	case "n-term":
		return -1, nil
	case "c-term":
		return len(sequence), nil
	}

	posStr := strings.TrimLeft(site, "ACDEFGHIKLMNPQRSTVWY")
	pos, err := strconv.Atoi(posStr)
	if err != nil {
		return 0, fmt.Errorf("invalid position number: %w", err)
	}
	if pos < 1 {
		return 0, fmt.Errorf("position must be 1-based, got %d", pos)
	}
	return pos - 1, nil
}

// DefaultModDatabase returns a ModDatabase pre-loaded with the modifications
// commonly reported for isobaric-labelled runs.
func DefaultModDatabase() *ModDatabase {
	db := NewModDatabase()

	db.Add("Acetyl", 42.010565)
	db.Add("Amidated", -0.984016)
	db.Add("Carbamidomethyl", 57.021464)
	db.Add("Carbamyl", 43.005814)
	db.Add("Deamidated", 0.984016)
	db.Add("Dehydrated", -18.010565)
	db.Add("Dimethyl", 28.0313)
	db.Add("Gln->pyro-Glu", -17.026549)
	db.Add("Glu->pyro-Glu", -18.010565)
	db.Add("Methyl", 14.01565)
	db.Add("Oxidation", 15.994915)
	db.Add("Phospho", 79.966331)
	db.Add("Propionamide", 71.037114)
	db.Add("Trimethyl", 42.04695)
	db.Add("TMT", 229.162932)
	db.Add("TMT6plex", 229.162932)
	db.Add("TMT10plex", 229.162932)
	db.Add("TMT11plex", 229.162932)
	db.Add("TMTpro", 304.207146)
	db.Add("iTRAQ4plex", 144.102063)
	db.Add("iTRAQ8plex", 304.205360)

	return db
}
