package core

import "math"

// Monoisotopic masses
const (
	MassWater  = 18.0105646837
	ProtonMass = 1.00727646688
)

// residueMasses maps amino acid one-letter codes to monoisotopic residue masses
var residueMasses = map[rune]float64{
	'G': 57.02146372,
	'A': 71.03711379,
	'S': 87.03202841,
	'P': 97.05276385,
	'V': 99.06841391,
	'T': 101.04767847,
	'C': 103.00918478,
	'L': 113.08406398,
	'I': 113.08406398,
	'N': 114.04292744,
	'D': 115.02694303,
	'Q': 128.05857751,
	'K': 128.09496302,
	'E': 129.04259309,
	'M': 131.04048491,
	'H': 137.05891186,
	'F': 147.06841391,
	'R': 156.10111103,
	'Y': 163.06332853,
	'W': 186.07931295,
}

// NeutralMass returns the monoisotopic mass of the modified peptide. It is
// NaN when a residue or a modification mass is unknown.
func (d *Detection) NeutralMass() float64 {
	mass := MassWater
	for _, aa := range d.Sequence {
		m, ok := residueMasses[aa]
		if !ok {
			return math.NaN()
		}
		mass += m
	}
	for _, mod := range d.Modifications {
		mass += mod.Mass
	}
	return mass
}

// MZ returns the theoretical precursor m/z at the detection's charge.
func (d *Detection) MZ() float64 {
	if d.Charge <= 0 {
		return math.NaN()
	}
	return (d.NeutralMass() + float64(d.Charge)*ProtonMass) / float64(d.Charge)
}
