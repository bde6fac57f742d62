package synth

import "math/rand/v2"

// SpecialCharsCordName is the SpinalCord ROI name written with the
// SpecialChars defect. Its archive dataset is "Spinal Cord_Canal".
const SpecialCharsCordName = " Spinal Cord/Canal "

// utf8CharacterSet is the SpecificCharacterSet of UTF-8 encoded instances.
const utf8CharacterSet = "ISO_IR 192"

var accentedFirstNamesMale = []string{
	"Jean-Pierre", "François", "André", "José", "Ángel",
	"Søren", "Björn", "Łukasz", "Jürgen", "O'Brien",
}

var accentedFirstNamesFemale = []string{
	"Marie-Claire", "Françoise", "Éléonore", "María", "Ángela",
	"Siân", "Zoë", "Renée", "Hélène", "O'Hara",
}

var accentedLastNames = []string{
	"Müller-Schmidt", "O'Connor", "D'Agostino", "García-López",
	"Björnsson", "Østergaard", "Çelik", "Škvorecký",
	"González", "Pérez-Rodríguez",
}

// accentedPatientName returns a PN value with apostrophes, hyphens and
// non-ASCII letters.
func accentedPatientName(sex string, rng *rand.Rand) string {
	first := accentedFirstNamesMale
	if sex == "F" {
		first = accentedFirstNamesFemale
	}
	return accentedLastNames[rng.IntN(len(accentedLastNames))] + "^" + first[rng.IntN(len(first))]
}

// declaredName returns the ROI name written for organ.
func declaredName(organ string, defects defectSet) string {
	if organ == ROISpinalCord && defects.has(SpecialChars) {
		return SpecialCharsCordName
	}
	return organ
}
