package util

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Package-level default RNG to avoid allocations when rng is nil
var defaultRNG = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))

var (
	// MaleFirstNames is the list of male first names used for phantom patients
	MaleFirstNames = []string{
		"James", "John", "Robert", "Michael", "William", "David", "Richard", "Joseph",
		"Thomas", "Charles", "Daniel", "Matthew", "Anthony", "Mark", "Paul", "Andrew",
		"Pierre", "Jean", "Louis", "Hugo", "Lucas", "Arthur", "Jules", "Nathan",
	}

	// FemaleFirstNames is the list of female first names used for phantom patients
	FemaleFirstNames = []string{
		"Mary", "Patricia", "Jennifer", "Linda", "Barbara", "Elizabeth", "Susan", "Jessica",
		"Sarah", "Karen", "Lisa", "Nancy", "Emma", "Olivia", "Alice", "Grace",
		"Marie", "Camille", "Chloe", "Lea", "Manon", "Ines", "Jade", "Louise",
	}

	// LastNames is the list of last names used for phantom patients
	LastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Miller", "Davis", "Wilson",
		"Anderson", "Taylor", "Moore", "Martin", "Clark", "Lewis", "Walker", "Young",
		"Bernard", "Dubois", "Durand", "Lefebvre", "Moreau", "Laurent", "Simon", "Michel",
	}
)

// GeneratePatientName generates a phantom patient name based on sex.
//
// Sex should be "M" or "F". Invalid values default to "F".
// If rng is nil, uses shared default RNG.
// Returns name in DICOM format: "LASTNAME^FIRSTNAME"
func GeneratePatientName(sex string, rng *rand.Rand) string {
	if rng == nil {
		rng = defaultRNG
	}

	var firstName string
	if sex == "M" {
		firstName = MaleFirstNames[rng.IntN(len(MaleFirstNames))]
	} else {
		firstName = FemaleFirstNames[rng.IntN(len(FemaleFirstNames))]
	}
	lastName := LastNames[rng.IntN(len(LastNames))]

	return lastName + "^" + firstName
}

// DefaultCasePrefix prefixes generated case identifiers.
const DefaultCasePrefix = "LCTSC-Synth"

// GenerateCaseID returns a cohort-style subject identifier, e.g. "LCTSC-Synth-S1-101".
// Site is 1-based, number is formatted on three digits.
func GenerateCaseID(prefix string, site, number int) string {
	if prefix == "" {
		prefix = DefaultCasePrefix
	}
	return fmt.Sprintf("%s-S%d-%03d", prefix, site, number)
}
