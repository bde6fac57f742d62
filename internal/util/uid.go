package util

import (
	"math/big"

	"github.com/google/uuid"
)

// uidNamespace scopes deterministic UIDs generated from seeds.
var uidNamespace = uuid.MustParse("8f0a3c1e-5b7d-4e2a-9c64-2d1f0e7b9a53")

// UUIDToUID converts a UUID into a DICOM UID under the 2.25 root (PS3.5 B.2).
func UUIDToUID(u uuid.UUID) string {
	n := new(big.Int).SetBytes(u[:])
	return "2.25." + n.String()
}

// NewUID returns a random DICOM UID.
func NewUID() string {
	return UUIDToUID(uuid.New())
}

// DeterministicUID returns a stable DICOM UID for the given seed string.
// The same seed always yields the same UID.
func DeterministicUID(seed string) string {
	return UUIDToUID(uuid.NewSHA1(uidNamespace, []byte(seed)))
}
