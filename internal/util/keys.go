package util

import (
	"strings"
	"unicode"
)

// ArchiveExt is the file extension of persisted case archives.
const ArchiveExt = ".h5"

// ArchiveKey turns an ROI name into a dataset name usable at the root of an
// archive. Path separators and control characters become underscores,
// surrounding whitespace is trimmed. Returns "" if nothing usable remains.
func ArchiveKey(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || unicode.IsControl(r):
			b.WriteRune('_')
		case r == '.' && b.Len() == 0:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CaseFileName returns the archive file name for a case identifier.
// Characters that are unsafe in file names are replaced so distinct
// identifiers from the same cohort stay distinct.
func CaseFileName(caseID string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(caseID) {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|' || unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	id := b.String()
	if id == "" || id == "." || id == ".." {
		id = "_"
	}
	return id + ArchiveExt
}

// CaseIDFromFileName is the inverse of CaseFileName for well-formed names.
func CaseIDFromFileName(name string) string {
	return strings.TrimSuffix(name, ArchiveExt)
}
