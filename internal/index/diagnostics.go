package index

import (
	"fmt"
	"sort"
	"strings"
)

type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "warning":
		*s = SeverityWarning
	case "error":
		*s = SeverityError
	default:
		return fmt.Errorf("unknown severity %q", b)
	}
	return nil
}

type Code string

const (
	CodeSyntaxError          Code = "SyntaxError"
	CodeDuplicateDeclaration Code = "DuplicateDeclaration"
	CodeUnresolvedReference  Code = "UnresolvedReference"
	CodeAmbiguousReference   Code = "AmbiguousReference"
	CodeIncompleteCrate      Code = "IncompleteCrate"
)

type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     Code     `json:"code"`
	ItemID   ItemID   `json:"item_id,omitempty"`
	Message  string   `json:"message"`
	Location Location `json:"location"`
}

// SortDiagnostics orders diagnostics by source position, then code, item
// and message.
func SortDiagnostics(ds []Diagnostic) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Location.File != b.Location.File {
			return a.Location.File < b.Location.File
		}
		if a.Location.StartLine != b.Location.StartLine {
			return a.Location.StartLine < b.Location.StartLine
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		return a.Message < b.Message
	})
}

// DuplicateError is returned by Insert when an item collides with an
// existing declaration. The index keeps the earliest location.
type DuplicateError struct {
	Key     string
	Kept    Location
	Dropped Location
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate declaration %s at %s (keeping %s)", e.Key, e.Dropped, e.Kept)
}

// IncompleteCrateError is returned by a strict Finalize when module files
// were missing.
type IncompleteCrateError struct {
	Modules []string
}

func (e *IncompleteCrateError) Error() string {
	return "incomplete crate: missing modules " + strings.Join(e.Modules, ", ")
}
