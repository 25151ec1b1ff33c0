package store

import "github.com/palantir/lead-enrichment-pipeline/internal/lead"

// Filter selects leads conjunctively. Zero fields do not constrain.
// Industry matches exactly, including case and whitespace. Size bounds are
// inclusive.
type Filter struct {
	Industry string
	MinSize  *int
	MaxSize  *int
}

// Validate rejects negative bounds and an inverted range.
func (f Filter) Validate() error {
	if f.MinSize != nil && *f.MinSize < 0 {
		return &FilterValidationError{Field: "min_size", Reason: "must not be negative"}
	}
	if f.MaxSize != nil && *f.MaxSize < 0 {
		return &FilterValidationError{Field: "max_size", Reason: "must not be negative"}
	}
	if f.MinSize != nil && f.MaxSize != nil && *f.MinSize > *f.MaxSize {
		return &FilterValidationError{Field: "min_size", Reason: "must not exceed max_size"}
	}
	return nil
}

// Matches reports whether l satisfies every set constraint.
func (f Filter) Matches(l lead.Lead) bool {
	if f.Industry != "" && l.Industry != f.Industry {
		return false
	}
	if f.MinSize != nil && l.Size < *f.MinSize {
		return false
	}
	if f.MaxSize != nil && l.Size > *f.MaxSize {
		return false
	}
	return true
}
