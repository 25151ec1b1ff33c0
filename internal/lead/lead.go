// Package lead holds the records that flow through enrichment and into the
// queryable store.
package lead

import (
	"strings"
	"time"
)

// RawRecord is one input row as produced by an external data source.
// It carries no enrichment fields and is never mutated once read.
type RawRecord struct {
	// ID is the identity supplied by the source (or the 1-based row number
	// when the source has none). It is used to report failures.
	ID       int64
	Name     string
	Company  string
	Industry string
	Size     int
	Source   string
}

// Quality is the categorical lead quality label.
type Quality string

const (
	QualityHigh   Quality = "High"
	QualityMedium Quality = "Medium"
	QualityLow    Quality = "Low"
)

// Qualities lists the valid labels in canonical order.
func Qualities() []Quality {
	return []Quality{QualityHigh, QualityMedium, QualityLow}
}

// ParseQuality matches s against the three labels, ignoring case and
// surrounding whitespace. Anything else is rejected.
func ParseQuality(s string) (Quality, bool) {
	s = strings.TrimSpace(s)
	for _, q := range Qualities() {
		if strings.EqualFold(s, string(q)) {
			return q, true
		}
	}
	return "", false
}

// Valid reports whether q is one of the canonical labels.
func (q Quality) Valid() bool {
	return q == QualityHigh || q == QualityMedium || q == QualityLow
}

// Status flags how far enrichment got for a persisted lead.
type Status string

const (
	StatusRaw      Status = "raw"
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
)

// Lead is a persisted, potentially-enriched company contact record.
type Lead struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Company          string    `json:"company"`
	Industry         string    `json:"industry"`
	Size             int       `json:"size"`
	Source           string    `json:"source"`
	Summary          *string   `json:"summary"`
	LeadQuality      *Quality  `json:"lead_quality"`
	EnrichmentStatus Status    `json:"enrichment_status"`
	CreatedAt        time.Time `json:"created_at"`
}

// FromRaw builds an unenriched lead from a raw record. Store-owned fields
// (ID, CreatedAt) are left zero.
func FromRaw(r RawRecord) Lead {
	return Lead{
		Name:             r.Name,
		Company:          r.Company,
		Industry:         r.Industry,
		Size:             r.Size,
		Source:           r.Source,
		EnrichmentStatus: StatusRaw,
	}
}

// Clone returns l with its optional enrichment fields copied, so the result
// shares no memory with l.
func (l Lead) Clone() Lead {
	if l.Summary != nil {
		v := *l.Summary
		l.Summary = &v
	}
	if l.LeadQuality != nil {
		q := *l.LeadQuality
		l.LeadQuality = &q
	}
	return l
}

// DeriveStatus computes the enrichment status from which fields are present.
func (l Lead) DeriveStatus() Status {
	switch {
	case l.Summary != nil && l.LeadQuality != nil:
		return StatusComplete
	case l.Summary == nil && l.LeadQuality == nil:
		return StatusRaw
	default:
		return StatusPartial
	}
}

// Event is an append-only record of a user action.
type Event struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Action     string    `json:"action"`
	Metadata   Metadata  `json:"metadata"`
	OccurredAt time.Time `json:"occurred_at"`
}
