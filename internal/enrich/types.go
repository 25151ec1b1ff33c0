package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/palantir/lead-enrichment-pipeline/internal/annotator"
	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
)

// Field names an enrichment output column.
type Field string

const (
	FieldSummary Field = "summary"
	FieldQuality Field = "lead_quality"
)

// Value is the normalized output of one strategy for one record.
// For FieldQuality, Text holds the canonical label.
type Value struct {
	Field Field
	Text  string
}

// Quality returns the label for a FieldQuality value.
func (v Value) Quality() (lead.Quality, bool) {
	if v.Field != FieldQuality {
		return "", false
	}
	return lead.ParseQuality(v.Text)
}

// Strategy is a prompt-construction and response-normalization pair for one
// enrichment field. Both functions are pure.
type Strategy interface {
	Field() Field
	Prompt(rec lead.RawRecord) string
	Normalize(raw string) (Value, error)
}

var (
	// ErrEmptyEnrichment is returned when a completion normalizes to nothing.
	ErrEmptyEnrichment = errors.New("empty enrichment")
	// ErrAmbiguousLabel is returned when a quality completion is not exactly
	// one of the known labels.
	ErrAmbiguousLabel = errors.New("ambiguous label")
	// ErrUnknownField is returned by ParseFields for names it does not know.
	ErrUnknownField = errors.New("unknown enrichment field")
)

// Enricher runs one strategy against one record through an annotator.
type Enricher struct {
	annotator annotator.Annotator
	model     string
}

func New(a annotator.Annotator, model string) (*Enricher, error) {
	if a == nil {
		return nil, errors.New("enrich: annotator is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("enrich: model is required")
	}
	return &Enricher{annotator: a, model: model}, nil
}

// Model returns the model id passed to every annotator call.
func (e *Enricher) Model() string {
	return e.model
}

// Enrich builds the strategy prompt for rec, calls the annotator once and
// normalizes the completion.
func (e *Enricher) Enrich(ctx context.Context, s Strategy, rec lead.RawRecord) (Value, error) {
	raw, err := e.annotator.Generate(ctx, e.model, s.Prompt(rec))
	if err != nil {
		return Value{Field: s.Field()}, err
	}
	v, err := s.Normalize(raw)
	if err != nil {
		return Value{Field: s.Field()}, fmt.Errorf("%s: %w", s.Field(), err)
	}
	return v, nil
}
