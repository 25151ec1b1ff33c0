package enrich

import (
	"fmt"
	"strings"

	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
)

type summaryStrategy struct{}

// Summary returns the one-sentence company summary strategy.
func Summary() Strategy { return summaryStrategy{} }

func (summaryStrategy) Field() Field { return FieldSummary }

func (summaryStrategy) Prompt(rec lead.RawRecord) string {
	return fmt.Sprintf(
		"generate 1 sentence detailed text summary for company according to this data. Just give an answer: company: %s, industry: %s",
		strings.TrimSpace(rec.Company),
		strings.TrimSpace(rec.Industry),
	)
}

func (summaryStrategy) Normalize(raw string) (Value, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Value{Field: FieldSummary}, ErrEmptyEnrichment
	}
	return Value{Field: FieldSummary, Text: text}, nil
}

type qualityStrategy struct{}

// Quality returns the High/Medium/Low lead classification strategy.
func Quality() Strategy { return qualityStrategy{} }

func (qualityStrategy) Field() Field { return FieldQuality }

func (qualityStrategy) Prompt(rec lead.RawRecord) string {
	return fmt.Sprintf(
		"classify lead quality (High/Medium/Low) based on industry and size. Respond with only one word: High, Medium, or Low. size: %d, industry: %s",
		rec.Size,
		strings.TrimSpace(rec.Industry),
	)
}

func (qualityStrategy) Normalize(raw string) (Value, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Value{Field: FieldQuality}, ErrEmptyEnrichment
	}
	q, ok := lead.ParseQuality(text)
	if !ok {
		return Value{Field: FieldQuality}, fmt.Errorf("%w: %q", ErrAmbiguousLabel, truncate(text, 40))
	}
	return Value{Field: FieldQuality, Text: string(q)}, nil
}

// All returns every strategy in canonical order.
func All() []Strategy {
	return []Strategy{Summary(), Quality()}
}

// ParseFields resolves a comma-separated list of field names into strategies,
// keeping the given order and dropping duplicates. "quality" is accepted as
// an alias for lead_quality. An empty list selects every strategy.
func ParseFields(list string) ([]Strategy, error) {
	if strings.TrimSpace(list) == "" {
		return All(), nil
	}
	seen := make(map[Field]bool)
	var out []Strategy
	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		var s Strategy
		switch name {
		case string(FieldSummary):
			s = Summary()
		case string(FieldQuality), "quality":
			s = Quality()
		default:
			return nil, fmt.Errorf("%w %q", ErrUnknownField, name)
		}
		if seen[s.Field()] {
			continue
		}
		seen[s.Field()] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return All(), nil
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
