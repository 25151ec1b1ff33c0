package pipeline

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/palantir/lead-enrichment-pipeline/internal/enrich"
)

// Header returns the stable CSV header written by WriteCSV.
func Header() []string {
	return []string{
		"id",
		"name",
		"company",
		"industry",
		"size",
		"source",
		"summary",
		"lead_quality",
		"enrichment_status",
		"summary_status",
		"lead_quality_status",
		"error",
		"model",
	}
}

// WriteCSV writes one row per record in report order. Field status columns
// are empty for fields the run did not request.
func WriteCSV(w io.Writer, report Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, rec := range report.Records {
		summary, _ := rec.Value(enrich.FieldSummary)
		quality, _ := rec.Value(enrich.FieldQuality)

		var errs []string
		for _, f := range report.failuresFor(rec.Index) {
			errs = append(errs, string(f.Field)+": "+f.Message)
		}

		row := []string{
			strconv.FormatInt(rec.Record.ID, 10),
			rec.Record.Name,
			rec.Record.Company,
			rec.Record.Industry,
			strconv.Itoa(rec.Record.Size),
			rec.Record.Source,
			summary,
			quality,
			string(rec.Status),
			fieldStatus(rec, enrich.FieldSummary),
			fieldStatus(rec, enrich.FieldQuality),
			strings.Join(errs, "; "),
			report.Model,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (r Report) failuresFor(index int) []Failure {
	var out []Failure
	for _, f := range r.Failures {
		if f.Index == index {
			out = append(out, f)
		}
	}
	return out
}

func fieldStatus(rec EnrichedRecord, field enrich.Field) string {
	for _, f := range rec.Fields {
		if f.Field == field {
			return string(f.Status)
		}
	}
	return ""
}
