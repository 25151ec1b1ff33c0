package local

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
	"github.com/palantir/lead-enrichment-pipeline/pkg/pipeline/core"
)

// RawRecordFile is an input adapter over a local raw leads CSV file.
type RawRecordFile struct {
	Path string
}

var _ core.InputAdapter[lead.RawRecord] = RawRecordFile{}

func (f RawRecordFile) Load(_ context.Context) ([]lead.RawRecord, error) {
	in, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = in.Close()
	}()
	return ReadRawRecordsCSV(in)
}

// ReadRawRecordsCSV reads raw lead records. The header is matched
// case-insensitively; company, industry and size are required, name, source
// and id are optional and other columns are ignored. A missing or blank id
// defaults to the 1-based row number.
func ReadRawRecordsCSV(r io.Reader) ([]lead.RawRecord, error) {
	t, err := newTable(r, "company", "industry", "size")
	if err != nil {
		return nil, err
	}
	var out []lead.RawRecord
	for {
		row, err := t.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec, err := row.rawRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadLeadsCSV reads already-enriched leads, as produced by an earlier
// enrichment run or an external tool. Blank summary and lead_quality cells
// load as absent; a lead_quality outside High/Medium/Low is an error.
func ReadLeadsCSV(r io.Reader) ([]lead.Lead, error) {
	t, err := newTable(r, "company", "industry", "size")
	if err != nil {
		return nil, err
	}
	var out []lead.Lead
	for {
		row, err := t.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec, err := row.rawRecord()
		if err != nil {
			return nil, err
		}
		l := lead.FromRaw(rec)
		l.ID = rec.ID
		if s := row.get("summary"); s != "" {
			l.Summary = &s
		}
		if s := row.get("lead_quality"); s != "" {
			q, ok := lead.ParseQuality(s)
			if !ok {
				return nil, fmt.Errorf("row %d: invalid lead_quality %q", row.line, s)
			}
			l.LeadQuality = &q
		}
		l.EnrichmentStatus = l.DeriveStatus()
		out = append(out, l)
	}
	return out, nil
}

type table struct {
	cr   *csv.Reader
	cols map[string]int
	line int
}

func newTable(r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		if name == "" {
			continue
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return &table{cr: cr, cols: cols}, nil
}

type row struct {
	t    *table
	rec  []string
	line int
}

func (t *table) next() (row, error) {
	rec, err := t.cr.Read()
	if err == io.EOF {
		return row{}, io.EOF
	}
	if err != nil {
		return row{}, fmt.Errorf("read row: %w", err)
	}
	t.line++
	return row{t: t, rec: rec, line: t.line}, nil
}

func (r row) get(col string) string {
	i, ok := r.t.cols[col]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r row) rawRecord() (lead.RawRecord, error) {
	rec := lead.RawRecord{
		ID:       int64(r.line),
		Name:     r.get("name"),
		Company:  r.get("company"),
		Industry: r.get("industry"),
		Source:   r.get("source"),
	}
	if s := r.get("id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return lead.RawRecord{}, fmt.Errorf("row %d: invalid id %q", r.line, s)
		}
		rec.ID = id
	}
	size, err := strconv.Atoi(r.get("size"))
	if err != nil {
		// pandas writes integer columns with NaN holes as floats ("120.0").
		f, ferr := strconv.ParseFloat(r.get("size"), 64)
		if ferr != nil || f != float64(int(f)) {
			return lead.RawRecord{}, fmt.Errorf("row %d: invalid size %q", r.line, r.get("size"))
		}
		size = int(f)
	}
	if size < 0 {
		return lead.RawRecord{}, fmt.Errorf("row %d: negative size %d", r.line, size)
	}
	rec.Size = size
	return rec, nil
}

// LeadFile is an input adapter over a local enriched leads CSV file.
type LeadFile struct {
	Path string
}

var _ core.InputAdapter[lead.Lead] = LeadFile{}

func (f LeadFile) Load(_ context.Context) ([]lead.Lead, error) {
	in, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = in.Close()
	}()
	return ReadLeadsCSV(in)
}
