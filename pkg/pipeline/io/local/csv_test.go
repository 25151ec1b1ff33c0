package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
	"github.com/palantir/lead-enrichment-pipeline/pkg/pipeline/io/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRawRecordsCSV(t *testing.T) {
	t.Run("reads known columns", func(t *testing.T) {
		in := "id,name,company,industry,size,source,extra\n10,Jane,Acme,Tech,120,web,x\n11,Joe,Bolt,Retail,30,fair,y\n"
		got, err := local.ReadRawRecordsCSV(strings.NewReader(in))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, lead.RawRecord{ID: 10, Name: "Jane", Company: "Acme", Industry: "Tech", Size: 120, Source: "web"}, got[0])
		assert.Equal(t, int64(11), got[1].ID)
	})

	t.Run("header is case-insensitive and id defaults to row number", func(t *testing.T) {
		in := "\ufeff,Company,INDUSTRY,Size\n0,Acme,Tech,120.0\n1,Bolt,Retail,30\n"
		got, err := local.ReadRawRecordsCSV(strings.NewReader(in))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(1), got[0].ID)
		assert.Equal(t, int64(2), got[1].ID)
		assert.Equal(t, 120, got[0].Size)
	})

	t.Run("missing header column errors", func(t *testing.T) {
		_, err := local.ReadRawRecordsCSV(strings.NewReader("company,industry\nAcme,Tech\n"))
		assert.ErrorContains(t, err, `"size"`)
	})

	t.Run("bad size errors", func(t *testing.T) {
		_, err := local.ReadRawRecordsCSV(strings.NewReader("company,industry,size\nAcme,Tech,lots\n"))
		assert.ErrorContains(t, err, "row 1")
	})

	t.Run("header only", func(t *testing.T) {
		got, err := local.ReadRawRecordsCSV(strings.NewReader("company,industry,size\n"))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestReadLeadsCSV(t *testing.T) {
	in := "company,industry,size,summary,lead_quality\n" +
		"Acme,Tech,120,Acme builds rockets.,high\n" +
		"Bolt,Tech,20,,\n" +
		"Crane,Retail,300,Crane sells cranes.,\n"
	got, err := local.ReadLeadsCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.NotNil(t, got[0].Summary)
	require.NotNil(t, got[0].LeadQuality)
	assert.Equal(t, lead.QualityHigh, *got[0].LeadQuality)
	assert.Equal(t, lead.StatusComplete, got[0].EnrichmentStatus)
	assert.Equal(t, lead.StatusRaw, got[1].EnrichmentStatus)
	assert.Equal(t, lead.StatusPartial, got[2].EnrichmentStatus)

	_, err = local.ReadLeadsCSV(strings.NewReader("company,industry,size,lead_quality\nAcme,Tech,1,Excellent\n"))
	assert.ErrorContains(t, err, "lead_quality")
}

func TestRawRecordFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.csv")
	require.NoError(t, os.WriteFile(path, []byte("company,industry,size\nAcme,Tech,5\n"), 0o644))

	got, err := local.RawRecordFile{Path: path}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Acme", got[0].Company)

	_, err = local.RawRecordFile{Path: filepath.Join(t.TempDir(), "missing.csv")}.Load(context.Background())
	assert.Error(t, err)
}
