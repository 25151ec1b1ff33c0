package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
	"github.com/palantir/lead-enrichment-pipeline/internal/store"
	"github.com/palantir/lead-enrichment-pipeline/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func sampleLeads() []lead.Lead {
	q := lead.QualityHigh
	s := "Acme builds rockets."
	return []lead.Lead{
		{Name: "A", Company: "Acme", Industry: "Tech", Size: 120, Source: "web", Summary: &s, LeadQuality: &q},
		{Name: "B", Company: "Bolt", Industry: "Tech", Size: 20, Source: "web"},
		{Name: "C", Company: "Crane", Industry: "Retail", Size: 300, Source: "fair"},
		{Name: "D", Company: "Delta", Industry: "Tech", Size: 500, Source: "web"},
	}
}

func TestReplaceAllThenQueryReturnsExactlyTheNewSet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := memory.New(memory.WithClock(func() time.Time { return now }))

	require.NoError(t, s.ReplaceAll(ctx, []lead.Lead{{Company: "Old", Industry: "Tech", Size: 1}}))
	require.NoError(t, s.ReplaceAll(ctx, sampleLeads()))

	got, err := s.Query(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	ids := map[int64]bool{}
	for i, l := range got {
		assert.Equal(t, sampleLeads()[i].Company, l.Company)
		assert.Equal(t, now, l.CreatedAt)
		assert.False(t, ids[l.ID], "ids are unique")
		ids[l.ID] = true
	}
	assert.Equal(t, lead.StatusComplete, got[0].EnrichmentStatus)
	assert.Equal(t, lead.StatusRaw, got[1].EnrichmentStatus)
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.ReplaceAll(ctx, sampleLeads()))

	got, err := s.Query(ctx, store.Filter{Industry: "Tech", MinSize: intPtr(50), MaxSize: intPtr(500)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, l := range got {
		assert.Equal(t, "Tech", l.Industry)
		assert.GreaterOrEqual(t, l.Size, 50)
		assert.LessOrEqual(t, l.Size, 500)
	}

	got, err = s.Query(ctx, store.Filter{Industry: "Mining"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	_, err = s.Query(ctx, store.Filter{MinSize: intPtr(10), MaxSize: intPtr(5)})
	var fve *store.FilterValidationError
	assert.ErrorAs(t, err, &fve)
}

func TestConcurrentQueriesNeverSeeAMixedSet(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	setA := make([]lead.Lead, 50)
	setB := make([]lead.Lead, 80)
	for i := range setA {
		setA[i] = lead.Lead{Company: "A", Industry: "Tech", Size: i}
	}
	for i := range setB {
		setB[i] = lead.Lead{Company: "B", Industry: "Tech", Size: i}
	}
	require.NoError(t, s.ReplaceAll(ctx, setA))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 100)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := s.Query(ctx, store.Filter{})
				if err != nil {
					errs <- err.Error()
					return
				}
				if len(got) == 0 {
					continue
				}
				first := got[0].Company
				want := map[string]int{"A": 50, "B": 80}[first]
				if len(got) != want {
					errs <- "mixed snapshot"
					return
				}
				for _, l := range got {
					if l.Company != first {
						errs <- "mixed snapshot"
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		set := setA
		if i%2 == 0 {
			set = setB
		}
		require.NoError(t, s.ReplaceAll(ctx, set))
	}
	close(stop)
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestConcurrentAppendEventsGetDistinctIDs(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	const n = 64
	var wg sync.WaitGroup
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := s.AppendEvent(ctx, lead.Event{UserID: int64(i), Action: "click"})
			if err == nil {
				ids[i] = e.ID
			}
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, id := range ids {
		require.NotZero(t, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
	events, err := s.ListEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, events, n)
}

func TestClosedStoreReturnsPersistenceError(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Close())

	_, err := s.AppendEvent(context.Background(), lead.Event{UserID: 1, Action: "x"})
	var pe *store.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.Equal(t, "append event failed: store is closed", err.Error())
}

func TestStoredLeadsAndEventsShareNoMemoryWithCallers(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	in := sampleLeads()
	require.NoError(t, s.ReplaceAll(ctx, in))
	*in[0].Summary = "changed by caller"
	*in[0].LeadQuality = lead.QualityLow

	got, err := s.Query(ctx, store.Filter{})
	require.NoError(t, err)
	require.Equal(t, "Acme builds rockets.", *got[0].Summary)
	require.Equal(t, lead.QualityHigh, *got[0].LeadQuality)

	*got[0].Summary = "changed by reader"
	again, err := s.Query(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "Acme builds rockets.", *again[0].Summary)

	meta := lead.Metadata{"tags": lead.Array(lead.String("a")), "page": lead.Object(map[string]lead.Value{"n": lead.Int(1)})}
	_, err = s.AppendEvent(ctx, lead.Event{UserID: 1, Action: "view", Metadata: meta})
	require.NoError(t, err)
	meta["tags"] = lead.String("mutated")

	events, err := s.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	events[0].Metadata["page"] = lead.Null()

	events, err = s.ListEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, lead.KindArray, events[0].Metadata["tags"].Kind())
	assert.Equal(t, lead.KindObject, events[0].Metadata["page"].Kind())
}
