package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/palantir/lead-enrichment-pipeline/internal/api"
	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
	"github.com/palantir/lead-enrichment-pipeline/internal/store"
	"github.com/palantir/lead-enrichment-pipeline/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	st := memory.New()
	s := "Acme builds rockets."
	q := lead.QualityHigh
	require.NoError(t, st.ReplaceAll(context.Background(), []lead.Lead{
		{Name: "A", Company: "Acme", Industry: "Tech", Size: 120, Source: "web", Summary: &s, LeadQuality: &q},
		{Name: "B", Company: "Bolt", Industry: "Tech", Size: 20, Source: "web"},
		{Name: "C", Company: "Crane", Industry: "Retail", Size: 300, Source: "fair"},
	}))
	srv := httptest.NewServer(api.New(st).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestListLeads(t *testing.T) {
	srv, _ := seededServer(t)

	var all []map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/leads", &all))
	require.Len(t, all, 3)
	assert.Equal(t, "Acme", all[0]["company"])
	assert.Equal(t, "High", all[0]["lead_quality"])
	assert.Nil(t, all[1]["summary"])
	assert.Nil(t, all[1]["lead_quality"])
	assert.Equal(t, "raw", all[1]["enrichment_status"])

	var filtered []lead.Lead
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/leads?industry=Tech&min_size=50&max_size=500", &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, "Acme", filtered[0].Company)

	var none []lead.Lead
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/leads?industry=Mining", &none))
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestListLeadsIndustryIsExact(t *testing.T) {
	srv, _ := seededServer(t)

	for _, qs := range []string{"industry=%20Tech", "industry=Tech%20", "industry=tech"} {
		var got []lead.Lead
		require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/leads?"+qs, &got), qs)
		assert.Empty(t, got, qs)
	}
}

func TestListLeadsRejectsBadFilters(t *testing.T) {
	srv, _ := seededServer(t)

	for _, qs := range []string{"min_size=abc", "max_size=1.5", "min_size=10&max_size=5", "min_size=-1"} {
		var body map[string]string
		assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/leads?"+qs, &body), qs)
		assert.NotEmpty(t, body["detail"], qs)
	}
}

func TestCreateEvent(t *testing.T) {
	srv, st := seededServer(t)

	var resp struct {
		Status string     `json:"status"`
		Event  lead.Event `json:"event"`
	}
	code := postJSON(t, srv.URL+"/api/events", `{"user_id": 42, "action": "download", "metadata": {"file": "deck.pdf", "pages": 12, "nested": {"ok": true}}}`, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", resp.Status)
	assert.NotZero(t, resp.Event.ID)
	assert.Equal(t, int64(42), resp.Event.UserID)
	assert.False(t, resp.Event.OccurredAt.IsZero())

	events, err := st.ListEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	file, ok := events[0].Metadata["file"].AsString()
	require.True(t, ok)
	assert.Equal(t, "deck.pdf", file)
}

func TestCreateEventValidation(t *testing.T) {
	srv, _ := seededServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "missing user", body: `{"action": "x"}`, want: http.StatusBadRequest},
		{name: "missing action", body: `{"user_id": 1}`, want: http.StatusBadRequest},
		{name: "blank action", body: `{"user_id": 1, "action": "  "}`, want: http.StatusBadRequest},
		{name: "not json", body: `user_id=1`, want: http.StatusBadRequest},
		{name: "empty", body: ``, want: http.StatusBadRequest},
		{name: "string user", body: `{"user_id": "1", "action": "x"}`, want: http.StatusBadRequest},
		{name: "no metadata", body: `{"user_id": 0, "action": "x"}`, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			assert.Equal(t, tt.want, postJSON(t, srv.URL+"/api/events", tt.body, &body))
		})
	}
}

func TestConcurrentEventsGetDistinctIDs(t *testing.T) {
	srv, _ := seededServer(t)

	const n = 16
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(srv.URL+"/api/events", "application/json", strings.NewReader(`{"user_id": 1, "action": "click"}`))
			if err != nil {
				return
			}
			defer resp.Body.Close()
			var out struct {
				Event lead.Event `json:"event"`
			}
			if json.NewDecoder(resp.Body).Decode(&out) == nil {
				ids <- out.Event.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, n)

	var events []lead.Event
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/events", &events))
	assert.Len(t, events, n)
}

type brokenStore struct {
	store.Store
}

func (brokenStore) Query(context.Context, store.Filter) ([]lead.Lead, error) {
	return nil, store.Wrap("query leads", errors.New(`pq: password authentication failed for user "admin" password=hunter2`))
}

func (brokenStore) AppendEvent(context.Context, lead.Event) (lead.Event, error) {
	return lead.Event{}, store.Wrap("append event", errors.New("connection refused"))
}

func (brokenStore) Ping(context.Context) error {
	return store.Wrap("ping", errors.New("connection refused"))
}

func TestStoreFailuresAreGenericServerErrors(t *testing.T) {
	srv := httptest.NewServer(api.New(brokenStore{}).Handler())
	defer srv.Close()

	var body map[string]string
	require.Equal(t, http.StatusInternalServerError, getJSON(t, srv.URL+"/api/leads", &body))
	assert.True(t, strings.HasPrefix(body["detail"], "database error: "), body["detail"])
	assert.NotContains(t, body["detail"], "hunter2")

	body = nil
	require.Equal(t, http.StatusInternalServerError, postJSON(t, srv.URL+"/api/events", `{"user_id": 1, "action": "x"}`, &body))
	assert.Equal(t, "database error: append event failed: connection refused", body["detail"])

	body = nil
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/healthz", &body))
}

func TestBearerToken(t *testing.T) {
	s := api.New(memory.New())
	s.RequireBearerToken("secret")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var body map[string]any
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, srv.URL+"/api/leads", &body))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/leads", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &body), "health is not guarded")
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := seededServer(t)
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/leads", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	srv := httptest.NewServer(api.New(memory.New(), api.WithCORS([]string{"http://localhost:5173"})).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/leads", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
