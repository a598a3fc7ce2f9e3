package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicebastion/internal/config"
	"dicebastion/internal/metrics"
	"dicebastion/internal/model"
	"dicebastion/internal/recurrence"
	"dicebastion/internal/store"
)

func newTestServer(t *testing.T, auth *config.BasicAuthConfig) *Server {
	t.Helper()

	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	weekly, err := recurrence.NewTemplate(time.Date(2024, 1, 3, 19, 0, 0, 0, loc), recurrence.Weekly(time.Wednesday, nil), nil)
	require.NoError(t, err)
	monthly, err := recurrence.NewTemplate(time.Date(2024, 1, 30, 18, 0, 0, 0, loc), recurrence.MonthlyByDate(30, nil), nil)
	require.NoError(t, err)
	broken := recurrence.Template{
		Base: time.Date(2024, 1, 3, 19, 0, 0, 0, loc),
		Rule: recurrence.Rule{Kind: recurrence.KindWeekly, DayOfWeek: 9},
	}

	st := store.NewMemoryStore()
	require.NoError(t, st.Save(context.Background(), store.Snapshot{
		UpdatedAt: time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC),
		Events: []model.Event{
			{SourceID: "club", ID: "1", Title: "Board game night", Location: "Bastion", Template: weekly},
			{SourceID: "club", ID: "2", Title: "Painting club", Template: monthly},
			{SourceID: "club", ID: "3", Title: "Misconfigured", Template: broken},
		},
	}))

	cfg := config.DefaultConfig()
	cfg.BasicAuth = auth

	s := NewServer(cfg, st, metrics.New())
	s.now = func() time.Time { return time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC) }
	return s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleEvents(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := get(t, h, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Europe/London", resp.TimeZone)
	require.Len(t, resp.Events, 3)

	byKey := map[string]eventDTO{}
	for _, ev := range resp.Events {
		byKey[ev.Key] = ev
	}

	weekly := byKey["club:1"]
	require.NotNil(t, weekly.NextOccurrence)
	assert.True(t, weekly.NextOccurrence.Equal(time.Date(2024, 1, 31, 19, 0, 0, 0, time.UTC)))
	assert.Equal(t, "every Wednesday", weekly.Recurrence)
	assert.Contains(t, weekly.RRule, "FREQ=WEEKLY")

	// February has no 30th.
	monthly := byKey["club:2"]
	require.NotNil(t, monthly.NextOccurrence)
	assert.True(t, monthly.NextOccurrence.Equal(time.Date(2024, 3, 30, 18, 0, 0, 0, time.UTC)))

	broken := byKey["club:3"]
	assert.Nil(t, broken.NextOccurrence)
	assert.NotEmpty(t, broken.Error)
}

func TestHandleEventsReference(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := get(t, h, "/api/events?at=2024-02-01T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Events[0].NextOccurrence)
	assert.True(t, resp.Events[0].NextOccurrence.Equal(time.Date(2024, 2, 7, 19, 0, 0, 0, time.UTC)))

	rec = get(t, h, "/api/events?at=tomorrow")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "RFC 3339")
}

func TestHandleOccurrences(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := get(t, h, "/api/events/club:1/occurrences?count=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp occurrencesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "club:1", resp.Key)
	require.Len(t, resp.Occurrences, 2)
	assert.True(t, resp.Occurrences[0].Start.Equal(time.Date(2024, 1, 31, 19, 0, 0, 0, time.UTC)))
	assert.True(t, resp.Occurrences[1].Start.Equal(time.Date(2024, 2, 7, 19, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Board game night", resp.Occurrences[0].Title)
	assert.Equal(t, "Bastion", resp.Occurrences[0].Location)

	t.Run("default count from config", func(t *testing.T) {
		rec := get(t, h, "/api/events/club:2/occurrences")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp occurrencesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Occurrences, 3)
	})

	t.Run("count is capped", func(t *testing.T) {
		rec := get(t, h, "/api/events/club:1/occurrences?count=500")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp occurrencesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Occurrences, maxOccurrences)
	})

	t.Run("zero count", func(t *testing.T) {
		rec := get(t, h, "/api/events/club:1/occurrences?count=0")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp occurrencesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Occurrences)
	})

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/events/club:1/occurrences?count=many").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/events/club:404/occurrences").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, get(t, h, "/api/events/club:3/occurrences").Code)
}

func TestHandleCalendar(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	rec := get(t, h, "/calendar.ics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "SUMMARY:Board game night")
	assert.Contains(t, body, "SUMMARY:Painting club")
	assert.NotContains(t, body, "Misconfigured")

	s.feedMu.RLock()
	cached := s.feedCache
	s.feedMu.RUnlock()
	require.NotNil(t, cached)

	// Served from cache until the TTL passes.
	rec = get(t, h, "/calendar.ics")
	assert.Equal(t, body, rec.Body.String())
	s.feedMu.RLock()
	assert.Same(t, cached, s.feedCache)
	s.feedMu.RUnlock()

	s.now = func() time.Time { return time.Date(2024, 1, 31, 12, 5, 0, 0, time.UTC) }
	get(t, h, "/calendar.ics")
	s.feedMu.RLock()
	assert.NotSame(t, cached, s.feedCache)
	s.feedMu.RUnlock()
}

func TestBasicAuth(t *testing.T) {
	h := newTestServer(t, &config.BasicAuthConfig{Username: "admin", Password: "dice"}).Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)

	rec := get(t, h, "/api/events")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "dice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, nil).Handler())
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL + "/api/events")
	require.NoError(t, err)
	_ = res.Body.Close()

	res, err = srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	out := string(b)
	assert.True(t, strings.Contains(out, `dicebastion_resolutions_total{outcome="occurrence"} 2`), out)
	assert.Contains(t, out, `dicebastion_resolutions_total{outcome="invalid"} 1`)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("dice", "dice"))
	assert.False(t, secureCompare("dice", "Dice"))
	assert.False(t, secureCompare("dice", "dices"))
}
