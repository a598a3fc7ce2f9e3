package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicebastion/internal/config"
	"dicebastion/internal/source"
	"dicebastion/internal/store"
)

const eventsJSON = `[
	{"event_id": 1, "title": "Board game night", "event_datetime": "2024-01-03T19:00:00",
	 "is_recurring": true, "recurrence_pattern": {"type": "weekly", "day": 3}}
]`

func testSources(t *testing.T) (*source.Loader, []source.Source) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(eventsJSON))
	}))
	t.Cleanup(srv.Close)

	loader := source.NewLoader(source.NewFetcher(t.TempDir(), srv.Client()), time.UTC, nil)
	return loader, source.FromConfig([]config.SourceConfig{{ID: "club", URL: srv.URL, Kind: config.KindJSON}})
}

func TestRefreshSnapshot(t *testing.T) {
	loader, sources := testSources(t)
	st := store.NewMemoryStore()

	require.NoError(t, refreshSnapshot(context.Background(), loader, sources, st))

	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "club:1", snap.Events[0].Key())
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestRunOnce(t *testing.T) {
	loader, sources := testSources(t)

	var out bytes.Buffer
	require.NoError(t, runOnce(context.Background(), &out, loader, sources, 2, time.UTC))

	assert.Contains(t, out.String(), "club:1\tBoard game night\t(every Wednesday)")
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("Wed ")))
}

func TestOpenStore(t *testing.T) {
	conf := config.DefaultConfig()
	st, closeStore := openStore(conf)
	defer closeStore()
	assert.IsType(t, &store.MemoryStore{}, st)

	conf.Redis = &config.RedisConfig{Addr: "127.0.0.1:6379"}
	conf.Normalize()
	st, closeRedis := openStore(conf)
	defer closeRedis()
	assert.IsType(t, &store.RedisStore{}, st)
}
