package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resilience "github.com/Nathan-Paranhos/AithosRag-sub003"
	"github.com/Nathan-Paranhos/AithosRag-sub003/cache"
	"github.com/Nathan-Paranhos/AithosRag-sub003/config"
	"github.com/Nathan-Paranhos/AithosRag-sub003/connectivity"
	"github.com/Nathan-Paranhos/AithosRag-sub003/logging"
	"github.com/Nathan-Paranhos/AithosRag-sub003/storage"
	"github.com/Nathan-Paranhos/AithosRag-sub003/syncqueue"
	"github.com/Nathan-Paranhos/AithosRag-sub003/transport"
)

type fakeAPI struct {
	*httptest.Server
	healthy atomic.Bool
	posts   atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{}
	api.healthy.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !api.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		api.posts.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})
	api.Server = httptest.NewServer(mux)
	t.Cleanup(api.Close)
	return api
}

// setEnv points the CLI at api and a file store in dir
func setEnv(t *testing.T, apiURL, dir string) {
	t.Setenv("RESILIENCE_API_BASE_URL", apiURL)
	t.Setenv("RESILIENCE_CONNECTIVITY_RETRIES", "0")
	t.Setenv("RESILIENCE_LOGGING_LEVEL", "ERROR")
	t.Setenv("RESILIENCE_STORAGE_BACKEND", "file")
	t.Setenv("RESILIENCE_STORAGE_PATH", dir)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHealth(t *testing.T) {
	api := newFakeAPI(t)
	setEnv(t, api.URL, t.TempDir())

	t.Run("Reachable", func(t *testing.T) {
		out, err := run(t, "health", "-o", "json")
		require.NoError(t, err)

		var st connectivity.Status
		require.NoError(t, json.Unmarshal([]byte(out), &st))
		assert.True(t, st.IsOnline)
		assert.True(t, st.APIAvailable)
		assert.NotEqual(t, connectivity.QualityOffline, st.Quality)
	})

	t.Run("Table", func(t *testing.T) {
		out, err := run(t, "health")
		require.NoError(t, err)
		assert.Contains(t, out, api.URL+"/health")
		assert.Contains(t, out, "true")
	})

	t.Run("Unreachable", func(t *testing.T) {
		api.healthy.Store(false)
		defer api.healthy.Store(true)

		_, err := run(t, "health")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unreachable")
	})
}

func TestCacheInspect(t *testing.T) {
	dir := t.TempDir()
	setEnv(t, "http://127.0.0.1:1", dir)

	store, err := storage.NewFile(dir)
	require.NoError(t, err)
	c, err := cache.New[string]("notes", cache.WithPersistence(store), cache.WithCleanupInterval(0))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "greeting", "hello", cache.Tagged("ui"), cache.Prioritized(cache.PriorityHigh)))
	require.NoError(t, c.Set(ctx, "farewell", "bye", cache.ExpiresIn(time.Hour)))
	require.NoError(t, c.Close())
	require.NoError(t, store.Close())

	t.Run("JSON", func(t *testing.T) {
		out, err := run(t, "cache", "inspect", "notes", "-o", "json")
		require.NoError(t, err)

		var snap cache.Snapshot
		require.NoError(t, json.Unmarshal([]byte(out), &snap))
		require.Len(t, snap.Entries, 2)
	})

	t.Run("Table", func(t *testing.T) {
		out, err := run(t, "cache", "inspect", "notes")
		require.NoError(t, err)
		assert.Contains(t, out, "greeting")
		assert.Contains(t, out, "farewell")
		assert.Contains(t, out, "ui")
	})

	t.Run("List", func(t *testing.T) {
		out, err := run(t, "cache", "list", "-o", "json")
		require.NoError(t, err)

		var names []string
		require.NoError(t, json.Unmarshal([]byte(out), &names))
		assert.Equal(t, []string{"notes"}, names)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := run(t, "cache", "inspect", "absent")
		require.Error(t, err)
	})
}

func TestQueueListAndDrain(t *testing.T) {
	api := newFakeAPI(t)
	dir := t.TempDir()
	setEnv(t, api.URL, dir)

	store, err := storage.NewFile(dir)
	require.NoError(t, err)
	q, err := syncqueue.New(transport.New(transport.WithBaseURL(api.URL)),
		syncqueue.WithStorage(store),
		syncqueue.WithNamespace(config.Default().Storage.Namespace),
	)
	require.NoError(t, err)
	_, err = q.AddToSyncQueue(context.Background(), syncqueue.TypeConversation, syncqueue.ActionCreate,
		syncqueue.ConversationPayload{ID: "c1", Title: "Trip"})
	require.NoError(t, err)
	q.Stop()
	require.NoError(t, store.Close())

	t.Run("List", func(t *testing.T) {
		out, err := run(t, "queue", "list", "-o", "json")
		require.NoError(t, err)

		var items []syncqueue.Item
		require.NoError(t, json.Unmarshal([]byte(out), &items))
		require.Len(t, items, 1)
		assert.Equal(t, "c1", items[0].RecordID())
	})

	t.Run("Drain Unreachable", func(t *testing.T) {
		api.healthy.Store(false)
		defer api.healthy.Store(true)

		_, err := run(t, "queue", "drain")
		require.Error(t, err)
		assert.Zero(t, api.posts.Load())
	})

	t.Run("Drain", func(t *testing.T) {
		out, err := run(t, "queue", "drain", "-o", "json")
		require.NoError(t, err)

		var res syncqueue.Result
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Equal(t, 1, res.Synced)
		assert.Equal(t, 0, res.Remaining)
		assert.Equal(t, int32(1), api.posts.Load())

		out, err = run(t, "queue", "list")
		require.NoError(t, err)
		assert.NotContains(t, out, "conversation")
	})
}

func TestRouter(t *testing.T) {
	api := newFakeAPI(t)
	cfg := config.Default()
	cfg.API.BaseURL = api.URL
	cfg.Connectivity.Retries = 0

	reg := prometheus.NewRegistry()
	logger := logging.Discard()
	layer, err := resilience.New(cfg, resilience.WithLogger(logger), resilience.WithRegisterer(reg))
	require.NoError(t, err)
	defer layer.Close()

	srv := httptest.NewServer(newRouter(layer, reg, logger))
	defer srv.Close()

	get := func(t *testing.T, path string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	t.Run("Healthz", func(t *testing.T) {
		code, body := get(t, "/healthz")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "OK", body)
	})

	t.Run("Status", func(t *testing.T) {
		code, body := get(t, "/status")
		require.Equal(t, http.StatusOK, code)

		var st resilience.Status
		require.NoError(t, json.Unmarshal([]byte(body), &st))
		assert.Contains(t, st.Caches, resilience.APICacheName)
		assert.Zero(t, st.Sync.Pending)
	})

	t.Run("Metrics", func(t *testing.T) {
		code, body := get(t, "/metrics")
		require.Equal(t, http.StatusOK, code)
		assert.True(t, strings.Contains(body, "cache_hits_total"))
		assert.True(t, strings.Contains(body, "sync_items_pending"))
	})

	t.Run("Sync", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/sync", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var res syncqueue.Result
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		assert.True(t, res.Skipped)
	})

	t.Run("Sync After Close", func(t *testing.T) {
		require.NoError(t, layer.Close())
		resp, err := http.Post(srv.URL+"/sync", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("Metrics Disabled", func(t *testing.T) {
		plain := httptest.NewServer(newRouter(layer, nil, logger))
		defer plain.Close()
		resp, err := http.Get(plain.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
