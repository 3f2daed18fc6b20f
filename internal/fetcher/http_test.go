package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(retries int) *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
		Backoff:    time.Millisecond,
	})
}

func TestOpen_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := newTestFetcher(1)
	body, err := f.Open(context.Background(), srv.URL+"/data")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestOpen_LocalPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "LAD3.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"Topology"}`), 0o644))

	f := newTestFetcher(1)
	for _, loc := range []string{path, "file://" + path} {
		body, err := f.Open(context.Background(), loc)
		require.NoError(t, err)
		data, err := io.ReadAll(body)
		body.Close()
		require.NoError(t, err)
		assert.Equal(t, `{"type":"Topology"}`, string(data))
	}

	_, err := f.Open(context.Background(), filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestOpen_NonSuccessIsStatusError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(3)
	_, err := f.Open(context.Background(), srv.URL+"/database.parquet")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "404 Not Found", se.Status)
	assert.Contains(t, err.Error(), "404 Not Found")
	assert.False(t, se.Temporary())
	assert.Equal(t, int32(1), attempts.Load(), "client errors are not retried")
}

func TestOpen_SingleAttemptByDefault(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Backoff: time.Millisecond})
	_, err := f.Open(context.Background(), srv.URL)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Temporary())
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("success"))
	}))
	defer srv.Close()

	f := newTestFetcher(3)
	body, err := f.Open(context.Background(), srv.URL+"/retry")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "success", string(data))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher(2)
	_, err := f.Open(context.Background(), srv.URL+"/fail")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestRetry429ReducesHostRate(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxRetries: 3, HostRate: 100, Burst: 100, Backoff: time.Millisecond})
	body, err := f.Open(context.Background(), srv.URL+"/data")
	require.NoError(t, err)
	body.Close()

	// 100 -> 50 -> 25 -> 30
	assert.InDelta(t, 30.0, float64(f.limiterFor(srv.URL).Limit()), 0.1)
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file content here"))
	}))
	defer srv.Close()

	f := newTestFetcher(1)
	path := filepath.Join(t.TempDir(), "snapshot.parquet")

	n, err := f.DownloadToFile(context.Background(), srv.URL+"/file", path)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file content here", string(data))
}

func TestDownloadToFile_ErrorLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := newTestFetcher(1)
	_, err := f.DownloadToFile(context.Background(), srv.URL+"/forbidden", filepath.Join(dir, "out"))
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpen_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestFetcher(1).Open(ctx, srv.URL)
	require.Error(t, err)
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, "cobenefit-atlas/1.0", f.opts.UserAgent)
	assert.Equal(t, 60*time.Second, f.opts.Timeout)
	assert.Equal(t, 1, f.opts.MaxRetries)
}

func TestLimiterForIsPerHost(t *testing.T) {
	f := newTestFetcher(1)
	a := f.limiterFor("https://data.example.org/a.parquet")
	b := f.limiterFor("https://data.example.org/maps/LSOA.json")
	c := f.limiterFor("https://tiles.example.org/style.json")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestAdaptiveLimiter(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)
	lim.OnSuccess()
	assert.InDelta(t, 12.0, float64(lim.Limit()), 0.1)
	for range 20 {
		lim.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(lim.Limit()), 0.1)
	for range 10 {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewAdaptiveLimiter(0.001, 0).Wait(ctx))
}

func TestResolve(t *testing.T) {
	tests := []struct {
		base, p, want string
	}{
		{"", "maps/LSOA.json", "maps/LSOA.json"},
		{"https://example.org/app", "maps/LSOA.json", "https://example.org/app/maps/LSOA.json"},
		{"https://example.org/app/", "database.parquet", "https://example.org/app/database.parquet"},
		{"https://example.org", "https://cdn.example.org/x.json", "https://cdn.example.org/x.json"},
		{"/srv/data", "maps/LAD3.json", "/srv/data/maps/LAD3.json"},
		{"/srv/data", "/abs/file.json", "/abs/file.json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Resolve(tt.base, tt.p), "%s + %s", tt.base, tt.p)
	}
}
