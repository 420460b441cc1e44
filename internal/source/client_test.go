package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetJSON(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/things", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{
		MinInterval: time.Millisecond,
		Authorize: func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer tok")
		},
	})

	var out struct {
		Value string `json:"value"`
	}
	err := c.GetJSON(context.Background(), "/things", map[string][]string{"page": {"1"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Value)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestClient_MinIntervalBetweenRequests(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	interval := 60 * time.Millisecond
	c := NewClient(srv.URL, Options{MinInterval: interval})

	var out map[string]any
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, c.GetJSON(context.Background(), "/", nil, &out))
	}
	elapsed := time.Since(start)

	// First call is immediate, the next two each wait out the interval.
	assert.GreaterOrEqual(t, elapsed, 2*interval)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_RetriesThrottledRequests(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"value":"recovered"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{MinInterval: time.Millisecond, MaxRetries: 2})

	var out struct {
		Value string `json:"value"`
	}
	start := time.Now()
	err := c.GetJSON(context.Background(), "/", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out.Value)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	// Backoff is Retry-After scaled by remaining attempts: 1s * 2.
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
}

func TestClient_RetriesExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{MinInterval: time.Millisecond, MaxRetries: 2})

	var out map[string]any
	err := c.GetJSON(context.Background(), "/", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClient_NoBackoffAfterFinalAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{MinInterval: time.Millisecond, MaxRetries: 1})

	var out map[string]any
	start := time.Now()
	err := c.GetJSON(context.Background(), "/", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	// The last throttled attempt fails straight away instead of sleeping
	// out the 30s Retry-After it can never use.
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_NonThrottleErrorSurfacesImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{MinInterval: time.Millisecond})

	var out map[string]any
	err := c.GetJSON(context.Background(), "/widgets", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream exploded")
	// No retries on non-429 failures.
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClient_ContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{MinInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out map[string]any
	start := time.Now()
	err := c.GetJSON(ctx, "/", nil, &out)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRetryAfter(t *testing.T) {
	hdr := func(v string) *http.Response {
		resp := &http.Response{Header: http.Header{}}
		if v != "" {
			resp.Header.Set("Retry-After", v)
		}
		return resp
	}
	assert.Equal(t, 3*time.Second, retryAfter(hdr("3")))
	assert.Equal(t, defaultRetryAfter, retryAfter(hdr("")))
	assert.Equal(t, defaultRetryAfter, retryAfter(hdr("soon")))
	assert.Equal(t, defaultRetryAfter, retryAfter(hdr("0")))
	assert.Equal(t, defaultRetryAfter, retryAfter(hdr("-5")))
}
