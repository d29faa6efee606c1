package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/config"
	"github.com/coryrvde/EVERYBODY-sub001/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRemoteConfig(url string) config.RemoteConfig {
	return config.RemoteConfig{
		Kind:       config.RemoteREST,
		BaseURL:    url,
		APIKey:     "anon",
		Timeout:    "2s",
		MaxRetries: 2,
		RetryDelay: "1ms",
	}
}

func TestRESTBackend_Fetch(t *testing.T) {
	var gotPath, gotQuery, gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"a1","severity":"high"},{"id":"a2"}]`))
	}))
	defer srv.Close()

	cfg := testRemoteConfig(srv.URL + "/")
	cfg.AccessToken = "session-jwt"
	b, err := NewRESTBackend(cfg, nil)
	require.NoError(t, err)
	defer b.Close()

	rows, err := b.Fetch(context.Background(), types.TableAlerts, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.JSONEq(t, `{"id":"a1","severity":"high"}`, string(rows[0]))

	assert.Equal(t, "/rest/v1/alerts", gotPath)
	assert.Equal(t, "select=%2A&user_id=eq.u1", gotQuery)
	assert.Equal(t, "anon", gotKey)
	assert.Equal(t, "Bearer session-jwt", gotAuth)
	assert.Equal(t, "rest", b.Name())
}

func TestRESTBackend_NullBodyIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`null`))
	}))
	defer srv.Close()

	b, err := NewRESTBackend(testRemoteConfig(srv.URL), nil)
	require.NoError(t, err)
	rows, err := b.Fetch(context.Background(), types.TableSettings, "u1")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestRESTBackend_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	b, err := NewRESTBackend(testRemoteConfig(srv.URL), nil)
	require.NoError(t, err)
	rows, err := b.Fetch(context.Background(), types.TableProfiles, "u1")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRESTBackend_RetriesRateLimited(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[{"id":"f1"}]`))
	}))
	defer srv.Close()

	b, err := NewRESTBackend(testRemoteConfig(srv.URL), nil)
	require.NoError(t, err)
	rows, err := b.Fetch(context.Background(), types.TableFilters, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"id":"f1"}`, string(rows[0]))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestRESTBackend_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b, err := NewRESTBackend(testRemoteConfig(srv.URL), nil)
	require.NoError(t, err)
	_, err = b.Fetch(context.Background(), types.TableProfiles, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusTooManyRequests, serr.StatusCode)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRESTBackend_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"JWT expired"}`))
	}))
	defer srv.Close()

	b, err := NewRESTBackend(testRemoteConfig(srv.URL), nil)
	require.NoError(t, err)
	_, err = b.Fetch(context.Background(), types.TableFilters, "u1")

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.StatusCode)
	assert.Contains(t, serr.Error(), "JWT expired")
	assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRESTBackend_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	b, err := NewRESTBackend(testRemoteConfig(srv.URL), nil)
	require.NoError(t, err)
	_, err = b.Fetch(context.Background(), types.TableMessages, "u1")
	assert.ErrorContains(t, err, "decode messages response")
}

func TestRESTBackend_UnknownTable(t *testing.T) {
	b, err := NewRESTBackend(testRemoteConfig("http://127.0.0.1:1"), nil)
	require.NoError(t, err)
	_, err = b.Fetch(context.Background(), types.Table("devices"), "u1")
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestRESTBackend_RequiresBaseURL(t *testing.T) {
	_, err := NewRESTBackend(config.RemoteConfig{}, nil)
	assert.Error(t, err)
}

func TestRESTBackend_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	b, err := NewRESTBackend(testRemoteConfig(srv.URL), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Fetch(ctx, types.TableAlerts, "u1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}

	t.Run("succeeds after failures", func(t *testing.T) {
		n := 0
		err := Retry(context.Background(), cfg, func(int) error {
			n++
			if n < 3 {
				return errors.New("flaky")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("permanent stops immediately", func(t *testing.T) {
		boom := errors.New("boom")
		n := 0
		err := Retry(context.Background(), cfg, func(int) error {
			n++
			return Permanent(boom)
		})
		assert.Same(t, boom, err)
		assert.Equal(t, 1, n)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		var attempts []int
		err := Retry(context.Background(), cfg, func(a int) error {
			attempts = append(attempts, a)
			return errors.New("down")
		})
		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.ErrorContains(t, err, "down")
		assert.Equal(t, []int{1, 2, 3, 4}, attempts)
	})

	t.Run("context cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour}
		err := Retry(ctx, slow, func(int) error {
			cancel()
			return errors.New("x")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	assert.NoError(t, Permanent(nil))
}

func TestFetchQuery(t *testing.T) {
	assert.Equal(t, `SELECT row_to_json(t)::text FROM "alerts" t WHERE t.user_id = $1`, fetchQuery(types.TableAlerts))
}

func TestPostgresBackend_Unreachable(t *testing.T) {
	cfg := config.RemoteConfig{Kind: config.RemotePostgres, DSN: "postgres://guardian:x@127.0.0.1:1/guardian?connect_timeout=1", Timeout: "2s"}
	_, err := NewPostgresBackend(context.Background(), cfg)
	assert.ErrorContains(t, err, "postgres backend: ping")

	_, err = NewPostgresBackend(context.Background(), config.RemoteConfig{})
	assert.ErrorContains(t, err, "dsn is required")
}

func TestNew(t *testing.T) {
	b, err := New(context.Background(), testRemoteConfig("http://localhost:54321"))
	require.NoError(t, err)
	assert.IsType(t, &RESTBackend{}, b)

	_, err = New(context.Background(), config.RemoteConfig{Kind: "grpc"})
	assert.ErrorContains(t, err, "invalid remote kind")
}
