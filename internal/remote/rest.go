package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coryrvde/EVERYBODY-sub001/internal/config"
	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"
	"github.com/coryrvde/EVERYBODY-sub001/internal/types"

	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// RESTBackend reads tables through a PostgREST-style HTTP API:
//
//	GET {base}/rest/v1/{table}?user_id=eq.{id}&select=*
//	apikey: <key>
//	Authorization: Bearer <access token or key>
type RESTBackend struct {
	baseURL     string
	apiKey      string
	accessToken string
	client      *http.Client
	limiter     *rate.Limiter
	retry       RetryConfig
}

var _ Backend = (*RESTBackend)(nil)

// NewRESTBackend builds a REST backend. A nil client gets one with the
// configured timeout.
func NewRESTBackend(cfg config.RemoteConfig, client *http.Client) (*RESTBackend, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("rest backend: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("rest backend: invalid base url: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.GetTimeout()}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	retry := DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries + 1
	retry.InitialDelay = cfg.GetRetryDelay()

	token := cfg.AccessToken
	if token == "" {
		token = cfg.APIKey
	}

	return &RESTBackend{
		baseURL:     base,
		apiKey:      cfg.APIKey,
		accessToken: token,
		client:      client,
		limiter:     rate.NewLimiter(limit, burst),
		retry:       retry,
	}, nil
}

func (b *RESTBackend) Name() string { return "rest" }

func (b *RESTBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *RESTBackend) endpoint(table types.Table, userID string) string {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("select", "*")
	return b.baseURL + "/rest/v1/" + url.PathEscape(string(table)) + "?" + q.Encode()
}

// Fetch returns the user's rows. Transport errors, 429 and 5xx responses are
// retried; other non-2xx statuses fail immediately with a *StatusError.
func (b *RESTBackend) Fetch(ctx context.Context, table types.Table, userID string) ([]json.RawMessage, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	endpoint := b.endpoint(table, userID)

	var rows []json.RawMessage
	err := Retry(ctx, b.retry, func(attempt int) error {
		if err := b.limiter.Wait(ctx); err != nil {
			return Permanent(err)
		}
		start := time.Now()
		var err error
		rows, err = b.get(ctx, table, endpoint)
		if err != nil {
			logging.RemoteWarn("GET %s attempt %d failed after %v: %v", table, attempt, time.Since(start), err)
			return err
		}
		logging.RemoteDebug("GET %s for %s: %d rows in %v", table, userID, len(rows), time.Since(start))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (b *RESTBackend) get(ctx context.Context, table types.Table, endpoint string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Permanent(err)
	}
	req.Header.Set("apikey", b.apiKey)
	req.Header.Set("Authorization", "Bearer "+b.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &StatusError{Table: table, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, serr
		}
		return nil, Permanent(serr)
	}

	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, Permanent(fmt.Errorf("decode %s response: %w", table, err))
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	return rows, nil
}
