// Package feed is an HTTP implementation of the confirmed and pending
// pollers. It talks to an upstream service that has already decoded ledger
// boxes into records:
//
//	GET {base}/v1/groups/{group}/confirmed -> {"records":[...]}
//	GET {base}/v1/groups/{group}/pending   -> {"records":[...]}
//
// Transport failures, 429 and 5xx responses are retried with capped
// exponential backoff, honoring Retry-After.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-ledger-sync/internal/domain"
)

const (
	defaultBaseURL = "http://127.0.0.1:9053"
	maxBodyBytes   = 8 << 20
)

// HTTPError is a non-retryable or exhausted non-2xx response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("feed: http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("feed: http %d", e.StatusCode)
}

// Options tunes a Client. Zero values select defaults.
type Options struct {
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// RPS caps outbound requests per second; <= 0 disables throttling.
	RPS    float64
	Logger *zerolog.Logger
}

// Client fetches records from the upstream feed.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// New returns a Client for baseURL. An empty baseURL selects the local
// default.
func New(baseURL, token string, opts Options) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		log:        log.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 2
	}
	if c.baseDelay <= 0 {
		c.baseDelay = 100 * time.Millisecond
	}
	if c.maxDelay <= 0 {
		c.maxDelay = time.Second
	}
	if opts.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), max(1, int(opts.RPS)))
	}
	if opts.Logger != nil {
		c.log = *opts.Logger
	}
	c.log = c.log.With().Str("component", "feed").Logger()
	return c
}

// FetchConfirmed implements reconcile.ConfirmedPoller.
func (c *Client) FetchConfirmed(ctx context.Context, group string) ([]domain.Record, error) {
	return c.fetch(ctx, group, "confirmed")
}

// FetchPending implements reconcile.PendingPoller.
func (c *Client) FetchPending(ctx context.Context, group string) ([]domain.Record, error) {
	return c.fetch(ctx, group, "pending")
}

// wireRecord accepts created_at as a number or a numeric string, and the
// camelCase spellings some feeds emit.
type wireRecord struct {
	ID         string          `json:"id"`
	GroupKey   string          `json:"group_key"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  json.Number     `json:"created_at"`
	CreatedAlt json.Number     `json:"createdAt"`
	ParentID   string          `json:"parent_id"`
	ParentAlt  string          `json:"parentId"`
}

type wireResponse struct {
	Records []json.RawMessage `json:"records"`
}

func (c *Client) fetch(ctx context.Context, group, source string) ([]domain.Record, error) {
	var resp wireResponse
	path := "/v1/groups/" + url.PathEscape(group) + "/" + source
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, &domain.PollError{Group: group, Source: source, Err: err}
	}

	out := make([]domain.Record, 0, len(resp.Records))
	for _, raw := range resp.Records {
		r, err := decodeRecord(raw)
		if err != nil {
			c.log.Warn().Err(err).Str("group", group).Str("source", source).Msg("skipping undecodable record")
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeRecord(raw json.RawMessage) (domain.Record, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Record{}, &domain.MalformedRecordError{Reason: err.Error()}
	}

	ts := w.CreatedAt
	if ts == "" {
		ts = w.CreatedAlt
	}
	// Absent and null both leave ts empty.
	if ts == "" {
		return domain.Record{}, &domain.MalformedRecordError{ID: w.ID, Reason: "missing created_at"}
	}
	created, err := strconv.ParseInt(ts.String(), 10, 64)
	if err != nil {
		f, ferr := ts.Float64()
		if ferr != nil {
			return domain.Record{}, &domain.MalformedRecordError{ID: w.ID, Reason: "bad created_at " + ts.String()}
		}
		created = int64(f)
	}

	parent := w.ParentID
	if parent == "" {
		parent = w.ParentAlt
	}
	return domain.Record{
		ID:        strings.TrimSpace(w.ID),
		GroupKey:  w.GroupKey,
		Payload:   w.Payload,
		CreatedAt: created,
		ParentID:  strings.TrimSpace(parent),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", uuid.NewString())
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if werr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); werr != nil {
					return werr
				}
				continue
			}
			return err
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if len(body) == 0 {
				return nil
			}
			return json.Unmarshal(body, out)
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if retryable && attempt < c.maxRetries {
			c.log.Debug().Int("status", resp.StatusCode).Int("attempt", attempt+1).Str("path", path).Msg("retrying")
			if werr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); werr != nil {
				return werr
			}
			continue
		}

		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &payload)
		return &HTTPError{StatusCode: resp.StatusCode, Code: payload.Code, Message: payload.Message}
	}
}

func (c *Client) retryDelay(attempt int, retryAfter string) time.Duration {
	if d := parseRetryAfter(retryAfter); d > 0 {
		return min(d, c.maxDelay)
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if d := time.Until(ts); d > 0 {
			return d
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
