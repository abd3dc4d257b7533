package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxPageSize = 100

// HTTPOptions configures an HTTPConnector
type HTTPOptions struct {
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables pacing
	PageSize          int
}

// HTTPConnector reads channels from a JSON gateway API
type HTTPConnector struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	pageSize   int
}

// NewHTTPConnector creates a connector for the gateway at baseURL
func NewHTTPConnector(baseURL string, opts HTTPOptions) *HTTPConnector {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PageSize <= 0 || opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &HTTPConnector{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   opts.Token,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter:  limiter,
		pageSize: opts.PageSize,
	}
}

// StatusError is returned for unexpected HTTP responses
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.StatusCode, e.Status)
}

// doJSON performs a GET request and decodes the JSON body into result
func (c *HTTPConnector) doJSON(ctx context.Context, path string, query url.Values, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrEntityNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: retry after %q", ErrRateLimited, resp.Header.Get("Retry-After"))
	case resp.StatusCode != http.StatusOK:
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

// ResolveEntity fetches metadata for a channel id or username
func (c *HTTPConnector) ResolveEntity(ctx context.Context, id string) (*Entity, error) {
	var entity Entity
	if err := c.doJSON(ctx, "/channels/"+url.PathEscape(id), nil, &entity); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", id, err)
	}
	if entity.ID == "" {
		entity.ID = id
	}
	return &entity, nil
}

type messagePage struct {
	Messages []*Message `json:"messages"`
}

// fetchPage fetches up to n messages older than beforeID (0 = newest)
func (c *HTTPConnector) fetchPage(ctx context.Context, channelID string, n int, beforeID int64) ([]*Message, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(n))
	if beforeID > 0 {
		query.Set("before_id", strconv.FormatInt(beforeID, 10))
	}

	var page messagePage
	if err := c.doJSON(ctx, "/channels/"+url.PathEscape(channelID)+"/messages", query, &page); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return page.Messages, nil
}

// Messages pages through a channel newest first
func (c *HTTPConnector) Messages(ctx context.Context, entity *Entity, opts IterOptions) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		yielded := 0
		var beforeID int64

		for {
			n := c.pageSize
			if opts.Limit > 0 && opts.Limit-yielded < n {
				n = opts.Limit - yielded
			}

			prevBeforeID := beforeID
			page, err := c.fetchPage(ctx, entity.ID, n, beforeID)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, msg := range page {
				if opts.Since != nil && olderThan(msg, *opts.Since) {
					return
				}
				if !yield(msg, nil) {
					return
				}
				yielded++
				if opts.Limit > 0 && yielded >= opts.Limit {
					return
				}
				beforeID = msg.ID
			}

			if len(page) < n {
				return
			}
			// the gateway must page backwards; a repeated cursor would loop forever
			if prevBeforeID > 0 && beforeID >= prevBeforeID {
				return
			}
		}
	}
}

// olderThan reports whether a dated message predates since. Undated
// messages never end a recency window.
func olderThan(msg *Message, since time.Time) bool {
	return !msg.Date.IsZero() && msg.Date.Before(since)
}
