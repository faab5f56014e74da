// Package upstream talks to the third-party compute API that runs the
// generation tasks.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type Options struct {
	BaseURL string
	APIKey  string
	// RateLimit caps status requests per second; 0 disables it.
	RateLimit  float64
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("upstream base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("upstream base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	c := &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(opts.APIKey),
		http:    httpClient,
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c, nil
}

// StatusError is a non-2xx answer from the status endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status: http %d: %s", e.StatusCode, e.Body)
}

// TaskStatus fetches the current status of an upstream task.
func (c *Client) TaskStatus(ctx context.Context, externalTaskID string) (StatusReport, error) {
	externalTaskID = strings.TrimSpace(externalTaskID)
	if externalTaskID == "" {
		return StatusReport{}, ErrMissingTaskID
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return StatusReport{}, err
		}
	}

	endpoint := c.baseURL + "/tasks/" + url.PathEscape(externalTaskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusReport{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return StatusReport{}, fmt.Errorf("upstream status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return StatusReport{}, fmt.Errorf("upstream status: read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return StatusReport{}, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	rep, err := DecodeReport(body)
	if errors.Is(err, ErrMissingTaskID) {
		// Some vendors omit the id when answering a by-id query.
		rep.ExternalTaskID = externalTaskID
		err = nil
	}
	if err != nil {
		return StatusReport{}, err
	}
	return rep, nil
}
