// Package messenger delivers generated media through a bot-style messaging
// API (sendPhoto / sendVideo / sendAudio with a chat id and a media URL).
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Options struct {
	BaseURL string
	Token   string
	// RateLimit is the maximum sends per second across all chats; 0 disables it.
	RateLimit  float64
	HTTPClient *http.Client
}

// Client implements delivery.MediaDispatcher.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

func New(opts Options, log zerolog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("messenger base url is required")
	}
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("messenger token is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	c := &Client{
		baseURL: base,
		token:   strings.TrimSpace(opts.Token),
		http:    httpClient,
		log:     log.With().Str("component", "messenger").Logger(),
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c, nil
}

func (c *Client) SendImage(ctx context.Context, userID, resultRef string) error {
	return c.send(ctx, "sendPhoto", "photo", userID, resultRef)
}

func (c *Client) SendVideo(ctx context.Context, userID, resultRef string) error {
	return c.send(ctx, "sendVideo", "video", userID, resultRef)
}

func (c *Client) SendAudio(ctx context.Context, userID, resultRef string) error {
	return c.send(ctx, "sendAudio", "audio", userID, resultRef)
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// APIError is a rejected send.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("messenger %s: status %d: %s", e.Method, e.StatusCode, e.Description)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

func (c *Client) send(ctx context.Context, method, field, chatID, mediaURL string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("messenger: chat id is empty")
	}
	if strings.TrimSpace(mediaURL) == "" {
		return errors.New("messenger: media reference is empty")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		field:     mediaURL,
	})
	if err != nil {
		return err
	}

	endpoint := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("messenger %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// The URL embeds the token; never surface it.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("messenger %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed apiResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode/100 != 2 || !parsed.OK {
		apiErr := &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			Description: parsed.Description,
		}
		if apiErr.Description == "" {
			apiErr.Description = strings.TrimSpace(string(raw))
		}
		if parsed.Parameters != nil && parsed.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(parsed.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}

	c.log.Debug().
		Str("method", method).
		Str("chat_id", chatID).
		Dur("duration", time.Since(start)).
		Msg("messenger: sent")
	return nil
}
