// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package completion provides the client for the OpenAI-compatible chat
// completion endpoint (OpenRouter by default).
//
// One call sends one user prompt and returns the first choice's content.
// The client never retries: a failed exchange is reported to the user as an
// assistant error message and the user decides whether to send again.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Configuration constants for the completion endpoint.
const (
	// DefaultBaseURL is the base URL of the OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout bounds a single completion request.
	DefaultTimeout = 60 * time.Second

	// EmptyReply replaces a response without content.
	EmptyReply = "No response received."
)

// Error variables for common endpoint failures.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("completion API key not configured")

	// ErrAuthFailed indicates the API key was refused.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrRequestFailed wraps transport failures and other non-2xx responses.
	ErrRequestFailed = errors.New("completion request failed")
)

// Client calls the completion endpoint.
type Client struct {
	apiKey   string
	baseURL  string
	timeout  time.Duration
	siteURL  string
	siteName string

	httpClient *http.Client
	api        openai.Client
}

// NewClient creates a client for apiKey. With an empty key the client is
// still usable but every call fails with ErrNotConfigured.
func NewClient(apiKey string) *Client {
	c := &Client{
		apiKey:   strings.TrimSpace(apiKey),
		baseURL:  DefaultBaseURL,
		timeout:  DefaultTimeout,
		siteURL:  "https://github.com/jeranaias/parley",
		siteName: "parley",
	}
	c.rebuild()
	return c
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	if url != "" {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
	c.rebuild()
	return c
}

// WithTimeout sets the request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.timeout = timeout
	}
	c.rebuild()
	return c
}

// WithSite sets the attribution headers sent to OpenRouter.
func (c *Client) WithSite(url, name string) *Client {
	c.siteURL = url
	c.siteName = name
	c.rebuild()
	return c
}

// WithHTTPClient replaces the transport (tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.rebuild()
	return c
}

func (c *Client) rebuild() {
	opts := []option.RequestOption{
		option.WithAPIKey(c.apiKey),
		option.WithBaseURL(c.baseURL + "/"),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(c.timeout),
	}
	if c.siteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", c.siteURL))
	}
	if c.siteName != "" {
		opts = append(opts, option.WithHeader("X-Title", c.siteName))
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	c.api = openai.NewClient(opts...)
}

// IsConfigured returns true if the client has an API key.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// BaseURL returns the endpoint base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Complete sends prompt as a single user message to modelID and returns the
// reply text. An empty reply becomes EmptyReply.
func (c *Client) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(modelID),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", mapError(err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	if content == "" {
		return EmptyReply, nil
	}
	return content, nil
}

// mapError converts API errors to the package sentinels.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	msg := strings.TrimSpace(apiErr.Message)
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}

	var sentinel error
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = ErrAuthFailed
	case http.StatusPaymentRequired:
		sentinel = ErrInsufficientCredits
	case http.StatusNotFound:
		sentinel = ErrModelNotFound
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	default:
		sentinel = ErrRequestFailed
	}
	return fmt.Errorf("%w (HTTP %d): %s", sentinel, apiErr.StatusCode, msg)
}
