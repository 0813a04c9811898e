// Package provision talks to the upstream panel API that creates, inspects
// and removes V2Ray accounts. Every call is a single JSON POST answered with
// a {success, data} envelope; the client never retries.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/m3rciful/v2raybot/core/logger"
	tg "github.com/m3rciful/v2raybot/core/telegram"
)

const maxBody = 1 << 20

// ErrTransport wraps failures that prevented a usable envelope from arriving.
var ErrTransport = errors.New("provision: transport failure")

// APIError carries the message the panel API returned with success=false.
type APIError struct {
	Action  string
	Message string
	Details string
	Status  string
}

func (e *APIError) Error() string {
	return e.Message
}

// Code implements the handler summary error code lookup.
func (e *APIError) Code() string { return "provision_" + e.Action }

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the default transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is the panel API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("provision: base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = tg.BuildHTTPClient(tg.HTTPClientOptions{
			Timeout:         opts.Timeout,
			ResponseTimeout: opts.Timeout,
			Retries:         -1,
		})
	}
	return &Client{baseURL: base, token: strings.TrimSpace(opts.Token), http: hc}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type failure struct {
	Error   string `json:"error"`
	Details string `json:"details"`
	Status  string `json:"status"`
}

// call posts body and decodes the data object of a successful envelope into out.
func (c *Client) call(ctx context.Context, action string, body map[string]any, out any) error {
	start := time.Now()
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("provision: encode %s: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("provision: build %s: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logFail(ctx, action, start, "transport", err)
		return fmt.Errorf("%w: %s: %v", ErrTransport, action, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		c.logFail(ctx, action, start, "read", err)
		return fmt.Errorf("%w: %s: %v", ErrTransport, action, err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		err = fmt.Errorf("%w: %s: http %d: invalid envelope", ErrTransport, action, resp.StatusCode)
		c.logFail(ctx, action, start, "decode", err)
		return err
	}
	if !env.Success {
		var f failure
		_ = json.Unmarshal(env.Data, &f)
		apiErr := &APIError{Action: action, Message: f.Error, Details: f.Details, Status: f.Status}
		if apiErr.Message == "" {
			apiErr.Message = "Unknown error occurred"
		}
		c.logFail(ctx, action, start, "api", apiErr)
		return apiErr
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("provision: decode %s data: %w", action, err)
		}
	}
	logger.Info(ctx, "provision", "call.ok",
		slog.String("status", "ok"),
		slog.String("op", action),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

func (c *Client) logFail(ctx context.Context, action string, start time.Time, stage string, err error) {
	logger.Warn(ctx, "provision", "call.fail",
		slog.String("status", "fail"),
		slog.String("op", action),
		slog.String("stage", stage),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		slog.Duration("duration", logger.Took(start)),
	)
}
