package parse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"pulp/internal/services"
)

// HTTPDoer describes the HTTP client used to reach the parser backend.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the parser backend over HTTP. The backend accepts a
// source path because it always runs on the same host as the daemon.
type Client struct {
	baseURL string
	client  HTTPDoer
}

// NewClient builds a parser client for the given base URL. A nil doer
// selects a plain http.Client; request deadlines come from the caller's
// context.
func NewClient(baseURL string, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  doer,
	}
}

type parseRequest struct {
	SourcePath string `json:"source_path"`
}

// Parse submits sourcePath to the backend and returns the extracted
// content. Rejections (4xx) are validation errors and will not be
// retried; transport failures and backend errors are retryable.
func (c *Client) Parse(ctx context.Context, sourcePath string) (Result, error) {
	payload, err := json.Marshal(parseRequest{SourcePath: sourcePath})
	if err != nil {
		return Result{}, fmt.Errorf("encode parse request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/parse", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return Result{}, services.Wrap(services.ErrUnavailable, "parse", "decode response",
				"parser returned a malformed payload", err)
		}
		return result, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return Result{}, services.Wrap(services.ErrValidation, "parse", "parse document",
			fmt.Sprintf("parser rejected input (%d): %s", resp.StatusCode, responseSnippet(resp.Body)), nil)
	default:
		return Result{}, services.Wrap(services.ErrUnavailable, "parse", "parse document",
			fmt.Sprintf("parser returned %d: %s", resp.StatusCode, responseSnippet(resp.Body)), nil)
	}
}

// Health reports whether the backend answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("parser health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("parser health returned %d", resp.StatusCode)
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "parse", "parse document",
			"parser did not answer before the deadline", err)
	}
	if errors.Is(err, context.Canceled) {
		return services.Wrap(services.ErrCancelled, "parse", "parse document", "", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "parse", "parse document",
			"parser did not answer before the deadline", err)
	}
	return services.Wrap(services.ErrUnavailable, "parse", "parse document",
		"parser unreachable", err)
}

func responseSnippet(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 2048))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
