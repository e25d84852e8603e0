package graph

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

// HTTPDoer describes the HTTP client used to reach a remote graph
// service.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteStore delegates extraction and persistence to an external graph
// service.
type RemoteStore struct {
	baseURL string
	client  HTTPDoer
}

// NewRemoteStore builds a client for the graph service at baseURL. A nil
// doer selects a plain http.Client.
func NewRemoteStore(baseURL string, doer HTTPDoer) *RemoteStore {
	if doer == nil {
		doer = &http.Client{}
	}
	return &RemoteStore{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  doer,
	}
}

type extractRequest struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

// ExtractAndInsert implements Store against the remote service.
func (r *RemoteStore) ExtractAndInsert(ctx context.Context, documentID, content string) (Result, error) {
	payload, err := json.Marshal(extractRequest{DocumentID: documentID, Content: content})
	if err != nil {
		return Result{}, fmt.Errorf("encode extract request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/extract", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return Result{}, services.Wrap(services.ErrUnavailable, "extract_graph", "decode response",
				"graph service returned a malformed payload", err)
		}
		return result, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return Result{}, services.Wrap(services.ErrValidation, "extract_graph", "extract entities",
			fmt.Sprintf("graph service rejected input (%d): %s", resp.StatusCode, snippet(resp.Body)), nil)
	default:
		return Result{}, services.Wrap(services.ErrUnavailable, "extract_graph", "extract entities",
			fmt.Sprintf("graph service returned %d: %s", resp.StatusCode, snippet(resp.Body)), nil)
	}
}

// Close implements Store; the remote client holds no local resources.
func (r *RemoteStore) Close() error { return nil }

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "extract_graph", "extract entities",
			"graph service did not answer before the deadline", err)
	}
	if errors.Is(err, context.Canceled) {
		return services.Wrap(services.ErrCancelled, "extract_graph", "extract entities", "", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "extract_graph", "extract entities",
			"graph service did not answer before the deadline", err)
	}
	return services.Wrap(services.ErrUnavailable, "extract_graph", "extract entities",
		"graph service unreachable", err)
}

func snippet(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 2048))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
