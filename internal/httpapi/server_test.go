package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"pulp/internal/api"
	"pulp/internal/events"
	"pulp/internal/httpapi"
	"pulp/internal/logging"
	"pulp/internal/services"
	"pulp/internal/testsupport"
)

type fakeDaemon struct {
	bus *events.Bus

	mu        sync.Mutex
	ingested  [][]string
	names     []map[string]string
	cancelled []string
}

func (f *fakeDaemon) Status(context.Context) api.DaemonStatus {
	return api.DaemonStatus{Running: true, PID: os.Getpid(), Version: "test"}
}

func (f *fakeDaemon) Ingest(_ context.Context, paths []string, displayNames map[string]string) (api.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, paths)
	f.names = append(f.names, displayNames)
	return api.Receipt{BatchID: "batch-1", Total: len(paths)}, nil
}

func (f *fakeDaemon) CancelBatch(batchID string) error {
	if batchID != "batch-1" {
		return services.Wrap(services.ErrNotFound, "", "cancel batch",
			fmt.Sprintf("batch %s is not in flight", batchID), nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, batchID)
	return nil
}

func (f *fakeDaemon) ListBatches(context.Context, int) ([]api.Batch, error) {
	return []api.Batch{{ID: "batch-1", Status: "completed", Total: 2, Successful: 1, Failed: 1}}, nil
}

func (f *fakeDaemon) DescribeBatch(_ context.Context, batchID string) (*api.BatchDetail, error) {
	if batchID != "batch-1" {
		return nil, nil
	}
	return &api.BatchDetail{
		Batch:     api.Batch{ID: "batch-1", Status: "completed", Total: 1, Successful: 1},
		Documents: []api.Document{{ID: "doc-1", BatchID: "batch-1", Status: "done", Progress: 1}},
	}, nil
}

func (f *fakeDaemon) Events(ctx context.Context, since uint64, limit int, wait time.Duration) (api.EventPage, error) {
	evts, next, err := f.bus.Fetch(ctx, since, limit, wait)
	if err != nil {
		return api.EventPage{NextCursor: next}, err
	}
	return api.EventPage{Events: evts, NextCursor: next, Dropped: f.bus.Dropped()}, nil
}

func (f *fakeDaemon) Subscribe(buffer int) *events.Subscription {
	return f.bus.Subscribe(buffer)
}

func (f *fakeDaemon) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "pulp_documents_total 0")
	})
}

func newTestServer(t *testing.T) (*httpapi.Server, *fakeDaemon) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	bus := events.NewBus(64, 8, logging.NewNop())
	t.Cleanup(bus.Close)
	d := &fakeDaemon{bus: bus}
	srv, err := httpapi.NewServer(cfg, d, logging.NewNop())
	if err != nil {
		t.Fatalf("httpapi.NewServer: %v", err)
	}
	return srv, d
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected healthz body: %#v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.Version != "test" {
		t.Fatalf("unexpected status: %#v", status)
	}
}

func TestSubmitBatchJSON(t *testing.T) {
	srv, d := newTestServer(t)

	payload := `{"paths":["/docs/a.txt","/docs/b.txt"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/batches", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var receipt api.Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.BatchID != "batch-1" || receipt.Total != 2 {
		t.Fatalf("unexpected receipt: %#v", receipt)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ingested) != 1 || len(d.ingested[0]) != 2 {
		t.Fatalf("unexpected ingest recording: %#v", d.ingested)
	}
}

func TestSubmitBatchEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/batches", strings.NewReader(`{"paths":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitBatchMultipart(t *testing.T) {
	srv, d := newTestServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files", "report.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("uploaded content")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/batches", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ingested) != 1 || len(d.ingested[0]) != 1 {
		t.Fatalf("unexpected ingest recording: %#v", d.ingested)
	}
	spooled := d.ingested[0][0]
	data, err := os.ReadFile(spooled)
	if err != nil {
		t.Fatalf("read spooled upload: %v", err)
	}
	if string(data) != "uploaded content" {
		t.Fatalf("unexpected spooled content: %q", data)
	}
	if d.names[0][spooled] != "report.txt" {
		t.Fatalf("expected display name mapping, got %#v", d.names[0])
	}
}

func TestListAndShowBatches(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batches", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list api.BatchListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Batches) != 1 || list.Batches[0].ID != "batch-1" {
		t.Fatalf("unexpected batch list: %#v", list)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batches/batch-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var detail api.BatchDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Batch.ID != "batch-1" || len(detail.Documents) != 1 {
		t.Fatalf("unexpected detail: %#v", detail)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batches/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown batch, got %d", rec.Code)
	}
}

func TestCancelBatch(t *testing.T) {
	srv, d := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/batches/batch-1/cancel", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/batches/unknown/cancel", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown batch, got %d", rec.Code)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cancelled) != 1 || d.cancelled[0] != "batch-1" {
		t.Fatalf("unexpected cancel recording: %#v", d.cancelled)
	}
}

func TestEventsPage(t *testing.T) {
	srv, d := newTestServer(t)

	d.bus.Publish(events.NewBatchStart("batch-1", 2))
	d.bus.Publish(events.NewBatchComplete("batch-1", 2, 0, 2))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?since=0&limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page api.EventPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Events) != 2 || page.NextCursor != 2 {
		t.Fatalf("unexpected page: %d events, cursor %d", len(page.Events), page.NextCursor)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?since=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	page = api.EventPage{}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Events) != 0 {
		t.Fatalf("expected empty page past cursor, got %d events", len(page.Events))
	}
}

func TestEventsStream(t *testing.T) {
	srv, d := newTestServer(t)

	d.bus.Publish(events.NewBatchStart("batch-1", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?stream=1&since=0", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	d.bus.Publish(events.NewDocumentProgress(events.DocumentProgress{
		BatchID:       "batch-1",
		DocumentID:    "doc-1",
		Phase:         "parse",
		StageStatuses: map[string]string{"parse": "running"},
	}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream handler did not return after context cancel")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: batch_start") {
		t.Fatalf("expected replayed batch_start event, body: %q", body)
	}
	if !strings.Contains(body, "event: document_progress") {
		t.Fatalf("expected live document_progress event, body: %q", body)
	}
	if !strings.Contains(body, "id: 2") {
		t.Fatalf("expected sequence ids in stream, body: %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pulp_documents_total") {
		t.Fatalf("unexpected metrics body: %q", rec.Body.String())
	}
}
