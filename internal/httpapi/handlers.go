package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"pulp/internal/api"
	"pulp/internal/fileutil"
	"pulp/internal/services"
)

const (
	defaultListLimit = 50
	maxEventWait     = 30 * time.Second
	heartbeatEvery   = 15 * time.Second
)

// submitRequest is the JSON body for batch submission.
type submitRequest struct {
	Paths        []string          `json:"paths"`
	DisplayNames map[string]string `json:"display_names,omitempty"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.daemon.Status(c.Request().Context()))
}

func (s *Server) handleSubmitBatch(c echo.Context) error {
	contentType := c.Request().Header.Get(echo.HeaderContentType)

	var paths []string
	var displayNames map[string]string
	if strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		var err error
		paths, displayNames, err = s.spoolUploads(c)
		if err != nil {
			return err
		}
	} else {
		var req submitRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		paths = req.Paths
		displayNames = req.DisplayNames
	}

	if len(paths) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one path is required")
	}

	receipt, err := s.daemon.Ingest(c.Request().Context(), paths, displayNames)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, receipt)
}

// spoolUploads stores multipart file parts under the data directory so
// the pipeline reads them like any other local source. Original
// filenames survive as display names.
func (s *Server) spoolUploads(c echo.Context) ([]string, map[string]string, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
	}
	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	if len(files) == 0 {
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "no files in upload")
	}

	spoolDir := filepath.Join(s.cfg.Paths.DataDir, "uploads")

	paths := make([]string, 0, len(files))
	displayNames := make(map[string]string, len(files))
	for _, header := range files {
		src, err := header.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("open upload %q: %w", header.Filename, err)
		}
		dstPath, _, err := fileutil.SaveStream(src, spoolDir, header.Filename)
		src.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("spool upload %q: %w", header.Filename, err)
		}
		paths = append(paths, dstPath)
		displayNames[dstPath] = filepath.Base(header.Filename)
	}
	return paths, displayNames, nil
}

func (s *Server) handleListBatches(c echo.Context) error {
	limit := intQuery(c, "limit", defaultListLimit)
	batches, err := s.daemon.ListBatches(c.Request().Context(), limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, api.BatchListResponse{Batches: batches})
}

func (s *Server) handleShowBatch(c echo.Context) error {
	detail, err := s.daemon.DescribeBatch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if detail == nil {
		return echo.NewHTTPError(http.StatusNotFound, "batch not found")
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) handleCancelBatch(c echo.Context) error {
	if err := s.daemon.CancelBatch(c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleEvents(c echo.Context) error {
	if c.QueryParam("stream") == "1" {
		return s.streamEvents(c)
	}

	since := uint64Query(c, "since", 0)
	limit := intQuery(c, "limit", 0)
	wait := time.Duration(intQuery(c, "wait_ms", 0)) * time.Millisecond
	if wait > maxEventWait {
		wait = maxEventWait
	}

	page, err := s.daemon.Events(c.Request().Context(), since, limit, wait)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// streamEvents serves the progress feed as server-sent events. A ?since=
// cursor replays the retained window before going live; every event
// carries its sequence as the SSE id so clients can resume.
func (s *Server) streamEvents(c echo.Context) error {
	sub := s.daemon.Subscribe(0)
	if sub == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "daemon is not running")
	}
	defer sub.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	ctx := c.Request().Context()
	cursor := uint64Query(c, "since", 0)

	// Replay after subscribing so nothing published in between is lost;
	// the live loop skips what the replay already delivered.
	page, err := s.daemon.Events(ctx, cursor, 0, 0)
	if err != nil {
		return mapServiceError(err)
	}
	for _, evt := range page.Events {
		writeSSE(resp, evt.Sequence, string(evt.Type), evt)
	}
	cursor = page.NextCursor
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	var reportedDrops uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, open := <-sub.C():
			if !open {
				return nil
			}
			if evt.Sequence <= cursor {
				continue
			}
			cursor = evt.Sequence
			writeSSE(resp, evt.Sequence, string(evt.Type), evt)
			if dropped := sub.Dropped(); dropped > reportedDrops {
				fmt.Fprintf(resp, ": dropped %d events\n\n", dropped-reportedDrops)
				reportedDrops = dropped
			}
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(resp, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, id uint64, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
}

func mapServiceError(err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}

func intQuery(c echo.Context, name string, fallback int) int {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func uint64Query(c echo.Context, name string, fallback uint64) uint64 {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}
