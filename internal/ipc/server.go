package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"pulp/internal/api"
	"pulp/internal/logging"
	"pulp/internal/logs"
)

// Daemon is the control surface the RPC service drives. Implemented by
// daemon.Daemon; tests substitute fakes.
type Daemon interface {
	Version() string
	Status(ctx context.Context) api.DaemonStatus
	Ingest(ctx context.Context, paths []string, displayNames map[string]string) (api.Receipt, error)
	CancelBatch(batchID string) error
	Events(ctx context.Context, since uint64, limit int, wait time.Duration) (api.EventPage, error)
	ListBatches(ctx context.Context, limit int) ([]api.Batch, error)
	DescribeBatch(ctx context.Context, batchID string) (*api.BatchDetail, error)
	ClearCompleted(ctx context.Context) (int64, error)
	TestNotification(ctx context.Context) (bool, string, error)
	LogPath() string
	RequestShutdown()
}

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path. Any stale
// socket left by a previous process is removed before binding; the fresh
// socket is restricted to the owning user.
func NewServer(ctx context.Context, path string, d Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Pulp", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Ping(_ PingRequest, resp *PingResponse) error {
	resp.Version = s.daemon.Version()
	resp.PID = os.Getpid()
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) Ingest(req IngestRequest, resp *IngestResponse) error {
	if len(req.Paths) == 0 {
		return errors.New("ingest requires at least one path")
	}
	s.logger.Debug("ingest requested", logging.Int("path_count", len(req.Paths)))
	receipt, err := s.daemon.Ingest(s.ctx, req.Paths, req.DisplayNames)
	if err != nil {
		return err
	}
	resp.Receipt = receipt
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	if req.BatchID == "" {
		return errors.New("cancel requires a batch id")
	}
	if err := s.daemon.CancelBatch(req.BatchID); err != nil {
		return err
	}
	resp.Cancelled = true
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	ctx := s.ctx
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	page, err := s.daemon.Events(ctx, req.Since, req.Limit, wait)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	resp.Events = page.Events
	resp.NextCursor = page.NextCursor
	resp.Dropped = page.Dropped
	return nil
}

func (s *service) BatchList(req BatchListRequest, resp *BatchListResponse) error {
	batches, err := s.daemon.ListBatches(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Batches = batches
	return nil
}

func (s *service) BatchShow(req BatchShowRequest, resp *BatchShowResponse) error {
	if req.ID == "" {
		return errors.New("batch show requires an id")
	}
	detail, err := s.daemon.DescribeBatch(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if detail == nil {
		return fmt.Errorf("batch %s not found", req.ID)
	}
	resp.Batch = detail.Batch
	resp.Documents = detail.Documents
	return nil
}

func (s *service) ClearCompleted(_ ClearCompletedRequest, resp *ClearCompletedResponse) error {
	removed, err := s.daemon.ClearCompleted(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.logger.Info("catalog completed batches cleared", logging.Int64("removed_count", removed))
	return nil
}

func (s *service) TestNotify(_ TestNotifyRequest, resp *TestNotifyResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	s.logger.Info("shutdown requested via IPC")
	s.daemon.RequestShutdown()
	resp.Stopping = true
	return nil
}
