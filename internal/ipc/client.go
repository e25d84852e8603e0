package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping verifies the daemon is reachable.
func (c *Client) Ping() (*PingResponse, error) {
	var resp PingResponse
	if err := c.client.Call("Pulp.Ping", PingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the aggregated daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Pulp.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ingest submits local paths for processing and returns the batch receipt.
func (c *Client) Ingest(paths []string, displayNames map[string]string) (*IngestResponse, error) {
	var resp IngestResponse
	req := IngestRequest{Paths: paths, DisplayNames: displayNames}
	if err := c.client.Call("Pulp.Ingest", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel aborts one in-flight batch.
func (c *Client) Cancel(batchID string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.client.Call("Pulp.Cancel", CancelRequest{BatchID: batchID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events fetches a page of progress events at or after the cursor.
func (c *Client) Events(req EventsRequest) (*EventsResponse, error) {
	var resp EventsResponse
	if err := c.client.Call("Pulp.Events", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchList returns recorded batches, newest first.
func (c *Client) BatchList(limit int) (*BatchListResponse, error) {
	var resp BatchListResponse
	if err := c.client.Call("Pulp.BatchList", BatchListRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchShow returns one batch with its documents.
func (c *Client) BatchShow(id string) (*BatchShowResponse, error) {
	var resp BatchShowResponse
	if err := c.client.Call("Pulp.BatchShow", BatchShowRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearCompleted removes finished batches from the catalog.
func (c *Client) ClearCompleted() (*ClearCompletedResponse, error) {
	var resp ClearCompletedResponse
	if err := c.client.Call("Pulp.ClearCompleted", ClearCompletedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotify triggers a notification test via the daemon.
func (c *Client) TestNotify() (*TestNotifyResponse, error) {
	var resp TestNotifyResponse
	if err := c.client.Call("Pulp.TestNotify", TestNotifyRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Pulp.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.client.Call("Pulp.Shutdown", ShutdownRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
