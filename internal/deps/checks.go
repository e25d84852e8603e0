package deps

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"pulp/internal/config"
)

// endpointTimeout bounds reachability probes so status output never hangs
// on a dead endpoint.
const endpointTimeout = 2 * time.Second

// Check evaluates every external dependency the configured pipeline needs:
// the parser backend (binary when managed, endpoint when external), the
// embedding endpoint, the remote graph service when configured, and the
// data directory.
func Check(cfg *config.Config) []Status {
	if cfg == nil {
		return nil
	}

	var out []Status
	if cmd := strings.TrimSpace(cfg.Parser.Command); cmd != "" {
		out = append(out, CheckBinaries([]Requirement{{
			Name:        "Parser backend",
			Command:     cmd,
			Description: "Managed document parsing sidecar",
		}})...)
	} else {
		out = append(out, CheckEndpoint("Parser backend", "External document parsing sidecar", cfg.Parser.BaseURL, false))
	}

	out = append(out, CheckEndpoint("Embedding endpoint", "OpenAI-compatible embedding server", cfg.Embedding.BaseURL, false))

	if strings.EqualFold(strings.TrimSpace(cfg.Graph.Mode), "remote") {
		out = append(out, CheckEndpoint("Graph service", "Remote graph extraction service", cfg.Graph.BaseURL, true))
	}

	out = append(out, CheckWritable("Data directory", "Holds the catalog, vector store, and graph store", cfg.Paths.DataDir))
	return out
}

// CheckEndpoint probes an HTTP endpoint at the TCP level. Any accepted
// connection counts as available; the service's own health is the lifecycle
// manager's concern.
func CheckEndpoint(name, description, rawURL string, optional bool) Status {
	status := Status{
		Name:        name,
		Target:      strings.TrimSpace(rawURL),
		Description: description,
		Optional:    optional,
	}
	if status.Target == "" {
		status.Detail = "endpoint not configured"
		return status
	}

	parsed, err := url.Parse(status.Target)
	if err != nil || parsed.Host == "" {
		status.Detail = fmt.Sprintf("invalid endpoint %q", status.Target)
		return status
	}
	addr := parsed.Host
	if parsed.Port() == "" {
		port := "80"
		if parsed.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(parsed.Hostname(), port)
	}

	conn, err := net.DialTimeout("tcp", addr, endpointTimeout)
	if err != nil {
		status.Detail = fmt.Sprintf("endpoint unreachable: %v", err)
		return status
	}
	_ = conn.Close()
	status.Available = true
	return status
}

// CheckWritable verifies the directory exists (creating it if needed) and
// accepts writes.
func CheckWritable(name, description, dir string) Status {
	status := Status{
		Name:        name,
		Target:      strings.TrimSpace(dir),
		Description: description,
	}
	if status.Target == "" {
		status.Detail = "directory not configured"
		return status
	}
	if err := os.MkdirAll(status.Target, 0o755); err != nil {
		status.Detail = fmt.Sprintf("cannot create directory: %v", err)
		return status
	}
	probe, err := os.CreateTemp(status.Target, ".pulp-probe-*")
	if err != nil {
		status.Detail = fmt.Sprintf("directory not writable: %v", err)
		return status
	}
	probePath := probe.Name()
	_ = probe.Close()
	_ = os.Remove(probePath)
	status.Available = true
	return status
}
