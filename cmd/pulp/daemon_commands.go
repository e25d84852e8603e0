package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pulp/internal/api"
	"pulp/internal/daemonctl"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the pulpd background process",
	}

	daemonCmd.AddCommand(newDaemonStartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonRestartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))

	return daemonCmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the pulp daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				if result.PID > 0 {
					fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
				} else {
					fmt.Fprintln(stdout, "Daemon started")
				}
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the pulp daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not stop in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
}

func newDaemonRestartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the pulp daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Killed unresponsive daemon (pid %d)\n", result.Stop.PID)
				} else {
					fmt.Fprintln(stdout, "Daemon stopped")
				}
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, backend, and catalog status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			status, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range daemonLines(status, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range dependencyLines(status.Dependencies, colorize) {
				fmt.Fprintln(stdout, line)
			}

			if len(status.Backends) > 0 {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Backends", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, backend := range status.Backends {
					fmt.Fprintln(stdout, renderStatusLine(backend.Name, backendKind(backend), backendDetail(backend), colorize))
				}
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Catalog", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildCatalogStatsRows(status.Pipeline.CatalogStats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Catalog is empty")
				return nil
			}
			table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
			fmt.Fprintln(stdout, table)
			return nil
		},
	}
}

func daemonLines(status *api.DaemonStatus, colorize bool) []string {
	lines := make([]string, 0, 6)
	if status.Running {
		detail := fmt.Sprintf("Running (pid %d)", status.PID)
		if status.Version != "" {
			detail += ", version " + status.Version
		}
		lines = append(lines, renderStatusLine("Pulp", statusOK, detail, colorize))
		if status.StartedAt != "" {
			lines = append(lines, renderStatusLine("Started", statusInfo, status.StartedAt, colorize))
		}
		detailPipeline := fmt.Sprintf("Concurrency %d", status.Pipeline.Concurrency)
		if n := len(status.Pipeline.ActiveBatches); n > 0 {
			detailPipeline += fmt.Sprintf(", %d batch(es) in flight", n)
		} else {
			detailPipeline += ", idle"
		}
		lines = append(lines, renderStatusLine("Pipeline", statusOK, detailPipeline, colorize))
		if status.Memory != nil {
			lines = append(lines, renderStatusLine("Memory", statusInfo,
				fmt.Sprintf("%d MB available of %d MB", status.Memory.AvailableMB, status.Memory.TotalMB), colorize))
		}
	} else {
		lines = append(lines, renderStatusLine("Pulp", statusWarn, "Not running (run `pulp daemon start`)", colorize))
	}
	lines = append(lines, renderStatusLine("Catalog", statusInfo, status.CatalogPath, colorize))
	return lines
}

func dependencyLines(deps []api.DependencyStatus, colorize bool) []string {
	if len(deps) == 0 {
		return []string{renderStatusLine("Dependencies", statusInfo, "No checks configured", colorize)}
	}
	lines := make([]string, 0, len(deps))
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Target != "" {
				message = fmt.Sprintf("Ready (%s)", dep.Target)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}

func backendKind(backend api.BackendStatus) statusKind {
	switch backend.Phase {
	case "ready":
		return statusOK
	case "failed":
		return statusError
	case "starting", "draining":
		return statusWarn
	default:
		return statusInfo
	}
}

func backendDetail(backend api.BackendStatus) string {
	detail := backend.Phase
	if backend.Refs > 0 {
		detail += fmt.Sprintf(", %d ref(s)", backend.Refs)
	}
	if backend.Starts > 0 {
		detail += fmt.Sprintf(", %d start(s)", backend.Starts)
	}
	if backend.LastError != "" {
		detail += ", last error: " + backend.LastError
	}
	return detail
}

func buildCatalogStatsRows(stats map[string]int) [][]string {
	order := []string{"pending", "running", "completed", "failed", "aborted", "cancelled"}
	rows := make([][]string, 0, len(stats))
	seen := make(map[string]bool, len(stats))
	for _, status := range order {
		if count, ok := stats[status]; ok {
			rows = append(rows, []string{status, fmt.Sprintf("%d", count)})
			seen[status] = true
		}
	}
	for status, count := range stats {
		if !seen[status] {
			rows = append(rows, []string{status, fmt.Sprintf("%d", count)})
		}
	}
	return rows
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	if ctx.configFlag != nil {
		if cfgPath := strings.TrimSpace(*ctx.configFlag); cfgPath != "" {
			opts.ConfigPath = cfgPath
		}
	}
	return opts
}
