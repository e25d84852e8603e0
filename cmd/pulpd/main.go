// Command pulpd runs the pulp ingestion daemon in the foreground. It is
// the systemd-friendly twin of `pulp run`.
package main

import (
	"context"
	"log"

	"pulp/internal/config"
	"pulp/internal/daemonrun"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, version, daemonrun.Options{}); err != nil {
		log.Fatalf("pulpd: %v", err)
	}
}
