// Command libsync is a shortcut for cmd/libsync so `go run .` works from the repo root.
package main

import (
	"log/slog"
	"os"

	"github.com/bowmanmike/libsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
