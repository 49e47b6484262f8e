// Command ramekin captures recipes into a versioned, per-owner store.
package main

import (
	"context"

	"github.com/3leaps/ramekin/internal/cmd"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	cmd.Execute(context.Background())
}
