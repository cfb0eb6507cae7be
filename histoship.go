// Package histoship ships detector histogram payloads from a receiving host
// to their configured delivery sites.
//
// Payloads arrive from a live source (an inbox directory or an HTTP push
// endpoint), are staged on local disk with atomic renames, and are then
// transferred to every configured site with bounded retries. A replay mode
// re-injects previously archived payloads through the same pipeline.
//
// Example usage:
//
//	cfg := histoship.DefaultConfig()
//	cfg.DataFolder = "/data/histoship"
//	cfg.Destinations = []histoship.Destination{
//	    {Name: "yale", Kind: histoship.FilesystemSite, Path: "/mnt/yale"},
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := histoship.Run(context.Background(), cfg); err != nil {
//	    log.Fatal(err)
//	}
package histoship

import (
	"context"

	"github.com/hepworks/histoship/internal/app"
	"github.com/hepworks/histoship/internal/cliconfig"
	"github.com/hepworks/histoship/pkg/log"
)

// Config holds the full pipeline configuration.
// Use DefaultConfig() for sensible defaults.
type Config = cliconfig.Config

// Destination is one configured delivery site.
type Destination = cliconfig.Destination

// Destination kinds.
const (
	FilesystemSite  = cliconfig.FilesystemSite
	StorageGridSite = cliconfig.StorageGridSite
)

// GridSiteName is the reserved site name that always resolves to a
// storage-grid push.
const GridSiteName = cliconfig.GridSiteName

// DefaultConfig returns a Config with sensible default values.
// At minimum, set DataFolder and at least one destination before Run.
func DefaultConfig() Config {
	return cliconfig.DefaultConfig()
}

// Run starts the pipeline with the given validated configuration. It blocks
// until the context is cancelled or, with cfg.Once set, until the single
// pass completes.
func Run(ctx context.Context, cfg Config) error {
	return RunWithLogger(ctx, cfg, log.NewZerologAdapter())
}

// RunWithLogger is Run with a caller-supplied logger.
func RunWithLogger(ctx context.Context, cfg Config, logger log.Logger) error {
	return app.NewPipeline(cfg, logger).Run(ctx)
}
