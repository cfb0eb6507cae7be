// Package app wires the configured components into the running pipeline:
// the payload source feeding the receiver, the transfer manager draining
// staging, and optionally the replay engine, each in its own loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hepworks/histoship/internal/adapters/dirwatch"
	"github.com/hepworks/histoship/internal/adapters/fs"
	"github.com/hepworks/histoship/internal/adapters/grid"
	"github.com/hepworks/histoship/internal/adapters/httpsource"
	"github.com/hepworks/histoship/internal/cliconfig"
	"github.com/hepworks/histoship/internal/domain"
	"github.com/hepworks/histoship/internal/metrics"
	"github.com/hepworks/histoship/internal/ports"
	"github.com/hepworks/histoship/internal/receive"
	"github.com/hepworks/histoship/internal/replay"
	"github.com/hepworks/histoship/internal/staging"
	"github.com/hepworks/histoship/internal/transfer"
	"github.com/hepworks/histoship/pkg/log"
)

// Pipeline owns the three concurrent loops of the service. The loops share
// only the staging directory tree; all coordination between them happens
// through the staging store's atomic renames.
type Pipeline struct {
	cfg       cliconfig.Config
	logger    log.Logger
	lifecycle *Lifecycle
	collector *metrics.Collector
}

// NewPipeline creates a pipeline for a validated configuration.
func NewPipeline(cfg cliconfig.Config, logger log.Logger) *Pipeline {
	var collector *metrics.Collector
	if cfg.MetricsAddress != "" {
		collector = metrics.New()
	}
	return &Pipeline{
		cfg:       cfg,
		logger:    logger,
		lifecycle: NewLifecycle(logger),
		collector: collector,
	}
}

// Status returns the lifecycle state.
func (p *Pipeline) Status() State { return p.lifecycle.State() }

// Stop triggers graceful shutdown.
func (p *Pipeline) Stop() { p.lifecycle.Cancel() }

// Run starts the pipeline and blocks until ctx is cancelled (or, in once
// mode, until the single pass completes).
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.lifecycle.TransitionTo(StateStarting, "run requested"); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.lifecycle.SetCancel(cancel)

	err := p.run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		_ = p.lifecycle.TransitionTo(StateCrashed, err.Error())
		return err
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context) error {
	dataDir := p.cfg.DataFolder
	if p.cfg.ReplayEnabled() && p.cfg.ReplayDestDir != "" {
		dataDir = p.cfg.ReplayDestDir
	}
	store := staging.New(dataDir)
	if err := store.EnsureLayout(p.cfg.SubsystemList); err != nil {
		return err
	}

	destinations, err := p.buildDestinations(ctx)
	if err != nil {
		return err
	}

	receiver := receive.New(store, p.cfg.SubsystemList, p.cfg.DestinationNames(), p.logger, p.collector)
	manager := transfer.New(transfer.Config{
		RetryLimit:     p.cfg.TransferRetries,
		Interval:       p.cfg.TransferSleep,
		AttemptTimeout: p.cfg.TransferTimeout,
	}, store, destinations, p.cfg.SubsystemList, p.logger, p.collector)

	var engine *replay.Engine
	if p.cfg.ReplayEnabled() {
		engine, err = replay.New(replay.Config{
			SourceDir:        p.cfg.ReplaySourceDir,
			TempDir:          p.cfg.ReplayTempDir,
			MaxFilesPerCycle: p.cfg.ReplayMaxFiles,
			Interval:         p.cfg.ReplaySleep,
		}, receiver, p.cfg.SubsystemList, p.logger, p.collector)
		if err != nil {
			return err
		}
	}

	p.startMetricsServer(ctx)

	if p.cfg.Once {
		return p.runOnce(ctx, engine, manager)
	}

	p.lifecycle.Go(func() {
		if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("transfer loop stopped", log.Err(err))
			p.lifecycle.Cancel()
		}
	})

	if engine != nil {
		p.lifecycle.Go(func() {
			if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("replay loop stopped", log.Err(err))
			}
		})
	} else if source := p.buildSource(receiver); source != nil {
		p.lifecycle.Go(func() {
			if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("payload source stopped", log.Err(err))
				p.lifecycle.Cancel()
			}
		})
	}

	if err := p.lifecycle.TransitionTo(StateRunning, "all loops started"); err != nil {
		return err
	}

	<-ctx.Done()
	_ = p.lifecycle.TransitionTo(StateStopping, "context cancelled")
	waitErr := p.lifecycle.WaitWithTimeout(ShutdownTimeout)
	_ = p.lifecycle.TransitionTo(StateStopped, "shutdown complete")
	return waitErr
}

// runOnce drains the replay source completely (when configured) and performs
// a single transfer cycle, then exits.
func (p *Pipeline) runOnce(ctx context.Context, engine *replay.Engine, manager *transfer.Manager) error {
	if err := p.lifecycle.TransitionTo(StateRunning, "once mode"); err != nil {
		return err
	}
	defer func() {
		_ = p.lifecycle.TransitionTo(StateStopping, "once mode complete")
		_ = p.lifecycle.TransitionTo(StateStopped, "once mode complete")
	}()

	if engine != nil {
		for {
			n, err := engine.AdvanceOneCycle()
			if errors.Is(err, domain.ErrReplayExhausted) {
				break
			}
			if err != nil {
				return err
			}
			p.collector.ReplayCycle(n)
		}
	}
	stats, err := manager.RunCycle(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("transfer cycle complete",
		log.Int("promoted", stats.Promoted),
		log.Int("attempted", stats.Attempted),
		log.Int("delivered", stats.Delivered),
		log.Int("completed", stats.Completed),
	)
	return nil
}

// buildDestinations resolves the configured locations into destination
// adapters, preserving declaration order.
func (p *Pipeline) buildDestinations(ctx context.Context) ([]ports.Destination, error) {
	dests := make([]ports.Destination, 0, len(p.cfg.Destinations))
	for _, d := range p.cfg.Destinations {
		switch d.Kind {
		case cliconfig.StorageGridSite:
			bucket, prefix, err := grid.ParseSpec(d.Spec)
			if err != nil {
				return nil, fmt.Errorf("destination %s: %w", d.Name, err)
			}
			client, err := grid.NewClient(ctx, grid.Config{
				Endpoint:        p.cfg.GridEndpoint,
				Region:          p.cfg.GridRegion,
				Bucket:          bucket,
				KeyPrefix:       prefix,
				AccessKeyID:     p.cfg.GridAccessKeyID,
				SecretAccessKey: p.cfg.GridSecretAccessKey,
				ForcePathStyle:  p.cfg.GridForcePathStyle,
			})
			if err != nil {
				return nil, fmt.Errorf("destination %s: %w", d.Name, err)
			}
			dests = append(dests, grid.New(d.Name, client, bucket, prefix))
		default:
			dests = append(dests, fs.NewSite(d.Name, d.Path))
		}
	}
	return dests, nil
}

// buildSource picks the live payload source feeding sink, or nil when the
// deployment only drains staging.
func (p *Pipeline) buildSource(sink ports.PayloadSink) ports.PayloadSource {
	switch {
	case p.cfg.InboxDirectory != "":
		return dirwatch.New(p.cfg.InboxDirectory, p.cfg.SubsystemList, 0, sink, p.logger)
	case p.cfg.ListenAddress != "":
		return httpsource.New(p.cfg.ListenAddress, sink, p.logger)
	default:
		return nil
	}
}

func (p *Pipeline) startMetricsServer(ctx context.Context) {
	if p.collector == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.collector.Handler())
	server := &http.Server{
		Addr:              p.cfg.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	p.lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Warn("metrics listener stopped", log.Err(err))
		}
	})
	p.lifecycle.Go(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
}
