// Package replay feeds previously recorded run data back through the live
// reception path at a controlled rate. It substitutes for a live detector
// when integration-testing or demoing the pipeline.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hepworks/histoship/internal/domain"
	"github.com/hepworks/histoship/internal/metrics"
	"github.com/hepworks/histoship/pkg/log"
)

// tempSeparator joins subsystem and filename in the temp hop, where the
// source's directory structure is flattened.
const tempSeparator = "__"

// Registrar is the part of the receiver the engine drives. Replayed files go
// through exactly the same registration logic as live data.
type Registrar interface {
	ReceiveInRun(run domain.RunID, subsystem, filename string, content io.Reader) (domain.Payload, error)
}

// Config holds a replay session's parameters.
type Config struct {
	// SourceDir is the recorded run directory to drain.
	SourceDir string

	// TempDir is the intermediate hop between source and Incoming. Files
	// found here at cycle start are leftovers from a crash and are drained
	// first.
	TempDir string

	// MaxFilesPerCycle caps how many files one cycle moves (>= 1).
	MaxFilesPerCycle int

	// Interval is the sleep between cycles (dataReplayTimeToSleep).
	Interval time.Duration
}

// Engine drains a recorded run directory through the receiver, one bounded
// cycle at a time. It keeps no resumption state beyond the residual file
// listing, which makes it restart-safe by construction.
type Engine struct {
	cfg        Config
	registrar  Registrar
	subsystems []string
	run        domain.RunID
	logger     log.Logger
	metrics    *metrics.Collector
}

// New validates the session parameters and creates an engine. The run
// identifier is derived from the source directory naming when present.
func New(cfg Config, registrar Registrar, subsystems []string, logger log.Logger, collector *metrics.Collector) (*Engine, error) {
	if cfg.SourceDir == "" {
		return nil, fmt.Errorf("%w: replay source directory is required", domain.ErrInvalidConfig)
	}
	if cfg.TempDir == "" {
		return nil, fmt.Errorf("%w: replay temp directory is required", domain.ErrInvalidConfig)
	}
	if cfg.MaxFilesPerCycle < 1 {
		return nil, fmt.Errorf("%w: max files per replay cycle must be >= 1", domain.ErrInvalidConfig)
	}
	if err := os.MkdirAll(cfg.TempDir, 0o750); err != nil {
		return nil, fmt.Errorf("create replay temp dir: %w", err)
	}
	run, _ := domain.ParseRunID(filepath.ToSlash(cfg.SourceDir))
	return &Engine{
		cfg:        cfg,
		registrar:  registrar,
		subsystems: subsystems,
		run:        run,
		logger:     logger,
		metrics:    collector,
	}, nil
}

// AdvanceOneCycle moves up to MaxFilesPerCycle files, in filename order, from
// the source directory through the temp hop into the receiver. It returns the
// number of files moved; a cycle that moves nothing returns
// ErrReplayExhausted, ending the session.
//
// A source file is deleted only after the receiver-side write is durably
// published, so rerunning a cycle after a crash never loses a file and never
// re-delivers one whose source copy is already gone.
func (e *Engine) AdvanceOneCycle() (int, error) {
	moved := 0

	// Crash leftovers first: files that made it into the temp hop but not
	// yet into Incoming.
	leftovers, err := e.listTemp()
	if err != nil {
		return 0, err
	}
	for _, name := range leftovers {
		if moved >= e.cfg.MaxFilesPerCycle {
			return moved, nil
		}
		injected, err := e.inject(name)
		if err != nil {
			return moved, err
		}
		if injected {
			moved++
		}
	}

	remaining, err := e.listSource()
	if err != nil {
		return moved, err
	}

	for _, rel := range remaining {
		if moved >= e.cfg.MaxFilesPerCycle {
			break
		}
		subsystem, ok := e.subsystemFor(rel)
		if !ok {
			// Leave it in place; a foreign file must not halt the replay.
			e.logger.Warn("replay file matches no configured subsystem, skipping",
				log.String("file", rel))
			continue
		}
		tempName := subsystem + tempSeparator + filepath.Base(rel)
		if err := moveFile(filepath.Join(e.cfg.SourceDir, rel), filepath.Join(e.cfg.TempDir, tempName)); err != nil {
			return moved, fmt.Errorf("stage replay file %s: %w", rel, err)
		}
		if _, err := e.inject(tempName); err != nil {
			return moved, err
		}
		moved++
	}
	// A cycle that injects nothing means nothing injectable remains; skipped
	// foreign files must not keep the session alive forever.
	if moved == 0 {
		return 0, domain.ErrReplayExhausted
	}
	return moved, nil
}

// Run advances cycles until the source is exhausted or ctx is cancelled,
// observing the configured sleep between cycles.
func (e *Engine) Run(ctx context.Context) error {
	for {
		n, err := e.AdvanceOneCycle()
		e.metrics.ReplayCycle(n)
		if errors.Is(err, domain.ErrReplayExhausted) {
			e.logger.Info("replay source exhausted", log.String("source", e.cfg.SourceDir))
			return nil
		}
		if err != nil {
			e.logger.Error("replay cycle failed", log.Err(err))
		} else {
			e.logger.Info("replay cycle complete", log.Int("moved", n))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.Interval):
		}
	}
}

// inject hands a temp-hop file to the receiver and removes it afterwards. It
// reports whether the file was actually injected; unidentifiable leftovers
// are left in place and do not count as progress.
func (e *Engine) inject(tempName string) (bool, error) {
	subsystem, filename, ok := strings.Cut(tempName, tempSeparator)
	if !ok {
		filename = tempName
		subsystem, ok = e.subsystemFor(tempName)
		if !ok {
			e.logger.Warn("unidentifiable replay leftover, skipping",
				log.String("file", tempName))
			return false, nil
		}
	}
	path := filepath.Join(e.cfg.TempDir, tempName)
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	_, err = e.registrar.ReceiveInRun(e.run, subsystem, filename, f)
	f.Close()
	if err != nil {
		return false, fmt.Errorf("replay %s: %w", filename, err)
	}
	return true, os.Remove(path)
}

func (e *Engine) listTemp() ([]string, error) {
	entries, err := os.ReadDir(e.cfg.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// listSource returns the residual source files as slash-separated relative
// paths, sorted by filename so the encoded receipt order is preserved.
func (e *Engine) listSource() ([]string, error) {
	var rels []string
	err := filepath.WalkDir(e.cfg.SourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(e.cfg.SourceDir, path)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(rels, func(i, j int) bool {
		bi, bj := filepath.Base(rels[i]), filepath.Base(rels[j])
		if bi != bj {
			return bi < bj
		}
		return rels[i] < rels[j]
	})
	return rels, nil
}

// subsystemFor resolves the subsystem of a source file: a leading directory
// component naming a subsystem wins, otherwise the filename prefix decides
// (the <SUB>histos_* convention).
func (e *Engine) subsystemFor(rel string) (string, bool) {
	dir, base := filepath.Split(rel)
	for _, sub := range e.subsystems {
		if strings.HasPrefix(dir, sub+"/") || dir == sub {
			return sub, true
		}
	}
	for _, sub := range e.subsystems {
		if strings.HasPrefix(base, sub) {
			return sub, true
		}
	}
	return "", false
}

// moveFile renames when possible and falls back to copy-then-remove across
// volumes. The fallback is not atomic; the receiver's idempotent naming makes
// a duplicate injection after a crash harmless.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
