// Package dirwatch provides a live payload source backed by an inbox
// directory. The subscription process (the excluded transport layer) lands
// each message as a complete file in the inbox; this source watches for new
// files and hands each one to the payload sink.
package dirwatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hepworks/histoship/internal/domain"
	"github.com/hepworks/histoship/internal/ports"
	"github.com/hepworks/histoship/pkg/log"
)

// DefaultScanInterval is the polling fallback for files that arrived while
// the watcher was down or whose events were coalesced away.
const DefaultScanInterval = 5 * time.Second

// settleDelay gives a writer that does not use rename-into-place a moment to
// finish before the file is read.
const settleDelay = 200 * time.Millisecond

// Source watches an inbox directory tree. The first path component under the
// inbox names the subsystem: <inbox>/<subsystem>/<filename>.
type Source struct {
	inbox        string
	subsystems   []string
	scanInterval time.Duration
	sink         ports.PayloadSink
	logger       log.Logger
}

// New creates an inbox source feeding sink. A non-positive scanInterval
// selects the default.
func New(inbox string, subsystems []string, scanInterval time.Duration, sink ports.PayloadSink, logger log.Logger) *Source {
	if scanInterval <= 0 {
		scanInterval = DefaultScanInterval
	}
	return &Source{
		inbox:        inbox,
		subsystems:   subsystems,
		scanInterval: scanInterval,
		sink:         sink,
		logger:       logger,
	}
}

// Run watches the inbox until ctx is cancelled. Failures to land a single
// file never stop the watch.
func (s *Source) Run(ctx context.Context) error {
	for _, sub := range s.subsystems {
		if err := os.MkdirAll(filepath.Join(s.inbox, sub), 0o750); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	for _, sub := range s.subsystems {
		if err := watcher.Add(filepath.Join(s.inbox, sub)); err != nil {
			return err
		}
	}

	// Pick up anything that landed before the watch started.
	s.scan(ctx)

	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			time.Sleep(settleDelay)
			s.consume(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("inbox watch error", log.Err(err))
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// scan walks every subsystem inbox and consumes what it finds, oldest
// filename first.
func (s *Source) scan(ctx context.Context) {
	for _, sub := range s.subsystems {
		dir := filepath.Join(s.inbox, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			if ctx.Err() != nil {
				return
			}
			s.consume(filepath.Join(dir, name))
		}
	}
}

// consume hands one inbox file to the sink. The inbox copy is the payload's
// only copy until the sink has published it, so it is removed only after
// Receive succeeds. Rejected files (unknown subsystem, bad name) can never
// land and are dropped; on any other failure the file stays in the inbox and
// the next scan retries it.
func (s *Source) consume(path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return
	}
	subsystem := filepath.Base(filepath.Dir(path))

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to open inbox file",
				log.String("file", name), log.Err(err))
		}
		return
	}
	_, err = s.sink.Receive(subsystem, name, f)
	f.Close()

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnknownSubsystem), errors.Is(err, domain.ErrInvalidFilename):
		s.logger.Warn("dropping rejected inbox file",
			log.String("file", name), log.Err(err))
	default:
		s.logger.Warn("failed to land inbox file, will retry",
			log.String("file", name), log.Err(err))
		return
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove consumed inbox file",
			log.String("file", name), log.Err(err))
	}
}
