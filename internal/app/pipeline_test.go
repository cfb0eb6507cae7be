package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hepworks/histoship/internal/cliconfig"
	"github.com/hepworks/histoship/internal/staging"
	"github.com/hepworks/histoship/pkg/log"
)

func onceConfig(t *testing.T) cliconfig.Config {
	t.Helper()
	cfg := cliconfig.DefaultConfig()
	cfg.DataFolder = filepath.Join(t.TempDir(), "data")
	cfg.Destinations = []cliconfig.Destination{
		{Name: "yale", Kind: cliconfig.FilesystemSite, Path: filepath.Join(t.TempDir(), "yale")},
	}
	cfg.TransferSleep = time.Millisecond
	cfg.ReplaySleep = time.Millisecond
	cfg.Once = true
	return cfg
}

func TestPipelineOnceDrainsStaging(t *testing.T) {
	cfg := onceConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	// A payload already waiting in Incoming, as after a crash.
	store := staging.New(cfg.DataFolder)
	if err := store.EnsureLayout(cfg.SubsystemList); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.WriteIncoming("EMC", "EMChistos_1.combined", strings.NewReader("histogram data")); err != nil {
		t.Fatal(err)
	}

	p := NewPipeline(cfg, log.Noop())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.Status() != StateStopped {
		t.Fatalf("state = %s", p.Status())
	}

	delivered := filepath.Join(cfg.Destinations[0].Path, "EMC", "EMChistos_1.combined")
	data, err := os.ReadFile(delivered)
	if err != nil {
		t.Fatalf("delivered file: %v", err)
	}
	if string(data) != "histogram data" {
		t.Fatalf("content = %q", data)
	}

	staged, _ := store.ListStaged()
	incoming, _ := store.ListIncoming("EMC")
	if len(staged) != 0 || len(incoming) != 0 {
		t.Fatal("payload still in staging after delivery")
	}
}

func TestPipelineOnceReplaysArchivedRun(t *testing.T) {
	cfg := onceConfig(t)
	source := filepath.Join(t.TempDir(), "Run123456")
	for _, rel := range []string{"EMC/EMChistos_1.combined", "HLT/HLThistos_1.combined"} {
		path := filepath.Join(source, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("content of "+rel), 0o640); err != nil {
			t.Fatal(err)
		}
	}
	cfg.ReplaySourceDir = source
	cfg.ReplayMaxFiles = 1
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	p := NewPipeline(cfg, log.Noop())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, rel := range []string{"EMC/EMChistos_1.combined", "HLT/HLThistos_1.combined"} {
		delivered := filepath.Join(cfg.Destinations[0].Path, filepath.FromSlash(rel))
		if _, err := os.Stat(delivered); err != nil {
			t.Errorf("replayed payload not delivered: %v", err)
		}
	}

	// The archived run is fully drained.
	for _, sub := range []string{"EMC", "HLT"} {
		entries, err := os.ReadDir(filepath.Join(source, sub))
		if err == nil && len(entries) != 0 {
			t.Errorf("source %s not drained: %d files remain", sub, len(entries))
		}
	}
}

func TestPipelineRejectsDoubleStart(t *testing.T) {
	cfg := onceConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	p := NewPipeline(cfg, log.Noop())
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// A stopped pipeline can run again.
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
}
