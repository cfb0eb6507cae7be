package transfer

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hepworks/histoship/internal/domain"
	"github.com/hepworks/histoship/internal/ports"
	"github.com/hepworks/histoship/internal/staging"
	"github.com/hepworks/histoship/pkg/log"
)

// mockDestination fails a scripted number of times, then accepts everything.
// With rawErrors set the failures are plain errors instead of classified
// transport errors.
type mockDestination struct {
	name      string
	failures  int
	conflict  bool
	rawErrors bool
	calls     int
	received  []string
}

func (d *mockDestination) Name() string { return d.name }

func (d *mockDestination) Deliver(_ context.Context, p domain.Payload, content io.Reader) error {
	d.calls++
	if d.conflict {
		return &domain.ContentConflictError{Destination: d.name, Filename: p.Filename, Reason: "size mismatch"}
	}
	if d.calls <= d.failures {
		if d.rawErrors {
			return os.ErrDeadlineExceeded
		}
		return &domain.TransportError{Destination: d.name, Err: os.ErrDeadlineExceeded}
	}
	if _, err := io.Copy(io.Discard, content); err != nil {
		return err
	}
	d.received = append(d.received, p.Filename)
	return nil
}

func newTestStore(t *testing.T) *staging.Store {
	t.Helper()
	s := staging.New(t.TempDir())
	if err := s.EnsureLayout([]string{"EMC", "HLT"}); err != nil {
		t.Fatal(err)
	}
	return s
}

func landPayload(t *testing.T, s *staging.Store, subsystem, filename string) {
	t.Helper()
	if _, _, err := s.WriteIncoming(subsystem, filename, strings.NewReader("histogram data")); err != nil {
		t.Fatal(err)
	}
}

func newTestManager(store *staging.Store, retryLimit int, dests ...*mockDestination) *Manager {
	cfg := Config{RetryLimit: retryLimit, Interval: time.Millisecond, AttemptTimeout: time.Second}
	ds := make([]ports.Destination, len(dests))
	for i, d := range dests {
		ds[i] = d
	}
	return New(cfg, store, ds, []string{"EMC", "HLT"}, log.Noop(), nil)
}

func TestFullDeliveryRemovesPayload(t *testing.T) {
	store := newTestStore(t)
	landPayload(t, store, "EMC", "a.combined")
	yale := &mockDestination{name: "yale"}
	eos := &mockDestination{name: "EOS"}
	m := newTestManager(store, 3, yale, eos)

	stats, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Promoted != 1 || stats.Delivered != 2 || stats.Completed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(yale.received) != 1 || len(eos.received) != 1 {
		t.Fatal("destinations did not both receive the payload")
	}

	staged, _ := store.ListStaged()
	incoming, _ := store.ListIncoming("EMC")
	if len(staged) != 0 || len(incoming) != 0 {
		t.Fatalf("payload still tracked: staged=%v incoming=%v", staged, incoming)
	}
}

// One site accepts immediately, the other needs three tries. The payload must
// stay isolated in temp storage between cycles, never be re-sent to the site
// that confirmed, and be removed once the slow site confirms.
func TestPartialDeliveryRetriesOnlyOutstandingSite(t *testing.T) {
	store := newTestStore(t)
	landPayload(t, store, "EMC", "a.combined")
	yale := &mockDestination{name: "yale"}
	eos := &mockDestination{name: "EOS", failures: 2}
	m := newTestManager(store, 3, yale, eos)
	ctx := context.Background()

	for cycle := 1; cycle <= 2; cycle++ {
		if _, err := m.RunCycle(ctx); err != nil {
			t.Fatal(err)
		}
		staged, _ := store.ListStaged()
		if len(staged) != 1 {
			t.Fatalf("cycle %d: payload not held in tempStorage: %v", cycle, staged)
		}
		incoming, _ := store.ListIncoming("EMC")
		if len(incoming) != 0 {
			t.Fatalf("cycle %d: partially delivered payload returned to Incoming", cycle)
		}
	}

	stats, err := m.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 {
		t.Fatalf("third cycle stats = %+v", stats)
	}
	if yale.calls != 1 {
		t.Fatalf("yale attempted %d times, want 1", yale.calls)
	}
	if eos.calls != 3 {
		t.Fatalf("EOS attempted %d times, want 3", eos.calls)
	}
}

// With nothing delivered and retries remaining, the payload goes back to
// Incoming between cycles.
func TestUndeliveredPayloadReturnsToIncoming(t *testing.T) {
	store := newTestStore(t)
	landPayload(t, store, "EMC", "a.combined")
	eos := &mockDestination{name: "EOS", failures: 1}
	m := newTestManager(store, 3, eos)
	ctx := context.Background()

	if _, err := m.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	incoming, _ := store.ListIncoming("EMC")
	if len(incoming) != 1 {
		t.Fatal("failed payload not returned to Incoming")
	}
	staged, _ := store.ListStaged()
	if len(staged) != 0 {
		t.Fatal("failed payload left in tempStorage")
	}

	stats, err := m.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

// After the retry limit, the payload is stranded in temp storage with a
// marker. No further attempts are made and the file is never deleted.
func TestRetryLimitStrandsPayload(t *testing.T) {
	store := newTestStore(t)
	landPayload(t, store, "EMC", "a.combined")
	eos := &mockDestination{name: "EOS", failures: 99}
	m := newTestManager(store, 2, eos)
	ctx := context.Background()

	if _, err := m.RunCycle(ctx); err != nil { // attempt 1, demoted
		t.Fatal(err)
	}
	stats, err := m.RunCycle(ctx) // attempt 2, terminal
	if err != nil {
		t.Fatal(err)
	}
	if stats.Stranded != 1 {
		t.Fatalf("second cycle stats = %+v", stats)
	}
	if eos.calls != 2 {
		t.Fatalf("attempts = %d, want exactly the retry limit", eos.calls)
	}

	staged, _ := store.ListStaged()
	if len(staged) != 1 {
		t.Fatal("stranded payload missing from tempStorage")
	}
	if !store.Failed(staged[0]) {
		t.Fatal("stranded payload carries no failure marker")
	}

	// Further cycles must not attempt again or repeat the marker.
	stats, err = m.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Attempted != 0 || stats.Stranded != 0 {
		t.Fatalf("third cycle stats = %+v", stats)
	}
	if eos.calls != 2 {
		t.Fatalf("attempts grew past the limit: %d", eos.calls)
	}
}

// A content conflict is terminal on the first attempt and does not consume
// the retry counter.
func TestConflictIsTerminalImmediately(t *testing.T) {
	store := newTestStore(t)
	landPayload(t, store, "EMC", "a.combined")
	yale := &mockDestination{name: "yale"}
	eos := &mockDestination{name: "EOS", conflict: true}
	m := newTestManager(store, 5, yale, eos)
	ctx := context.Background()

	stats, err := m.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Stranded != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if eos.calls != 1 {
		t.Fatalf("conflicted destination attempted %d times", eos.calls)
	}

	staged, _ := store.ListStaged()
	if len(staged) != 1 {
		t.Fatal("conflicted payload not held for inspection")
	}
	records, err := store.LoadRecords(staged[0], []string{"yale", "EOS"})
	if err != nil {
		t.Fatal(err)
	}
	eosRec := records.Record("EOS")
	if !eosRec.Terminal || eosRec.Attempts != 0 {
		t.Fatalf("EOS record = %+v", eosRec)
	}
	if records.Record("yale").Status != domain.StatusDelivered {
		t.Fatal("healthy destination blocked by the conflicted one")
	}
}

// An error the destination did not classify is retried within the attempt
// limit like a transport failure, not treated as terminal on first sight.
func TestUnclassifiedErrorsAreRetried(t *testing.T) {
	store := newTestStore(t)
	landPayload(t, store, "EMC", "a.combined")
	eos := &mockDestination{name: "EOS", failures: 1, rawErrors: true}
	m := newTestManager(store, 3, eos)
	ctx := context.Background()

	if _, err := m.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	incoming, _ := store.ListIncoming("EMC")
	if len(incoming) != 1 {
		t.Fatal("payload not returned to Incoming after a plain error")
	}
	records, err := store.LoadRecords(incoming[0], []string{"EOS"})
	if err != nil {
		t.Fatal(err)
	}
	rec := records.Record("EOS")
	if rec.Terminal || rec.Attempts != 1 {
		t.Fatalf("record after plain error = %+v", rec)
	}

	stats, err := m.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 || eos.calls != 2 {
		t.Fatalf("stats = %+v, calls = %d", stats, eos.calls)
	}
}

// Records persisted across a simulated restart: a new manager picks up the
// attempt count instead of starting over.
func TestAttemptCountSurvivesRestart(t *testing.T) {
	store := newTestStore(t)
	landPayload(t, store, "EMC", "a.combined")
	ctx := context.Background()

	eos := &mockDestination{name: "EOS", failures: 99}
	m := newTestManager(store, 2, eos)
	if _, err := m.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}

	eos2 := &mockDestination{name: "EOS", failures: 99}
	m2 := newTestManager(store, 2, eos2)
	stats, err := m2.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Stranded != 1 {
		t.Fatalf("stats after restart = %+v", stats)
	}
	if eos2.calls != 1 {
		t.Fatalf("restarted manager attempted %d times, want 1", eos2.calls)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := newTestStore(t)
	m := newTestManager(store, 3, &mockDestination{name: "yale"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
