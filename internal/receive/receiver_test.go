package receive

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hepworks/histoship/internal/domain"
	"github.com/hepworks/histoship/internal/staging"
	"github.com/hepworks/histoship/pkg/log"
)

func newTestReceiver(t *testing.T) (*Receiver, *staging.Store) {
	t.Helper()
	store := staging.New(t.TempDir())
	if err := store.EnsureLayout([]string{"EMC", "HLT"}); err != nil {
		t.Fatal(err)
	}
	r := New(store, []string{"EMC", "HLT"}, []string{"yale", "EOS"}, log.Noop(), nil)
	return r, store
}

func TestReceivePublishesPayloadWithRecords(t *testing.T) {
	r, store := newTestReceiver(t)

	p, err := r.Receive("EMC", "EMChistos_1.combined", strings.NewReader("histogram data"))
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if p.SizeBytes != int64(len("histogram data")) {
		t.Errorf("SizeBytes = %d", p.SizeBytes)
	}
	if p.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not assigned")
	}

	refs, err := store.ListIncoming("EMC")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].Filename != "EMChistos_1.combined" {
		t.Fatalf("refs = %v", refs)
	}

	records, err := store.LoadRecords(refs[0], []string{"yale", "EOS"})
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{"yale", "EOS"} {
		if records.Record(d).Status != domain.StatusPending {
			t.Errorf("%s status = %s, want Pending", d, records.Record(d).Status)
		}
	}
}

func TestReceiveUnknownSubsystemDrops(t *testing.T) {
	r, store := newTestReceiver(t)

	_, err := r.Receive("TPC", "TPChistos_1.combined", strings.NewReader("x"))
	if !errors.Is(err, domain.ErrUnknownSubsystem) {
		t.Fatalf("err = %v", err)
	}

	// Nothing lands anywhere.
	for _, sub := range []string{"EMC", "HLT"} {
		refs, _ := store.ListIncoming(sub)
		if len(refs) != 0 {
			t.Fatalf("payload landed under %s", sub)
		}
	}
	if _, err := os.Stat(filepath.Join(store.DataDir(), "TPC")); !os.IsNotExist(err) {
		t.Fatal("directory created for unknown subsystem")
	}
}

func TestReceiveRejectsUnsafeFilenames(t *testing.T) {
	r, _ := newTestReceiver(t)

	for _, name := range []string{"", ".hidden", "a/b.combined", `a\b.combined`} {
		_, err := r.Receive("EMC", name, strings.NewReader("x"))
		if !errors.Is(err, domain.ErrInvalidFilename) {
			t.Errorf("filename %q: err = %v, want ErrInvalidFilename", name, err)
		}
	}
}

func TestReceiveSameNameOverwrites(t *testing.T) {
	r, store := newTestReceiver(t)

	if _, err := r.Receive("EMC", "f.combined", strings.NewReader("first")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Receive("EMC", "f.combined", strings.NewReader("second")); err != nil {
		t.Fatal(err)
	}

	refs, _ := store.ListIncoming("EMC")
	if len(refs) != 1 {
		t.Fatalf("refs = %v", refs)
	}
	data, err := os.ReadFile(store.Path(refs[0]))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Fatalf("content = %q, want the re-received copy", data)
	}
}

func TestReceiveInRunPropagatesRun(t *testing.T) {
	r, store := newTestReceiver(t)

	p, err := r.ReceiveInRun(123456, "HLT", "HLThistos_1.combined", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Run != 123456 {
		t.Fatalf("Run = %d", p.Run)
	}

	refs, _ := store.ListIncoming("HLT")
	loaded, err := store.LoadPayload(refs[0])
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Run != 123456 {
		t.Fatalf("persisted Run = %d", loaded.Run)
	}
}
