package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	incomingDirName = "Incoming"
	tempDirName     = "tempStorage"

	tmpPrefix      = ".tmp-"
	deliverySuffix = ".delivery"
	failedSuffix   = ".failed"
)

// Location is a staging location a payload can occupy.
type Location int

const (
	// Incoming is the per-subsystem landing area for new payloads.
	Incoming Location = iota
	// TempStorage isolates payloads that are being transferred from new
	// arrivals scanned in the same or next cycle.
	TempStorage
)

func (l Location) String() string {
	switch l {
	case Incoming:
		return "Incoming"
	case TempStorage:
		return "tempStorage"
	default:
		return "unknown"
	}
}

// Ref identifies a payload file in a staging location.
type Ref struct {
	Subsystem string
	Filename  string
	Location  Location
}

// Store owns the staging directory tree and its state transitions.
type Store struct {
	dataDir string
	tempDir string
}

// New creates a store rooted at dataDir. The temp storage area lives at
// <dataDir>/tempStorage.
func New(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
		tempDir: filepath.Join(dataDir, tempDirName),
	}
}

// DataDir returns the store's root directory.
func (s *Store) DataDir() string { return s.dataDir }

// EnsureLayout creates the Incoming area for every subsystem and the shared
// temp storage directory.
func (s *Store) EnsureLayout(subsystems []string) error {
	for _, sub := range subsystems {
		if err := os.MkdirAll(s.incomingDir(sub), 0o750); err != nil {
			return fmt.Errorf("create incoming dir for %s: %w", sub, err)
		}
	}
	if err := os.MkdirAll(s.tempDir, 0o750); err != nil {
		return fmt.Errorf("create temp storage dir: %w", err)
	}
	return nil
}

func (s *Store) incomingDir(subsystem string) string {
	return filepath.Join(s.dataDir, subsystem, incomingDirName)
}

// Path returns the absolute path of the payload file ref points at.
func (s *Store) Path(ref Ref) string {
	switch ref.Location {
	case TempStorage:
		return filepath.Join(s.tempDir, ref.Subsystem, ref.Filename)
	default:
		return filepath.Join(s.incomingDir(ref.Subsystem), ref.Filename)
	}
}

// WriteIncoming writes content to a temporary file in the subsystem's
// Incoming area and atomically renames it to filename. The rename is the
// publication point: a concurrent scan never observes a partial file.
func (s *Store) WriteIncoming(subsystem, filename string, content io.Reader) (Ref, int64, error) {
	ref := Ref{Subsystem: subsystem, Filename: filename, Location: Incoming}
	dir := s.incomingDir(subsystem)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Ref{}, 0, fmt.Errorf("create incoming dir: %w", err)
	}

	tmp := filepath.Join(dir, tmpPrefix+filename)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return Ref{}, 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(f, content)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return Ref{}, 0, fmt.Errorf("write %s: %w", filename, err)
	}
	if err := os.Rename(tmp, s.Path(ref)); err != nil {
		os.Remove(tmp)
		return Ref{}, 0, fmt.Errorf("publish %s: %w", filename, err)
	}
	return ref, n, nil
}

// ListIncoming returns the payloads in a subsystem's Incoming area, sorted by
// filename. Sidecars, markers and unpublished temp files are skipped.
func (s *Store) ListIncoming(subsystem string) ([]Ref, error) {
	names, err := listPayloadNames(s.incomingDir(subsystem))
	if err != nil {
		return nil, err
	}
	refs := make([]Ref, 0, len(names))
	for _, name := range names {
		refs = append(refs, Ref{Subsystem: subsystem, Filename: name, Location: Incoming})
	}
	return refs, nil
}

// ListStaged returns all payloads in temp storage across subsystems, sorted
// by subsystem then filename.
func (s *Store) ListStaged() ([]Ref, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var refs []Ref
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := e.Name()
		names, err := listPayloadNames(filepath.Join(s.tempDir, sub))
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			refs = append(refs, Ref{Subsystem: sub, Filename: name, Location: TempStorage})
		}
	}
	return refs, nil
}

// Promote moves a payload from Incoming to temp storage. The sidecar moves
// first: if the process dies between the two renames the payload is still in
// Incoming, its single visible location, and the transition retries cleanly.
func (s *Store) Promote(ref Ref) (Ref, error) {
	if ref.Location != Incoming {
		return Ref{}, fmt.Errorf("promote %s: not in Incoming", ref.Filename)
	}
	dst := Ref{Subsystem: ref.Subsystem, Filename: ref.Filename, Location: TempStorage}
	if err := os.MkdirAll(filepath.Join(s.tempDir, ref.Subsystem), 0o750); err != nil {
		return Ref{}, fmt.Errorf("create temp subsystem dir: %w", err)
	}
	if err := s.move(ref, dst); err != nil {
		return Ref{}, err
	}
	return dst, nil
}

// Demote reverses a promotion, returning a payload to the eligible-for-retry
// pool in its subsystem's Incoming area.
func (s *Store) Demote(ref Ref) (Ref, error) {
	if ref.Location != TempStorage {
		return Ref{}, fmt.Errorf("demote %s: not in tempStorage", ref.Filename)
	}
	dst := Ref{Subsystem: ref.Subsystem, Filename: ref.Filename, Location: Incoming}
	if err := os.MkdirAll(s.incomingDir(ref.Subsystem), 0o750); err != nil {
		return Ref{}, fmt.Errorf("create incoming dir: %w", err)
	}
	if err := s.move(ref, dst); err != nil {
		return Ref{}, err
	}
	return dst, nil
}

func (s *Store) move(from, to Ref) error {
	srcSidecar := s.Path(from) + deliverySuffix
	dstSidecar := s.Path(to) + deliverySuffix
	if err := os.Rename(srcSidecar, dstSidecar); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("move sidecar for %s: %w", from.Filename, err)
	}
	if err := os.Rename(s.Path(from), s.Path(to)); err != nil {
		return fmt.Errorf("move %s to %s: %w", from.Filename, to.Location, err)
	}
	return nil
}

// Open opens the payload for reading and returns its size.
func (s *Store) Open(ref Ref) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.Path(ref))
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Remove deletes a fully delivered payload together with its sidecar and any
// failure marker. This is the terminal state: the payload is no longer
// tracked by the pipeline.
func (s *Store) Remove(ref Ref) error {
	path := s.Path(ref)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	os.Remove(path + deliverySuffix)
	os.Remove(path + failedSuffix)
	return nil
}

// MarkFailed drops a <file>.failed marker beside a stranded payload so
// operators can find it. The payload itself is never deleted.
func (s *Store) MarkFailed(ref Ref, reason string) error {
	return writeFileAtomic(s.Path(ref)+failedSuffix, []byte(reason+"\n"))
}

// Failed reports whether a payload carries a failure marker.
func (s *Store) Failed(ref Ref) bool {
	_, err := os.Stat(s.Path(ref) + failedSuffix)
	return err == nil
}

func listPayloadNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") ||
			strings.HasSuffix(name, deliverySuffix) || strings.HasSuffix(name, failedSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), tmpPrefix+filepath.Base(path))
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
