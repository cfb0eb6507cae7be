// Package fs implements the filesystem site destination.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hepworks/histoship/internal/domain"
)

// Site delivers payloads into a directory tree rooted at a configured path,
// typically a mounted long-term storage area. Files are written to a
// temporary name and renamed into place, so downstream readers only ever see
// complete files.
type Site struct {
	name string
	root string
}

// NewSite creates a filesystem destination.
func NewSite(name, root string) *Site {
	return &Site{name: name, root: root}
}

// Name returns the configured site name.
func (s *Site) Name() string { return s.name }

// Deliver copies the payload to <root>/<subsystem>/<filename>. Delivery is
// idempotent: an existing file of the same size is treated as already
// delivered, a different size is a content conflict. IO errors are transport
// failures, since site roots are commonly network mounts that come and go.
func (s *Site) Deliver(ctx context.Context, p domain.Payload, content io.Reader) error {
	if err := ctx.Err(); err != nil {
		return &domain.TransportError{Destination: s.name, Err: err}
	}

	dir := filepath.Join(s.root, p.Subsystem)
	final := filepath.Join(dir, p.Filename)

	if fi, err := os.Stat(final); err == nil {
		if fi.Size() == p.SizeBytes {
			return nil
		}
		return &domain.ContentConflictError{
			Destination: s.name,
			Filename:    p.Filename,
			Reason:      fmt.Sprintf("exists with size %d, payload has %d", fi.Size(), p.SizeBytes),
		}
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &domain.TransportError{Destination: s.name, Err: err}
	}

	tmp := filepath.Join(dir, ".tmp-"+p.Filename)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return &domain.TransportError{Destination: s.name, Err: err}
	}
	_, err = io.Copy(f, content)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return &domain.TransportError{Destination: s.name, Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return &domain.TransportError{Destination: s.name, Err: err}
	}
	return nil
}
