package ports

import (
	"context"
	"io"

	"github.com/hepworks/histoship/internal/domain"
)

// PayloadSink lands inbound payloads durably. Receive returns only after the
// payload is published in staging; a returned error means nothing was
// published and the caller still owns the bytes.
type PayloadSink interface {
	Receive(subsystem, filename string, content io.Reader) (domain.Payload, error)
}

// PayloadSource feeds inbound payloads into a sink. Implementations own
// their transport (directory watch, HTTP listener) and must not discard a
// payload's only copy until the sink has confirmed it.
type PayloadSource interface {
	// Run blocks until ctx is cancelled or the source fails.
	Run(ctx context.Context) error
}
