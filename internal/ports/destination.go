package ports

import (
	"context"
	"io"

	"github.com/hepworks/histoship/internal/domain"
)

// Destination is a delivery target for staged payloads.
//
// Deliver must be idempotent: the pipeline guarantees at-least-once delivery
// with stable destination naming, so re-delivering a payload whose earlier
// confirmation was lost must succeed (or report a content conflict when the
// name exists with different content).
//
// Error contract: return *domain.TransportError for retryable failures and
// *domain.ContentConflictError for naming conflicts. Conflicts are terminal
// immediately; every other error is retried until the configured attempt
// limit turns the record terminal.
type Destination interface {
	// Name returns the configured site name (e.g. "site1", "EOS").
	Name() string

	// Deliver writes the payload content to the destination's backing store.
	// The payload must only become visible at the destination once complete.
	Deliver(ctx context.Context, p domain.Payload, content io.Reader) error
}
