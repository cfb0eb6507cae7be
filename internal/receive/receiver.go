// Package receive turns inbound payload events into published files in the
// staging area.
package receive

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hepworks/histoship/internal/domain"
	"github.com/hepworks/histoship/internal/metrics"
	"github.com/hepworks/histoship/internal/staging"
	"github.com/hepworks/histoship/pkg/log"
)

// Receiver validates and lands inbound payloads. It writes each payload
// atomically into the subsystem's Incoming area and registers a Pending
// delivery record for every configured destination.
//
// The receiver never retries: an IO failure is surfaced to the transport
// layer, which applies its own redelivery policy.
type Receiver struct {
	store        *staging.Store
	subsystems   map[string]struct{}
	destinations []string
	logger       log.Logger
	metrics      *metrics.Collector
}

// New creates a receiver for the configured subsystem list and destination
// names.
func New(store *staging.Store, subsystems, destinations []string, logger log.Logger, collector *metrics.Collector) *Receiver {
	set := make(map[string]struct{}, len(subsystems))
	for _, s := range subsystems {
		set[s] = struct{}{}
	}
	return &Receiver{
		store:        store,
		subsystems:   set,
		destinations: destinations,
		logger:       logger,
		metrics:      collector,
	}
}

// Receive lands one payload. On success the file is visible under
// <dataFolder>/<subsystem>/Incoming/<filename> with Pending delivery records
// beside it.
func (r *Receiver) Receive(subsystem, filename string, content io.Reader) (domain.Payload, error) {
	return r.ReceiveInRun(0, subsystem, filename, content)
}

// ReceiveInRun is Receive with an explicit run identifier, used by the replay
// engine which knows the run from the source directory naming.
func (r *Receiver) ReceiveInRun(run domain.RunID, subsystem, filename string, content io.Reader) (domain.Payload, error) {
	if _, ok := r.subsystems[subsystem]; !ok {
		r.metrics.PayloadRejected()
		r.logger.Warn("dropping payload for unknown subsystem",
			log.String("subsystem", subsystem),
			log.String("file", filename),
		)
		return domain.Payload{}, fmt.Errorf("%w: %q", domain.ErrUnknownSubsystem, subsystem)
	}
	if err := validFilename(filename); err != nil {
		r.metrics.PayloadRejected()
		return domain.Payload{}, err
	}

	ref, size, err := r.store.WriteIncoming(subsystem, filename, content)
	if err != nil {
		return domain.Payload{}, err
	}

	p := domain.Payload{
		Subsystem:  subsystem,
		Filename:   filename,
		Run:        run,
		SizeBytes:  size,
		ReceivedAt: time.Now().UTC(),
	}

	// A lost sidecar is recoverable: the transfer manager rebuilds Pending
	// records from the configured destination list.
	if err := r.store.SaveRecords(ref, p, domain.NewDeliverySet(r.destinations)); err != nil {
		r.logger.Warn("failed to register delivery records",
			log.String("file", filename),
			log.Err(err),
		)
	}

	r.metrics.PayloadReceived(subsystem)
	r.logger.Info("payload received",
		log.String("subsystem", subsystem),
		log.String("file", filename),
		log.Int64("bytes", size),
	)
	return p, nil
}

func validFilename(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q", domain.ErrInvalidFilename, name)
	}
	return nil
}
