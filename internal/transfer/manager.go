// Package transfer drains the staging area to the configured destinations.
package transfer

import (
	"context"
	"time"

	"github.com/hepworks/histoship/internal/domain"
	"github.com/hepworks/histoship/internal/metrics"
	"github.com/hepworks/histoship/internal/ports"
	"github.com/hepworks/histoship/internal/staging"
	"github.com/hepworks/histoship/pkg/log"
)

// Config controls the transfer manager.
type Config struct {
	// RetryLimit bounds failed attempts per (payload, destination) pair.
	RetryLimit int

	// Interval is the sleep between transfer cycles (dataTransferTimeToSleep).
	Interval time.Duration

	// AttemptTimeout bounds a single delivery attempt. Exceeding it counts as
	// a transport failure.
	AttemptTimeout time.Duration
}

// Manager runs the periodic transfer cycle. Each (payload, destination)
// pair carries its own retry state, so one site failing never blocks the
// others from completing. Attempts within a cycle run sequentially, each
// bounded by AttemptTimeout.
type Manager struct {
	cfg          Config
	store        *staging.Store
	destinations []ports.Destination
	destNames    []string
	subsystems   []string
	logger       log.Logger
	metrics      *metrics.Collector
}

// CycleStats summarizes one transfer cycle.
type CycleStats struct {
	Promoted  int // Incoming -> tempStorage moves
	Attempted int // delivery attempts made
	Delivered int // attempts confirmed by the destination
	Failed    int // attempts that failed
	Completed int // payloads delivered everywhere and removed from staging
	Stranded  int // payloads flagged for manual inspection this cycle
}

// New creates a manager delivering to destinations in their declaration
// order.
func New(cfg Config, store *staging.Store, destinations []ports.Destination, subsystems []string, logger log.Logger, collector *metrics.Collector) *Manager {
	names := make([]string, len(destinations))
	for i, d := range destinations {
		names[i] = d.Name()
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		destinations: destinations,
		destNames:    names,
		subsystems:   subsystems,
		logger:       logger,
		metrics:      collector,
	}
}

// Run executes transfer cycles until ctx is cancelled. Failures local to one
// payload or destination never abort the loop; only a staging scan failure
// (resource exhaustion) is escalated through backoff and logged as an error.
func (m *Manager) Run(ctx context.Context) error {
	back := newBackoff(defaultBackoffInitial, defaultBackoffMax)
	for {
		if _, err := m.RunCycle(ctx); err != nil {
			m.logger.Error("transfer cycle failed", log.Err(err))
			back.Sleep(ctx)
		} else {
			back.Reset()
			select {
			case <-ctx.Done():
			case <-time.After(m.cfg.Interval):
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// RunCycle performs one full cycle: promote eligible Incoming payloads into
// temp storage, then attempt every outstanding (payload, destination) pair.
func (m *Manager) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	for _, sub := range m.subsystems {
		refs, err := m.store.ListIncoming(sub)
		if err != nil {
			return stats, err
		}
		for _, ref := range refs {
			if _, err := m.store.Promote(ref); err != nil {
				m.logger.Error("failed to isolate payload for transfer",
					log.String("file", ref.Filename), log.Err(err))
				continue
			}
			stats.Promoted++
		}
	}

	staged, err := m.store.ListStaged()
	if err != nil {
		return stats, err
	}
	for _, ref := range staged {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		m.processPayload(ctx, ref, &stats)
	}
	return stats, nil
}

func (m *Manager) processPayload(ctx context.Context, ref staging.Ref, stats *CycleStats) {
	records, err := m.store.LoadRecords(ref, m.destNames)
	if err != nil {
		m.logger.Error("failed to load delivery records",
			log.String("file", ref.Filename), log.Err(err))
		return
	}

	// Crash recovery: a payload whose records were completed but whose
	// removal did not happen yet.
	if records.AllDelivered() {
		m.finish(ref, stats)
		return
	}

	if records.Stranded(m.cfg.RetryLimit) {
		m.flagStranded(ref, records, stats)
		return
	}

	payload, err := m.store.LoadPayload(ref)
	if err != nil {
		m.logger.Error("failed to stat staged payload",
			log.String("file", ref.Filename), log.Err(err))
		return
	}

	anyDelivered := false
	for _, dest := range m.destinations {
		rec := records.Record(dest.Name())
		if rec.Status == domain.StatusDelivered {
			anyDelivered = true
			continue
		}
		if !rec.Eligible(m.cfg.RetryLimit) {
			continue
		}
		m.attempt(ctx, ref, payload, dest, rec, stats)
		if rec.Status == domain.StatusDelivered {
			anyDelivered = true
		}
		// Persist after every attempt so a crash never forgets a failure
		// already counted against the retry limit.
		if err := m.store.SaveRecords(ref, payload, records); err != nil {
			m.logger.Error("failed to persist delivery records",
				log.String("file", ref.Filename), log.Err(err))
		}
	}

	switch {
	case records.AllDelivered():
		m.finish(ref, stats)
	case records.Stranded(m.cfg.RetryLimit):
		m.flagStranded(ref, records, stats)
	case !anyDelivered:
		// Nothing succeeded yet and retries remain: return the payload to
		// the eligible-for-retry pool.
		if _, err := m.store.Demote(ref); err != nil {
			m.logger.Error("failed to return payload to Incoming",
				log.String("file", ref.Filename), log.Err(err))
		}
	}
}

func (m *Manager) attempt(ctx context.Context, ref staging.Ref, payload domain.Payload, dest ports.Destination, rec *domain.DeliveryRecord, stats *CycleStats) {
	content, _, err := m.store.Open(ref)
	if err != nil {
		m.logger.Error("failed to open staged payload",
			log.String("file", ref.Filename), log.Err(err))
		return
	}
	defer content.Close()

	attemptCtx := ctx
	if m.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		defer cancel()
	}

	rec.Status = domain.StatusInFlight
	stats.Attempted++
	m.metrics.DeliveryAttempt(dest.Name())

	err = dest.Deliver(attemptCtx, payload, content)
	now := time.Now().UTC()

	switch {
	case err == nil:
		rec.MarkDelivered(now)
		stats.Delivered++
		m.metrics.Delivered(dest.Name())
		m.logger.Info("payload delivered",
			log.String("subsystem", payload.Subsystem),
			log.String("file", payload.Filename),
			log.String("destination", dest.Name()),
		)
	case domain.Conflict(err):
		rec.MarkConflict(err, now)
		stats.Failed++
		m.metrics.DeliveryFailed(dest.Name())
		m.metrics.TerminalFailure(dest.Name())
		m.logger.Error("content conflict, giving up on destination",
			log.String("file", payload.Filename),
			log.String("destination", dest.Name()),
			log.Err(err),
		)
	default:
		rec.MarkFailed(err, m.cfg.RetryLimit, now)
		stats.Failed++
		m.metrics.DeliveryFailed(dest.Name())
		if rec.Terminal {
			m.metrics.TerminalFailure(dest.Name())
			m.logger.Error("retry limit reached, giving up on destination",
				log.String("file", payload.Filename),
				log.String("destination", dest.Name()),
				log.Int("attempts", rec.Attempts),
				log.Err(err),
			)
		} else {
			m.logger.Warn("delivery attempt failed",
				log.String("file", payload.Filename),
				log.String("destination", dest.Name()),
				log.Int("attempts", rec.Attempts),
				log.Err(err),
			)
		}
	}
}

func (m *Manager) finish(ref staging.Ref, stats *CycleStats) {
	if err := m.store.Remove(ref); err != nil {
		m.logger.Error("failed to remove delivered payload",
			log.String("file", ref.Filename), log.Err(err))
		return
	}
	stats.Completed++
	m.logger.Info("payload delivered to all destinations",
		log.String("subsystem", ref.Subsystem),
		log.String("file", ref.Filename),
	)
}

// flagStranded marks a payload that can make no further progress. It stays in
// temp storage, visible and inspectable; the marker keeps the warning from
// repeating every cycle.
func (m *Manager) flagStranded(ref staging.Ref, records domain.DeliverySet, stats *CycleStats) {
	if m.store.Failed(ref) {
		return
	}
	reason := "no destination attemptable"
	for name, rec := range records {
		if rec.Terminal {
			reason = "terminally failed for " + name + ": " + rec.LastError
			break
		}
	}
	if err := m.store.MarkFailed(ref, reason); err != nil {
		m.logger.Error("failed to mark stranded payload",
			log.String("file", ref.Filename), log.Err(err))
	}
	stats.Stranded++
	m.logger.Error("payload stranded in staging, manual inspection required",
		log.String("subsystem", ref.Subsystem),
		log.String("file", ref.Filename),
		log.String("reason", reason),
	)
}
