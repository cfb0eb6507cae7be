package domain

import "time"

// DeliveryStatus is the state of one (payload, destination) pair.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "Pending"
	StatusInFlight  DeliveryStatus = "InFlight"
	StatusDelivered DeliveryStatus = "Delivered"
	StatusFailed    DeliveryStatus = "Failed"
)

// DeliveryRecord tracks delivery attempts for a single destination.
//
// Attempts counts failed attempts only; it never exceeds the configured retry
// limit. Terminal marks the record as permanently failed: either the limit
// was reached or the destination reported a content conflict, which bypasses
// the counter entirely.
type DeliveryRecord struct {
	Status    DeliveryStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	Terminal  bool           `json:"terminal,omitempty"`
	LastError string         `json:"lastError,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Eligible reports whether another delivery attempt is allowed under the
// given retry limit.
func (r *DeliveryRecord) Eligible(retryLimit int) bool {
	if r.Terminal || r.Status == StatusDelivered {
		return false
	}
	switch r.Status {
	case StatusPending, StatusInFlight:
		return true
	case StatusFailed:
		return r.Attempts < retryLimit
	default:
		return false
	}
}

// MarkDelivered records a confirmed transfer.
func (r *DeliveryRecord) MarkDelivered(now time.Time) {
	r.Status = StatusDelivered
	r.LastError = ""
	r.UpdatedAt = now
}

// MarkFailed records a retryable failure. Once Attempts reaches the retry
// limit the record turns terminal and is never attempted again.
func (r *DeliveryRecord) MarkFailed(err error, retryLimit int, now time.Time) {
	r.Status = StatusFailed
	r.Attempts++
	if r.Attempts >= retryLimit {
		r.Terminal = true
	}
	if err != nil {
		r.LastError = err.Error()
	}
	r.UpdatedAt = now
}

// MarkConflict records a content conflict. Conflicts are terminal immediately
// and do not touch the attempt counter, since retrying cannot succeed.
func (r *DeliveryRecord) MarkConflict(err error, now time.Time) {
	r.Status = StatusFailed
	r.Terminal = true
	if err != nil {
		r.LastError = err.Error()
	}
	r.UpdatedAt = now
}

// DeliverySet holds the records of one payload, keyed by destination name.
type DeliverySet map[string]*DeliveryRecord

// NewDeliverySet creates Pending records for every configured destination.
func NewDeliverySet(destinations []string) DeliverySet {
	s := make(DeliverySet, len(destinations))
	now := time.Now().UTC()
	for _, d := range destinations {
		s[d] = &DeliveryRecord{Status: StatusPending, UpdatedAt: now}
	}
	return s
}

// Record returns the record for a destination, creating a Pending one when a
// destination was added to the configuration after the payload arrived.
func (s DeliverySet) Record(destination string) *DeliveryRecord {
	if r, ok := s[destination]; ok {
		return r
	}
	r := &DeliveryRecord{Status: StatusPending, UpdatedAt: time.Now().UTC()}
	s[destination] = r
	return r
}

// AllDelivered reports whether every destination has confirmed delivery.
func (s DeliverySet) AllDelivered() bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if r.Status != StatusDelivered {
			return false
		}
	}
	return true
}

// AnyEligible reports whether at least one destination can still be attempted.
func (s DeliverySet) AnyEligible(retryLimit int) bool {
	for _, r := range s {
		if r.Eligible(retryLimit) {
			return true
		}
	}
	return false
}

// Stranded reports whether the payload can make no further progress yet is
// not fully delivered. Stranded payloads stay in staging for manual
// inspection.
func (s DeliverySet) Stranded(retryLimit int) bool {
	return len(s) > 0 && !s.AllDelivered() && !s.AnyEligible(retryLimit)
}
