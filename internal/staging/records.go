package staging

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hepworks/histoship/internal/domain"
)

// sidecar is the persisted form of a payload's delivery records plus the
// receipt metadata the receiver assigned.
type sidecar struct {
	Run        domain.RunID       `json:"run,omitempty"`
	SizeBytes  int64              `json:"sizeBytes"`
	ReceivedAt string             `json:"receivedAt"`
	Records    domain.DeliverySet `json:"records"`
}

// LoadRecords reads the delivery records of a payload. A missing or corrupt
// sidecar yields fresh Pending records for every configured destination:
// the index must always be rebuildable from directory contents.
func (s *Store) LoadRecords(ref Ref, destinations []string) (domain.DeliverySet, error) {
	data, err := os.ReadFile(s.Path(ref) + deliverySuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewDeliverySet(destinations), nil
		}
		return nil, fmt.Errorf("read delivery records for %s: %w", ref.Filename, err)
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil || sc.Records == nil {
		return domain.NewDeliverySet(destinations), nil
	}
	for _, d := range destinations {
		sc.Records.Record(d)
	}
	return sc.Records, nil
}

// SaveRecords persists the delivery records of a payload atomically.
func (s *Store) SaveRecords(ref Ref, p domain.Payload, records domain.DeliverySet) error {
	sc := sidecar{
		Run:        p.Run,
		SizeBytes:  p.SizeBytes,
		ReceivedAt: p.ReceivedAt.UTC().Format(time.RFC3339Nano),
		Records:    records,
	}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.Path(ref)+deliverySuffix, data)
}

// LoadPayload reconstructs payload metadata from the sidecar and the file
// itself. Size always comes from the file; run and receipt time come from the
// sidecar when present.
func (s *Store) LoadPayload(ref Ref) (domain.Payload, error) {
	fi, err := os.Stat(s.Path(ref))
	if err != nil {
		return domain.Payload{}, err
	}
	p := domain.Payload{
		Subsystem: ref.Subsystem,
		Filename:  ref.Filename,
		SizeBytes: fi.Size(),
	}
	data, err := os.ReadFile(s.Path(ref) + deliverySuffix)
	if err != nil {
		return p, nil
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return p, nil
	}
	p.Run = sc.Run
	if t, err := time.Parse(time.RFC3339Nano, sc.ReceivedAt); err == nil {
		p.ReceivedAt = t
	}
	return p, nil
}
