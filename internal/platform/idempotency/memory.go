package idempotency

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps records in process memory; expired keys are swept by the cache janitor.
type MemoryStore struct {
	records *cache.Cache
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty memory-backed store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: cache.New(DefaultTTL, 10*time.Minute)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	record := Record{Fingerprint: fingerprint, Status: StatusPending, CreatedAt: now.UTC()}
	if err := s.records.Add(key, record, ttlOrDefault(ttl)); err == nil {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}
	cached, ok := s.records.Get(key)
	if !ok {
		// Expired between Add and Get.
		s.records.Set(key, record, ttlOrDefault(ttl))
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}
	return reserveOutcome(cached.(Record), fingerprint)
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, ttl time.Duration) error {
	var previous Record
	if cached, ok := s.records.Get(key); ok {
		previous = cached.(Record)
		if previous.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
	}
	s.records.Set(key, completedRecord(previous, fingerprint, resp), ttlOrDefault(ttl))
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.records.Delete(key)
	return nil
}
