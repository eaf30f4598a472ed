package idempotency

import (
	"context"
	"sort"
	"sync"
	"time"
)

type recordKey struct {
	key, userID, endpoint string
}

func keyOf(r Request) recordKey { return recordKey{r.Key, r.UserID, r.Endpoint} }

type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record)}
}

func (s *MemoryStore) Claim(_ context.Context, req Request, now, expiresAt time.Time) (bool, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(req)
	if rec, ok := s.records[k]; ok && rec.ExpiresAt.After(now) {
		return false, rec, nil
	}
	s.records[k] = Record{Request: req, State: StateInProgress, ExpiresAt: expiresAt}
	return true, Record{}, nil
}

func (s *MemoryStore) Complete(_ context.Context, req Request, resp Response, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	body := append([]byte(nil), resp.Body...)
	s.records[keyOf(req)] = Record{
		Request:   req,
		State:     StateCompleted,
		Response:  Response{Code: resp.Code, Body: body},
		ExpiresAt: expiresAt,
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(req)
	if rec, ok := s.records[k]; ok && rec.State == StateInProgress {
		delete(s.records, k)
	}
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, req Request, now time.Time) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[keyOf(req)]
	if !ok || !rec.ExpiresAt.After(now) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := make([]recordKey, 0)
	for k, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			expired = append(expired, k)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return s.records[expired[i]].ExpiresAt.Before(s.records[expired[j]].ExpiresAt)
	})
	if batchSize > 0 && len(expired) > batchSize {
		expired = expired[:batchSize]
	}
	for _, k := range expired {
		delete(s.records, k)
	}
	return int64(len(expired)), nil
}

func (s *MemoryStore) Counts(_ context.Context) (map[State]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[State]int64{StateInProgress: 0, StateCompleted: 0}
	now := time.Now()
	for _, rec := range s.records {
		if rec.ExpiresAt.After(now) {
			out[rec.State]++
		}
	}
	return out, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
