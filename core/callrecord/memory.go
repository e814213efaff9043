package callrecord

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/telvox/callflow-core/core/session"
)

// MemoryStore keeps call records in process memory for tests and
// single-node development.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]*Call
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]*Call)}
}

func (s *MemoryStore) Create(_ context.Context, call Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now()
	}
	s.calls[call.ID] = &call
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[id]
	if !ok {
		return Call{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *call, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	return s.update(id, func(call *Call) {
		call.Status = status
	})
}

func (s *MemoryStore) SetProviderCallID(_ context.Context, id, providerCallID string) error {
	return s.update(id, func(call *Call) {
		call.ProviderCallID = providerCallID
	})
}

func (s *MemoryStore) Finalize(_ context.Context, id string, status Status, durationSeconds int, transcript []session.TranscriptEntry) error {
	now := time.Now()
	return s.update(id, func(call *Call) {
		call.Status = status
		call.DurationSeconds = durationSeconds
		call.Transcript = transcript
		call.EndedAt = &now
	})
}

func (s *MemoryStore) FinalizeByProviderID(_ context.Context, providerCallID string, status Status, durationSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, call := range s.calls {
		if call.ProviderCallID == providerCallID {
			now := time.Now()
			call.Status = status
			call.DurationSeconds = durationSeconds
			call.EndedAt = &now
			return nil
		}
	}
	return fmt.Errorf("%w: provider call %s", ErrNotFound, providerCallID)
}

// All returns a snapshot of every record, oldest first. Memory-store
// only; used by tests and the dev dashboard.
func (s *MemoryStore) All() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	calls := make([]Call, 0, len(s.calls))
	for _, call := range s.calls {
		calls = append(calls, *call)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].StartedAt.Before(calls[j].StartedAt) })
	return calls
}

func (s *MemoryStore) update(id string, apply func(*Call)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	apply(call)
	return nil
}
