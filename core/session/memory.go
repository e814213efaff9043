package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jinzhu/copier"
)

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory. Expiry is lazy: an
// expired record is dropped on the next access.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*memoryEntry

	now func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

func (s *MemoryStore) Init(_ context.Context, state State) error {
	stored, err := cloneState(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.CallID] = &memoryEntry{state: stored, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, callID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.live(callID)
	if err != nil {
		return State{}, err
	}
	return cloneState(entry.state)
}

func (s *MemoryStore) SetCurrentNode(_ context.Context, callID, nodeID string) error {
	return s.mutate(callID, func(state *State) {
		state.CurrentNodeID = nodeID
	})
}

func (s *MemoryStore) SetVariable(_ context.Context, callID, key string, value any) error {
	return s.mutate(callID, func(state *State) {
		if state.Variables == nil {
			state.Variables = make(map[string]any)
		}
		state.Variables[key] = value
	})
}

func (s *MemoryStore) AppendTranscript(_ context.Context, callID string, entry TranscriptEntry) error {
	return s.mutate(callID, func(state *State) {
		state.Transcript = append(state.Transcript, entry)
	})
}

func (s *MemoryStore) IncrementRetry(_ context.Context, callID string) (int, error) {
	var count int
	err := s.mutate(callID, func(state *State) {
		state.RetryCount++
		count = state.RetryCount
	})
	return count, err
}

func (s *MemoryStore) ResetRetry(_ context.Context, callID string) error {
	return s.mutate(callID, func(state *State) {
		state.RetryCount = 0
	})
}

func (s *MemoryStore) Destroy(_ context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, callID)
	return nil
}

// live returns the entry for callID, dropping it first if expired.
// Callers hold s.mu.
func (s *MemoryStore) live(callID string) (*memoryEntry, error) {
	entry, ok := s.sessions[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	if s.now().After(entry.expiresAt) {
		delete(s.sessions, callID)
		return nil, fmt.Errorf("%w: %s (expired)", ErrNotFound, callID)
	}
	return entry, nil
}

func (s *MemoryStore) mutate(callID string, apply func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.live(callID)
	if err != nil {
		return err
	}
	apply(&entry.state)
	entry.expiresAt = s.now().Add(s.ttl)
	return nil
}

// cloneState deep-copies state so callers never alias the stored maps
// and transcript slice.
func cloneState(state State) (State, error) {
	var cloned State
	if err := copier.CopyWithOption(&cloned, &state, copier.Option{DeepCopy: true}); err != nil {
		return State{}, fmt.Errorf("failed to copy session state: %w", err)
	}
	return cloned, nil
}
