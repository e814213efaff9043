package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

var _ Store = (*MemoryStore)(nil)
var _ Store = (*RedisStore)(nil)

func newTestState() State {
	return State{
		CallID:        "call-1",
		AgentID:       "agent-1",
		TenantID:      "tenant-1",
		WorkflowID:    "wf-1",
		CurrentNodeID: "start",
		Language:      "en-US",
		Variables:     map[string]any{},
	}
}

func TestMemoryStoreInitAndGet(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	if err := store.Init(ctx, newTestState()); err != nil {
		t.Fatalf("failed to init session: %v", err)
	}

	state, err := store.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if state.CurrentNodeID != "start" {
		t.Fatalf("expected current node %q, got %q", "start", state.CurrentNodeID)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	if _, err := store.Get(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreExpiredSessionIsNeverReturned(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	if err := store.Init(ctx, newTestState()); err != nil {
		t.Fatalf("failed to init session: %v", err)
	}

	store.now = func() time.Time { return now.Add(2 * time.Minute) }

	if _, err := store.Get(ctx, "call-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL expiry, got %v", err)
	}
}

func TestMemoryStoreMutationRefreshesTTL(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	if err := store.Init(ctx, newTestState()); err != nil {
		t.Fatalf("failed to init session: %v", err)
	}

	// Mutate just before expiry, then read just before the refreshed
	// deadline.
	store.now = func() time.Time { return now.Add(50 * time.Second) }
	if err := store.SetVariable(ctx, "call-1", "name", "Sam"); err != nil {
		t.Fatalf("failed to set variable: %v", err)
	}

	store.now = func() time.Time { return now.Add(100 * time.Second) }
	state, err := store.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("expected session alive after TTL refresh, got %v", err)
	}
	if state.Variables["name"] != "Sam" {
		t.Fatalf("expected variable to persist, got %v", state.Variables["name"])
	}
}

func TestMemoryStoreRetryCounter(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	if err := store.Init(ctx, newTestState()); err != nil {
		t.Fatalf("failed to init session: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementRetry(ctx, "call-1")
		if err != nil {
			t.Fatalf("failed to increment retry: %v", err)
		}
		if got != want {
			t.Fatalf("expected retry count %d, got %d", want, got)
		}
	}

	if err := store.ResetRetry(ctx, "call-1"); err != nil {
		t.Fatalf("failed to reset retry: %v", err)
	}
	state, err := store.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if state.RetryCount != 0 {
		t.Fatalf("expected retry count reset to 0, got %d", state.RetryCount)
	}
}

func TestMemoryStoreTranscriptIsAppendOnlyAndUnaliased(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	if err := store.Init(ctx, newTestState()); err != nil {
		t.Fatalf("failed to init session: %v", err)
	}

	if err := store.AppendTranscript(ctx, "call-1", TranscriptEntry{Role: RoleUser, Text: "hello"}); err != nil {
		t.Fatalf("failed to append transcript: %v", err)
	}

	state, err := store.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	state.Transcript[0].Text = "tampered"
	state.Variables["injected"] = true

	again, err := store.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("failed to re-get session: %v", err)
	}
	if again.Transcript[0].Text != "hello" {
		t.Fatalf("stored transcript was aliased by a returned snapshot")
	}
	if _, ok := again.Variables["injected"]; ok {
		t.Fatalf("stored variables were aliased by a returned snapshot")
	}
}

func TestMemoryStoreDestroy(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	if err := store.Init(ctx, newTestState()); err != nil {
		t.Fatalf("failed to init session: %v", err)
	}
	if err := store.Destroy(ctx, "call-1"); err != nil {
		t.Fatalf("failed to destroy session: %v", err)
	}
	if _, err := store.Get(ctx, "call-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after destroy, got %v", err)
	}
}

func TestMemoryStoreInitIsIdempotentOverwrite(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	if err := store.Init(ctx, newTestState()); err != nil {
		t.Fatalf("failed to init session: %v", err)
	}
	if _, err := store.IncrementRetry(ctx, "call-1"); err != nil {
		t.Fatalf("failed to increment retry: %v", err)
	}

	if err := store.Init(ctx, newTestState()); err != nil {
		t.Fatalf("failed to re-init session: %v", err)
	}
	state, err := store.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if state.RetryCount != 0 {
		t.Fatalf("expected re-init to overwrite, got retry count %d", state.RetryCount)
	}
}
