package callrecord

import (
	"context"
	"errors"
	"testing"

	"github.com/telvox/callflow-core/core/session"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Create(ctx, Call{
		ID:         "call-1",
		Direction:  DirectionOutbound,
		Status:     StatusInitiated,
		FromNumber: "+1555",
		ToNumber:   "+1556",
	})
	if err != nil {
		t.Fatalf("failed to create call: %v", err)
	}

	if err := store.SetProviderCallID(ctx, "call-1", "CA9"); err != nil {
		t.Fatalf("failed to set provider call id: %v", err)
	}
	if err := store.SetStatus(ctx, "call-1", StatusRinging); err != nil {
		t.Fatalf("failed to set status: %v", err)
	}

	transcript := []session.TranscriptEntry{{Role: session.RoleAgent, Text: "Hello"}}
	if err := store.Finalize(ctx, "call-1", StatusCompleted, 42, transcript); err != nil {
		t.Fatalf("failed to finalize call: %v", err)
	}

	call, err := store.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("failed to get call: %v", err)
	}
	if call.Status != StatusCompleted || call.DurationSeconds != 42 {
		t.Fatalf("unexpected finalized call %+v", call)
	}
	if len(call.Transcript) != 1 || call.Transcript[0].Text != "Hello" {
		t.Fatalf("expected transcript to persist, got %+v", call.Transcript)
	}
	if call.EndedAt == nil {
		t.Fatalf("expected ended timestamp to be set")
	}
}

func TestMemoryStoreFinalizeByProviderID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, Call{ID: "call-1", ProviderCallID: "CA1", Status: StatusRinging}); err != nil {
		t.Fatalf("failed to create call: %v", err)
	}

	if err := store.FinalizeByProviderID(ctx, "CA1", StatusNoAnswer, 0); err != nil {
		t.Fatalf("failed to finalize by provider id: %v", err)
	}

	call, err := store.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("failed to get call: %v", err)
	}
	if call.Status != StatusNoAnswer {
		t.Fatalf("expected status NO_ANSWER, got %s", call.Status)
	}

	if err := store.FinalizeByProviderID(ctx, "CA404", StatusCompleted, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown provider id, got %v", err)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.Get(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer} {
		if !status.Terminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range []Status{StatusInitiated, StatusRinging, StatusInProgress} {
		if status.Terminal() {
			t.Fatalf("expected %s not to be terminal", status)
		}
	}
}
