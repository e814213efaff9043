// Package callrecord persists the durable record of every call leg,
// inbound or outbound. The record outlives the ephemeral session: it is
// created before the call connects and keeps the final transcript after
// the session is destroyed.
package callrecord

import (
	"context"
	"errors"
	"time"

	"github.com/telvox/callflow-core/core/session"
)

var ErrNotFound = errors.New("call record not found")

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

type Status string

const (
	StatusInitiated  Status = "INITIATED"
	StatusRinging    Status = "RINGING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusBusy       Status = "BUSY"
	StatusNoAnswer   Status = "NO_ANSWER"
)

// Terminal reports whether a status ends the record's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return true
	}
	return false
}

type Call struct {
	ID             string
	ProviderCallID string
	Direction      Direction
	Status         Status
	FromNumber     string
	ToNumber       string
	AgentID        string
	WorkflowID     string
	TenantID       string
	Metadata       map[string]any

	DurationSeconds int
	Transcript      []session.TranscriptEntry

	StartedAt time.Time
	EndedAt   *time.Time
}

type Store interface {
	Create(ctx context.Context, call Call) error
	Get(ctx context.Context, id string) (Call, error)
	SetStatus(ctx context.Context, id string, status Status) error
	// SetProviderCallID records the provider's id once the leg exists.
	SetProviderCallID(ctx context.Context, id, providerCallID string) error
	// Finalize ends the record with its terminal status, duration and
	// transcript.
	Finalize(ctx context.Context, id string, status Status, durationSeconds int, transcript []session.TranscriptEntry) error
	// FinalizeByProviderID is used by the provider status callback,
	// which only knows the provider's call id.
	FinalizeByProviderID(ctx context.Context, providerCallID string, status Status, durationSeconds int) error
}
