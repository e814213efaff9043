// Package session holds the ephemeral per-call working state. A record
// lives for the duration of one call, is mutated only by the orchestrator
// that owns the call, and expires on its own if the call goes idle.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session is absent or has expired. An
// expired record is never handed back as live state.
var ErrNotFound = errors.New("session not found")

// DefaultTTL is the idle backstop after which an untouched session
// expires.
const DefaultTTL = 30 * time.Minute

type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// TranscriptEntry is one line of the append-only call transcript.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the complete working state of one live call.
type State struct {
	CallID        string            `json:"callId"`
	AgentID       string            `json:"agentId"`
	TenantID      string            `json:"tenantId"`
	WorkflowID    string            `json:"workflowId"`
	CurrentNodeID string            `json:"currentNodeId"`
	Language      string            `json:"language"`
	Variables     map[string]any    `json:"variables"`
	RetryCount    int               `json:"retryCount"`
	Transcript    []TranscriptEntry `json:"transcript"`
}

// Store is the per-call state store. Contract: exactly one writer (the
// owning orchestrator) per call at any time, so read-modify-write cycles
// need no cross-writer coordination; concurrent calls touch disjoint
// keys. Every mutation refreshes the idle TTL.
type Store interface {
	// Init creates the session, overwriting any previous record for the
	// same call.
	Init(ctx context.Context, state State) error
	// Get returns the live state or ErrNotFound.
	Get(ctx context.Context, callID string) (State, error)
	SetCurrentNode(ctx context.Context, callID, nodeID string) error
	SetVariable(ctx context.Context, callID, key string, value any) error
	AppendTranscript(ctx context.Context, callID string, entry TranscriptEntry) error
	// IncrementRetry bumps the retry counter and returns the new count.
	IncrementRetry(ctx context.Context, callID string) (int, error)
	ResetRetry(ctx context.Context, callID string) error
	// Destroy removes the session at call end.
	Destroy(ctx context.Context, callID string) error
}
