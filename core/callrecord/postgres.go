package callrecord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/telvox/callflow-core/core/session"
)

// PostgresStore persists call records in a `calls` table through a pgx
// pool. Transcript and metadata are stored as jsonb.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const createCallsTable = `
CREATE TABLE IF NOT EXISTS calls (
	id                TEXT PRIMARY KEY,
	provider_call_id  TEXT,
	direction         TEXT NOT NULL,
	status            TEXT NOT NULL,
	from_number       TEXT NOT NULL,
	to_number         TEXT NOT NULL,
	agent_id          TEXT NOT NULL,
	workflow_id       TEXT NOT NULL,
	tenant_id         TEXT NOT NULL,
	metadata          JSONB,
	duration_seconds  INTEGER NOT NULL DEFAULT 0,
	transcript        JSONB,
	started_at        TIMESTAMPTZ NOT NULL,
	ended_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS calls_provider_call_id_idx ON calls (provider_call_id);
CREATE INDEX IF NOT EXISTS calls_tenant_id_idx ON calls (tenant_id);
`

// EnsureSchema creates the calls table if it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createCallsTable); err != nil {
		return fmt.Errorf("failed to ensure calls schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, call Call) error {
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now()
	}

	metadata, err := json.Marshal(call.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode call metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO calls (id, provider_call_id, direction, status, from_number, to_number,
			agent_id, workflow_id, tenant_id, metadata, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		call.ID, call.ProviderCallID, call.Direction, call.Status, call.FromNumber, call.ToNumber,
		call.AgentID, call.WorkflowID, call.TenantID, metadata, call.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert call %s: %w", call.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Call, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(provider_call_id, ''), direction, status, from_number, to_number,
			agent_id, workflow_id, tenant_id, metadata, duration_seconds, transcript,
			started_at, ended_at
		FROM calls WHERE id = $1`, id)

	var call Call
	var metadata, transcript []byte
	err := row.Scan(&call.ID, &call.ProviderCallID, &call.Direction, &call.Status,
		&call.FromNumber, &call.ToNumber, &call.AgentID, &call.WorkflowID, &call.TenantID,
		&metadata, &call.DurationSeconds, &transcript, &call.StartedAt, &call.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Call{}, fmt.Errorf("failed to read call %s: %w", id, err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &call.Metadata); err != nil {
			return Call{}, fmt.Errorf("failed to decode call %s metadata: %w", id, err)
		}
	}
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &call.Transcript); err != nil {
			return Call{}, fmt.Errorf("failed to decode call %s transcript: %w", id, err)
		}
	}
	return call, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) error {
	return s.exec(ctx, id, `UPDATE calls SET status = $2 WHERE id = $1`, id, status)
}

func (s *PostgresStore) SetProviderCallID(ctx context.Context, id, providerCallID string) error {
	return s.exec(ctx, id, `UPDATE calls SET provider_call_id = $2 WHERE id = $1`, id, providerCallID)
}

func (s *PostgresStore) Finalize(ctx context.Context, id string, status Status, durationSeconds int, transcript []session.TranscriptEntry) error {
	encoded, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("failed to encode transcript for call %s: %w", id, err)
	}
	return s.exec(ctx, id, `
		UPDATE calls SET status = $2, duration_seconds = $3, transcript = $4, ended_at = now()
		WHERE id = $1`, id, status, durationSeconds, encoded)
}

func (s *PostgresStore) FinalizeByProviderID(ctx context.Context, providerCallID string, status Status, durationSeconds int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calls SET status = $2, duration_seconds = $3, ended_at = now()
		WHERE provider_call_id = $1`, providerCallID, status, durationSeconds)
	if err != nil {
		return fmt.Errorf("failed to finalize call by provider id %s: %w", providerCallID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: provider call %s", ErrNotFound, providerCallID)
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update call %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
