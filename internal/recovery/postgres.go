package recovery

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Saver = (*PostgresSaver)(nil)

const ddlCallSnapshots = `
CREATE TABLE IF NOT EXISTS call_snapshots (
    id               BIGSERIAL    PRIMARY KEY,
    call_id          TEXT         NOT NULL,
    lead_id          TEXT         NOT NULL DEFAULT '',
    campaign_id      TEXT         NOT NULL DEFAULT '',
    phone_number     TEXT         NOT NULL DEFAULT '',
    cause            TEXT         NOT NULL,
    outcome          TEXT         NOT NULL DEFAULT '',
    error_details    TEXT         NOT NULL DEFAULT '',
    transcript       TEXT         NOT NULL DEFAULT '',
    summary          TEXT         NOT NULL DEFAULT '',
    duration_ns      BIGINT       NOT NULL DEFAULT 0,
    started_at       TIMESTAMPTZ  NOT NULL,
    disconnected_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_snapshots_call_id
    ON call_snapshots (call_id);

CREATE INDEX IF NOT EXISTS idx_call_snapshots_lead_id
    ON call_snapshots (lead_id);
`

// Migrate creates the call_snapshots table. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlCallSnapshots); err != nil {
		return fmt.Errorf("recovery migrate: %w", err)
	}
	return nil
}

// PostgresSaver persists snapshots to the call_snapshots table.
type PostgresSaver struct {
	pool *pgxpool.Pool
}

// NewPostgresSaver wraps an existing pool. Migrate must have run.
func NewPostgresSaver(pool *pgxpool.Pool) *PostgresSaver {
	return &PostgresSaver{pool: pool}
}

// SaveSnapshot implements [Saver].
func (s *PostgresSaver) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	const q = `
		INSERT INTO call_snapshots
		    (call_id, lead_id, campaign_id, phone_number, cause, outcome,
		     error_details, transcript, summary, duration_ns, started_at, disconnected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, q,
		snap.CallID,
		snap.LeadID,
		snap.CampaignID,
		snap.PhoneNumber,
		string(snap.Cause),
		snap.Outcome,
		snap.ErrorDetails,
		snap.Transcript,
		snap.Summary,
		snap.Duration.Nanoseconds(),
		snap.StartedAt,
		snap.DisconnectedAt,
	)
	if err != nil {
		return fmt.Errorf("recovery: save snapshot: %w", err)
	}
	return nil
}
