package calls

import (
	"context"
	"database/sql"
	"encoding/json"

	"callkit/pkg/utils"
)

// PostgresRepo persists call records via database/sql (pgx stdlib driver).
//
// Storage:
// - Table call_records, INSERT-only.
// - Parties stored as JSONB; queries that need per-party rows can unnest it.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, rec CallRecord) error {
	parties, err := json.Marshal(rec.Parties)
	if err != nil {
		return err
	}
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO call_records (id, channel_id, type, reason, caller, callee, parties, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.ID, rec.ChannelID, int(rec.Type), string(rec.Reason), rec.Caller, rec.Callee, parties, rec.CreatedAt,
		)
		return err
	})
}

// Recent returns the latest records for the channel, newest first.
func (r *PostgresRepo) Recent(ctx context.Context, channelID string, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, channel_id, type, reason, caller, callee, parties, created_at
		FROM call_records
		WHERE channel_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
		var typ int
		var reason string
		var parties []byte
		if err := rows.Scan(&rec.ID, &rec.ChannelID, &typ, &reason, &rec.Caller, &rec.Callee, &parties, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Type = CallType(typ)
		rec.Reason = EndReason(reason)
		if err := json.Unmarshal(parties, &rec.Parties); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
