package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesync/go/internal/timer"
)

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS timer_snapshots (
	access_code TEXT PRIMARY KEY,
	state       JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps the registry snapshot in Postgres, one row per access
// code. Every save replaces the full table contents in a single transaction,
// matching the overwrite semantics of the file backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, createSnapshotTable); err != nil {
		return nil, fmt.Errorf("create timer_snapshots table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (ps *PostgresStore) Save(ctx context.Context, snapshots map[string]timer.Snapshot) error {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM timer_snapshots`); err != nil {
		return fmt.Errorf("clear timer snapshots: %w", err)
	}

	batch := &pgx.Batch{}
	for accessCode, snap := range snapshots {
		state, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal snapshot for %s: %w", accessCode, err)
		}
		batch.Queue(
			`INSERT INTO timer_snapshots (access_code, state, updated_at) VALUES ($1, $2, now())`,
			accessCode, state,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert timer snapshots: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot transaction: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Load(ctx context.Context) (map[string]timer.Snapshot, error) {
	rows, err := ps.pool.Query(ctx, `SELECT access_code, state FROM timer_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("query timer snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make(map[string]timer.Snapshot)
	for rows.Next() {
		var accessCode string
		var state []byte
		if err := rows.Scan(&accessCode, &state); err != nil {
			return nil, fmt.Errorf("scan timer snapshot: %w", err)
		}

		var snap timer.Snapshot
		if err := json.Unmarshal(state, &snap); err != nil {
			log.Warn().Err(err).Str("access_code", accessCode).Msg("skipping malformed timer snapshot row")
			continue
		}
		snapshots[accessCode] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timer snapshots: %w", err)
	}

	return snapshots, nil
}
