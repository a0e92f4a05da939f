package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"LedgerStats/internal/core"

	"github.com/rs/zerolog"
)

// checkpointFormat v1: JSON-encoded core.Checkpoint
const checkpointFormat = 1

// CheckpointStore saves engine checkpoints and loads them on warm start.
// A checkpoint becomes usable for recovery once its state hash has been
// matched against the event log.
type CheckpointStore struct {
	db     *DB
	log    *EventLog
	logger zerolog.Logger
}

func NewCheckpointStore(db *DB, logger zerolog.Logger) *CheckpointStore {
	return &CheckpointStore{db: db, log: NewEventLog(db), logger: logger}
}

// Save stores a checkpoint unverified and returns its encoded size.
// Saving a second checkpoint at the same sequence replaces the first.
func (cs *CheckpointStore) Save(ctx context.Context, cp *core.Checkpoint) (int, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return 0, fmt.Errorf("marshal checkpoint: %w", err)
	}

	_, err = cs.db.Exec(ctx, `
		INSERT INTO checkpoints
			(checkpoint_id, sequence, state_hash, format_version, data, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET
			checkpoint_id = excluded.checkpoint_id,
			state_hash = excluded.state_hash,
			data = excluded.data,
			size_bytes = excluded.size_bytes,
			verified = FALSE,
			created_at = excluded.created_at
	`, cp.ID.String(), cp.Sequence, hex.EncodeToString(cp.StateHash[:]), checkpointFormat,
		string(data), len(data), cp.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("save checkpoint %d: %w", cp.Sequence, err)
	}
	return len(data), nil
}

// LoadLatest loads the most recent verified checkpoint. It returns nil
// when there is none (cold start).
func (cs *CheckpointStore) LoadLatest(ctx context.Context) (*core.Checkpoint, error) {
	var (
		data    string
		version int
	)
	err := cs.db.QueryRow(ctx, `
		SELECT data, format_version FROM checkpoints
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if version != checkpointFormat {
		return nil, fmt.Errorf("checkpoint format %d is not supported", version)
	}

	var cp core.Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// VerifyPending marks unverified checkpoints whose state hash matches the
// event log. Checkpoints ahead of the persisted log stay pending; a
// mismatch is returned as an error and the checkpoint is never used.
func (cs *CheckpointStore) VerifyPending(ctx context.Context) (verified int, err error) {
	latest, err := cs.log.LatestSequence(ctx)
	if err != nil {
		return 0, err
	}

	type pending struct {
		sequence int64
		hash     string
	}
	rows, err := cs.db.Query(ctx, `
		SELECT sequence, state_hash FROM checkpoints
		WHERE verified = FALSE AND sequence <= $1
		ORDER BY sequence ASC
	`, latest)
	if err != nil {
		return 0, err
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.sequence, &p.hash); err != nil {
			rows.Close()
			return 0, err
		}
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var mismatches []error
	for _, p := range todo {
		want, ok, err := cs.log.StateHashAt(ctx, p.sequence)
		if err != nil {
			return verified, err
		}
		if !ok {
			want = core.GenesisHash()
		}
		if hex.EncodeToString(want[:]) != p.hash {
			mismatches = append(mismatches,
				fmt.Errorf("checkpoint %d: state hash %s, event log has %x", p.sequence, p.hash, want))
			continue
		}
		if _, err := cs.db.Exec(ctx, `UPDATE checkpoints SET verified = TRUE WHERE sequence = $1`, p.sequence); err != nil {
			return verified, err
		}
		verified++
		cs.logger.Info().Int64("sequence", p.sequence).Msg("checkpoint verified")
	}
	return verified, errors.Join(mismatches...)
}

// Prune deletes all but the newest keep verified checkpoints, and any
// unverified checkpoint older than the oldest one kept.
func (cs *CheckpointStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	var cutoff sql.NullInt64
	err := cs.db.QueryRow(ctx, `
		SELECT sequence FROM checkpoints
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1 OFFSET $1
	`, keep-1).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	res, err := cs.db.Exec(ctx, `DELETE FROM checkpoints WHERE sequence < $1`, cutoff.Int64)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
