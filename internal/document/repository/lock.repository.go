package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sharedoc/internal/document/model"
)

const lockColumns = `room_id, holder_session_id, locked_at, expires_at`

// upsertLockSQL writes the lock only if the row is absent, already held by
// the same session, or expired. The WHERE clause is re-evaluated against the
// committed row when a concurrent insert wins the unique index, so two
// acquirers racing on an empty room can never both be granted.
const upsertLockSQL = `INSERT INTO document_locks (room_id, holder_session_id, locked_at, expires_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (room_id) DO UPDATE SET
		holder_session_id = EXCLUDED.holder_session_id,
		locked_at = EXCLUDED.locked_at,
		expires_at = EXCLUDED.expires_at
	WHERE document_locks.holder_session_id = EXCLUDED.holder_session_id
		OR document_locks.expires_at <= EXCLUDED.locked_at
	RETURNING ` + lockColumns

const maxAcquireAttempts = 3

// errLockRace signals that the row changed between the conflicting upsert
// and the follow-up read; the acquire is retried from scratch.
var errLockRace = errors.New("lock row changed concurrently")

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LockRepository persists advisory locks in PostgreSQL. Every mutation of a
// room's row runs under that row's lock, so rooms never serialize against
// each other.
type LockRepository struct {
	DB *sql.DB
}

func NewLockRepository(db *sql.DB) *LockRepository {
	return &LockRepository{DB: db}
}

func scanLock(row *sql.Row) (*model.Lock, error) {
	var l model.Lock
	if err := row.Scan(&l.RoomID, &l.HolderSessionID, &l.LockedAt, &l.ExpiresAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func findLock(ctx context.Context, q queryRower, roomID string, forUpdate bool) (*model.Lock, error) {
	query := `SELECT ` + lockColumns + ` FROM document_locks WHERE room_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	l, err := scanLock(q.QueryRowContext(ctx, query, roomID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load lock for room %s: %w", roomID, err)
	}
	return l, nil
}

// Find returns the room's lock row, expired or not, or nil.
func (r *LockRepository) Find(ctx context.Context, roomID string) (*model.Lock, error) {
	return findLock(ctx, r.DB, roomID, false)
}

// Acquire grants the lock to sessionID unless another session holds a lock
// that is still valid at now.
func (r *LockRepository) Acquire(ctx context.Context, roomID, sessionID string, now, expiresAt time.Time) (model.LockResult, error) {
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		res, err := r.tryAcquire(ctx, roomID, sessionID, now, expiresAt)
		if errors.Is(err, errLockRace) {
			continue
		}
		return res, err
	}
	return model.LockResult{}, fmt.Errorf("acquire lock for room %s: %w", roomID, errLockRace)
}

func (r *LockRepository) tryAcquire(ctx context.Context, roomID, sessionID string, now, expiresAt time.Time) (model.LockResult, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.LockResult{}, fmt.Errorf("begin acquire: %w", err)
	}
	defer tx.Rollback()

	existing, err := findLock(ctx, tx, roomID, true)
	if err != nil {
		return model.LockResult{}, err
	}
	if existing != nil && existing.HolderSessionID != sessionID && existing.Valid(now) {
		return model.LockResult{Outcome: model.OutcomeConflict, Lock: existing}, nil
	}

	granted, err := scanLock(tx.QueryRowContext(ctx, upsertLockSQL, roomID, sessionID, now, expiresAt))
	if errors.Is(err, sql.ErrNoRows) {
		winner, err := findLock(ctx, tx, roomID, false)
		if err != nil {
			return model.LockResult{}, err
		}
		if winner == nil {
			return model.LockResult{}, errLockRace
		}
		return model.LockResult{Outcome: model.OutcomeConflict, Lock: winner}, nil
	}
	if err != nil {
		return model.LockResult{}, fmt.Errorf("write lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.LockResult{}, fmt.Errorf("commit acquire: %w", err)
	}
	return model.LockResult{Outcome: model.OutcomeGranted, Lock: granted}, nil
}

// Release deletes the lock if sessionID holds it. A missing row is reported
// as already unlocked.
func (r *LockRepository) Release(ctx context.Context, roomID, sessionID string) (model.LockResult, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.LockResult{}, fmt.Errorf("begin release: %w", err)
	}
	defer tx.Rollback()

	existing, err := findLock(ctx, tx, roomID, true)
	if err != nil {
		return model.LockResult{}, err
	}
	if existing == nil {
		return model.LockResult{Outcome: model.OutcomeAlreadyUnlocked}, nil
	}
	if existing.HolderSessionID != sessionID {
		return model.LockResult{Outcome: model.OutcomeNotHolder}, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_locks WHERE room_id = $1`, roomID); err != nil {
		return model.LockResult{}, fmt.Errorf("delete lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.LockResult{}, fmt.Errorf("commit release: %w", err)
	}
	return model.LockResult{Outcome: model.OutcomeReleased, Lock: existing}, nil
}

// Heartbeat moves expires_at forward to expiresAt. It never moves it back
// and never touches the holder or locked_at.
func (r *LockRepository) Heartbeat(ctx context.Context, roomID, sessionID string, expiresAt time.Time) (model.LockResult, error) {
	l, err := scanLock(r.DB.QueryRowContext(ctx, `UPDATE document_locks SET expires_at = GREATEST(expires_at, $3)
		WHERE room_id = $1 AND holder_session_id = $2
		RETURNING `+lockColumns, roomID, sessionID, expiresAt))
	if err == nil {
		return model.LockResult{Outcome: model.OutcomeExtended, Lock: l}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.LockResult{}, fmt.Errorf("extend lock: %w", err)
	}

	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM document_locks WHERE room_id = $1)`, roomID).Scan(&exists); err != nil {
		return model.LockResult{}, fmt.Errorf("check lock: %w", err)
	}
	if exists {
		return model.LockResult{Outcome: model.OutcomeNotHolder}, nil
	}
	return model.LockResult{Outcome: model.OutcomeNotFound}, nil
}

// DeleteExpired removes every lock with expires_at <= now in one statement.
// Postgres re-checks the predicate on each row it deletes, so a lock renewed
// after the scan started survives.
func (r *LockRepository) DeleteExpired(ctx context.Context, now time.Time) ([]model.Lock, error) {
	rows, err := r.DB.QueryContext(ctx, `DELETE FROM document_locks WHERE expires_at <= $1 RETURNING `+lockColumns, now)
	if err != nil {
		return nil, fmt.Errorf("delete expired locks: %w", err)
	}
	defer rows.Close()

	var removed []model.Lock
	for rows.Next() {
		var l model.Lock
		if err := rows.Scan(&l.RoomID, &l.HolderSessionID, &l.LockedAt, &l.ExpiresAt); err != nil {
			return removed, fmt.Errorf("scan expired lock: %w", err)
		}
		removed = append(removed, l)
	}
	return removed, rows.Err()
}
