package service

import (
	"context"
	"time"

	"sharedoc/internal/document/model"
	"sharedoc/internal/metrics"
	"sharedoc/internal/notify"
	"sharedoc/pkg/logger"
)

// DefaultLockTTL is how long a lock lives without a heartbeat.
const DefaultLockTTL = 90 * time.Second

// LockRepository is implemented by the Postgres and Redis lock stores. Each
// mutation is atomic per room.
type LockRepository interface {
	Find(ctx context.Context, roomID string) (*model.Lock, error)
	Acquire(ctx context.Context, roomID, sessionID string, now, expiresAt time.Time) (model.LockResult, error)
	Release(ctx context.Context, roomID, sessionID string) (model.LockResult, error)
	Heartbeat(ctx context.Context, roomID, sessionID string, expiresAt time.Time) (model.LockResult, error)
	DeleteExpired(ctx context.Context, now time.Time) ([]model.Lock, error)
}

// LockService grants, renews and releases the advisory edit lock of a room.
type LockService struct {
	Repo     LockRepository
	Notifier *notify.Broadcaster
	TTL      time.Duration
	Now      Clock
}

func NewLockService(repo LockRepository, notifier *notify.Broadcaster, ttl time.Duration) *LockService {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockService{Repo: repo, Notifier: notifier, TTL: ttl, Now: time.Now}
}

func (s *LockService) now() time.Time {
	return s.Now().UTC().Truncate(time.Millisecond)
}

// Acquire grants the lock when the room is free, its lock has expired, or
// the caller already holds it. A holder re-acquiring gets a fresh window.
func (s *LockService) Acquire(ctx context.Context, roomID, sessionID string) (model.LockResult, error) {
	now := s.now()
	res, err := s.Repo.Acquire(ctx, roomID, sessionID, now, now.Add(s.TTL))
	if err != nil {
		return res, err
	}
	s.record("acquire", res)

	if res.Outcome == model.OutcomeGranted {
		s.Notifier.Send(ctx, notify.DocumentLocked(roomID, sessionID, res.Lock.LockedAt))
	}
	return res, nil
}

// Release removes the lock when the caller holds it. The unlocked event is
// only published when a lock was actually removed.
func (s *LockService) Release(ctx context.Context, roomID, sessionID string) (model.LockResult, error) {
	res, err := s.Repo.Release(ctx, roomID, sessionID)
	if err != nil {
		return res, err
	}
	s.record("release", res)

	if res.Outcome == model.OutcomeReleased {
		s.Notifier.Send(ctx, notify.DocumentUnlocked(roomID, sessionID))
	}
	return res, nil
}

// Heartbeat pushes expiry to max(expires_at, now+TTL). It never shortens a
// lock and publishes nothing.
func (s *LockService) Heartbeat(ctx context.Context, roomID, sessionID string) (model.LockResult, error) {
	res, err := s.Repo.Heartbeat(ctx, roomID, sessionID, s.now().Add(s.TTL))
	if err != nil {
		return res, err
	}
	s.record("heartbeat", res)
	return res, nil
}

// Status never fails. A lock past its expiry that the janitor has not yet
// swept reads as unlocked, and storage errors read as unlocked too.
func (s *LockService) Status(ctx context.Context, roomID, sessionID string) model.LockStatus {
	l, err := s.Repo.Find(ctx, roomID)
	if err != nil {
		logger.Sugar.Errorw("Failed to read lock status", "room_id", roomID, "error", err)
		return model.LockStatus{}
	}
	if l == nil || !l.Valid(s.now()) {
		return model.LockStatus{}
	}

	lockedAt := l.LockedAt
	return model.LockStatus{
		IsLocked: true,
		IsMine:   l.HolderSessionID == sessionID,
		LockedAt: &lockedAt,
	}
}

func (s *LockService) record(op string, res model.LockResult) {
	metrics.LockOperations.WithLabelValues(op, string(res.Outcome)).Inc()
	logger.Sugar.Debugw("Lock operation", "op", op, "outcome", res.Outcome)
}
