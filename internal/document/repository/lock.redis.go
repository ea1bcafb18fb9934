package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sharedoc/internal/document/model"
	"sharedoc/pkg/logger"
)

// Each script touches a single room's hash plus the shared expiry index and
// runs atomically inside Redis. Timestamps are unix milliseconds, returned
// as the stored strings so no float conversion happens in Lua.
//
// Reply shape: {status, holder, locked_at, expires_at}.

var acquireScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder')
if holder and holder ~= ARGV[2] then
	local exp = redis.call('HGET', KEYS[1], 'expires_at')
	if tonumber(exp) > tonumber(ARGV[3]) then
		return {0, holder, redis.call('HGET', KEYS[1], 'locked_at'), exp}
	end
end
redis.call('HSET', KEYS[1], 'holder', ARGV[2], 'locked_at', ARGV[3], 'expires_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return {1, ARGV[2], ARGV[3], ARGV[4]}
`)

var releaseScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder')
if not holder then
	return {0}
end
if holder ~= ARGV[2] then
	return {2}
end
local lockedAt = redis.call('HGET', KEYS[1], 'locked_at')
local exp = redis.call('HGET', KEYS[1], 'expires_at')
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return {1, holder, lockedAt, exp}
`)

var heartbeatScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder')
if not holder then
	return {0}
end
if holder ~= ARGV[2] then
	return {2}
end
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if tonumber(ARGV[3]) > tonumber(exp) then
	exp = ARGV[3]
	redis.call('HSET', KEYS[1], 'expires_at', exp)
	redis.call('ZADD', KEYS[2], exp, ARGV[1])
end
return {1, holder, redis.call('HGET', KEYS[1], 'locked_at'), exp}
`)

// reapScript deletes the lock only if it is still expired at ARGV[2].
var reapScript = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if not exp then
	redis.call('ZREM', KEYS[2], ARGV[1])
	return {0}
end
if tonumber(exp) > tonumber(ARGV[2]) then
	return {0}
end
local holder = redis.call('HGET', KEYS[1], 'holder')
local lockedAt = redis.call('HGET', KEYS[1], 'locked_at')
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return {1, holder, lockedAt, exp}
`)

// RedisLockRepository keeps locks in Redis: one hash per room and a sorted
// set of rooms scored by expiry for the janitor. Both keys carry the prefix
// as a hash tag ({prefix}:...), so they share a cluster slot and every
// script stays valid on Redis Cluster.
type RedisLockRepository struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLockRepository(rdb *redis.Client, prefix string) *RedisLockRepository {
	return &RedisLockRepository{rdb: rdb, prefix: prefix}
}

func (r *RedisLockRepository) lockKey(roomID string) string {
	return fmt.Sprintf("{%s}:lock:%s", r.prefix, roomID)
}

func (r *RedisLockRepository) expiryKey() string {
	return "{" + r.prefix + "}:lock_expiry"
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// parseReply decodes {status, holder, locked_at, expires_at}; the lock is nil
// when the reply only carries a status.
func parseReply(roomID string, reply []any) (int64, *model.Lock, error) {
	if len(reply) == 0 {
		return 0, nil, errors.New("empty script reply")
	}
	status, ok := reply[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected status type %T", reply[0])
	}
	if len(reply) < 4 {
		return status, nil, nil
	}
	holder, ok := reply[1].(string)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected holder type %T", reply[1])
	}
	lockedAt, err := parseMillis(reply[2])
	if err != nil {
		return 0, nil, err
	}
	expiresAt, err := parseMillis(reply[3])
	if err != nil {
		return 0, nil, err
	}
	return status, &model.Lock{RoomID: roomID, HolderSessionID: holder, LockedAt: lockedAt, ExpiresAt: expiresAt}, nil
}

func (r *RedisLockRepository) run(ctx context.Context, script *redis.Script, roomID string, args ...any) (int64, *model.Lock, error) {
	reply, err := script.Run(ctx, r.rdb, []string{r.lockKey(roomID), r.expiryKey()}, args...).Slice()
	if err != nil {
		return 0, nil, err
	}
	return parseReply(roomID, reply)
}

func (r *RedisLockRepository) Find(ctx context.Context, roomID string) (*model.Lock, error) {
	fields, err := r.rdb.HGetAll(ctx, r.lockKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load lock for room %s: %w", roomID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	_, l, err := parseReply(roomID, []any{int64(1), fields["holder"], fields["locked_at"], fields["expires_at"]})
	if err != nil {
		return nil, fmt.Errorf("decode lock for room %s: %w", roomID, err)
	}
	return l, nil
}

func (r *RedisLockRepository) Acquire(ctx context.Context, roomID, sessionID string, now, expiresAt time.Time) (model.LockResult, error) {
	status, l, err := r.run(ctx, acquireScript, roomID, roomID, sessionID, millis(now), millis(expiresAt))
	if err != nil {
		return model.LockResult{}, fmt.Errorf("acquire lock: %w", err)
	}
	if status == 1 {
		return model.LockResult{Outcome: model.OutcomeGranted, Lock: l}, nil
	}
	return model.LockResult{Outcome: model.OutcomeConflict, Lock: l}, nil
}

func (r *RedisLockRepository) Release(ctx context.Context, roomID, sessionID string) (model.LockResult, error) {
	status, l, err := r.run(ctx, releaseScript, roomID, roomID, sessionID)
	if err != nil {
		return model.LockResult{}, fmt.Errorf("release lock: %w", err)
	}
	switch status {
	case 1:
		return model.LockResult{Outcome: model.OutcomeReleased, Lock: l}, nil
	case 2:
		return model.LockResult{Outcome: model.OutcomeNotHolder}, nil
	default:
		return model.LockResult{Outcome: model.OutcomeAlreadyUnlocked}, nil
	}
}

func (r *RedisLockRepository) Heartbeat(ctx context.Context, roomID, sessionID string, expiresAt time.Time) (model.LockResult, error) {
	status, l, err := r.run(ctx, heartbeatScript, roomID, roomID, sessionID, millis(expiresAt))
	if err != nil {
		return model.LockResult{}, fmt.Errorf("extend lock: %w", err)
	}
	switch status {
	case 1:
		return model.LockResult{Outcome: model.OutcomeExtended, Lock: l}, nil
	case 2:
		return model.LockResult{Outcome: model.OutcomeNotHolder}, nil
	default:
		return model.LockResult{Outcome: model.OutcomeNotFound}, nil
	}
}

// DeleteExpired reads candidate rooms from the expiry index, then reaps each
// one with a script that re-checks expiry at delete time.
func (r *RedisLockRepository) DeleteExpired(ctx context.Context, now time.Time) ([]model.Lock, error) {
	rooms, err := r.rdb.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: millis(now),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired locks: %w", err)
	}

	var removed []model.Lock
	for _, roomID := range rooms {
		status, l, err := r.run(ctx, reapScript, roomID, roomID, millis(now))
		if err != nil {
			logger.Sugar.Warnw("Failed to reap expired lock", "room_id", roomID, "error", err)
			continue
		}
		if status == 1 && l != nil {
			removed = append(removed, *l)
		}
	}
	return removed, nil
}
