package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"sharedoc/internal/blob"
	"sharedoc/internal/document/model"
	"sharedoc/internal/notify"
)

var t0 = time.Date(2025, 12, 19, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t0 + sec seconds.
func (c *fakeClock) Set(sec int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t0.Add(time.Duration(sec) * time.Second)
}

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

// memLocks mirrors the repository contract with a mutex-guarded map.
type memLocks struct {
	mu    sync.Mutex
	locks map[string]model.Lock
	err   error
}

func newMemLocks() *memLocks { return &memLocks{locks: make(map[string]model.Lock)} }

func (m *memLocks) Find(_ context.Context, roomID string) (*model.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	l, ok := m.locks[roomID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *memLocks) Acquire(_ context.Context, roomID, sessionID string, now, expiresAt time.Time) (model.LockResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.LockResult{}, m.err
	}
	if cur, ok := m.locks[roomID]; ok && cur.HolderSessionID != sessionID && cur.Valid(now) {
		return model.LockResult{Outcome: model.OutcomeConflict, Lock: &cur}, nil
	}
	l := model.Lock{RoomID: roomID, HolderSessionID: sessionID, LockedAt: now, ExpiresAt: expiresAt}
	m.locks[roomID] = l
	return model.LockResult{Outcome: model.OutcomeGranted, Lock: &l}, nil
}

func (m *memLocks) Release(_ context.Context, roomID, sessionID string) (model.LockResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.LockResult{}, m.err
	}
	cur, ok := m.locks[roomID]
	switch {
	case !ok:
		return model.LockResult{Outcome: model.OutcomeAlreadyUnlocked}, nil
	case cur.HolderSessionID != sessionID:
		return model.LockResult{Outcome: model.OutcomeNotHolder}, nil
	}
	delete(m.locks, roomID)
	return model.LockResult{Outcome: model.OutcomeReleased, Lock: &cur}, nil
}

func (m *memLocks) Heartbeat(_ context.Context, roomID, sessionID string, expiresAt time.Time) (model.LockResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.LockResult{}, m.err
	}
	cur, ok := m.locks[roomID]
	switch {
	case !ok:
		return model.LockResult{Outcome: model.OutcomeNotFound}, nil
	case cur.HolderSessionID != sessionID:
		return model.LockResult{Outcome: model.OutcomeNotHolder}, nil
	}
	if expiresAt.After(cur.ExpiresAt) {
		cur.ExpiresAt = expiresAt
		m.locks[roomID] = cur
	}
	return model.LockResult{Outcome: model.OutcomeExtended, Lock: &cur}, nil
}

func (m *memLocks) DeleteExpired(_ context.Context, now time.Time) ([]model.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var removed []model.Lock
	for room, l := range m.locks {
		if !l.Valid(now) {
			removed = append(removed, l)
			delete(m.locks, room)
		}
	}
	return removed, nil
}

type memDocs struct {
	mu   sync.Mutex
	docs map[string]string
}

func newMemDocs() *memDocs { return &memDocs{docs: make(map[string]string)} }

func (m *memDocs) GetOrCreate(_ context.Context, roomID string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[roomID]; !ok {
		m.docs[roomID] = ""
	}
	return &model.Document{RoomID: roomID, Content: m.docs[roomID], UpdatedAt: t0}, nil
}

func (m *memDocs) Find(_ context.Context, roomID string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.docs[roomID]
	if !ok {
		return nil, nil
	}
	return &model.Document{RoomID: roomID, Content: content, UpdatedAt: t0}, nil
}

func (m *memDocs) UpdateContent(_ context.Context, roomID, content string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[roomID] = content
	return &model.Document{RoomID: roomID, Content: content, UpdatedAt: t0}, nil
}

func (m *memDocs) ReferencedElsewhere(_ context.Context, roomID, filename string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for room, content := range m.docs {
		if room != roomID && strings.Contains(content, filename) {
			return true, nil
		}
	}
	return false, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []notify.Event
}

func (b *recordingBus) Publish(_ context.Context, ev notify.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Name)
	}
	return out
}

// flakyBlobs fails Exists for one key and delegates the rest.
type flakyBlobs struct {
	blob.Store
	failKey string
}

func (f *flakyBlobs) Exists(ctx context.Context, key string) (bool, error) {
	if key == f.failKey {
		return false, errors.New("storage unavailable")
	}
	return f.Store.Exists(ctx, key)
}

func putBlob(store blob.Store, key, body string) error {
	return store.Put(context.Background(), key, strings.NewReader(body))
}
