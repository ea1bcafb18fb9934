package model

import (
	"time"
)

// Document is the persisted content of one collaborative room.
type Document struct {
	RoomID    string    `json:"room_id"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lock is the single advisory edit lock a room may hold.
type Lock struct {
	RoomID          string    `json:"room_id"`
	HolderSessionID string    `json:"session_id"`
	LockedAt        time.Time `json:"locked_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Valid reports whether the lock has not yet expired at now.
func (l *Lock) Valid(now time.Time) bool {
	return l.ExpiresAt.After(now)
}

// Outcome tags the result of a lock operation. Conflicts and ownership
// mismatches are ordinary outcomes, not errors.
type Outcome string

const (
	OutcomeGranted         Outcome = "granted"
	OutcomeConflict        Outcome = "already_locked"
	OutcomeReleased        Outcome = "released"
	OutcomeAlreadyUnlocked Outcome = "already_unlocked"
	OutcomeNotHolder       Outcome = "not_locked_by_user"
	OutcomeNotFound        Outcome = "lock_not_found"
	OutcomeExtended        Outcome = "extended"
)

// LockResult pairs an Outcome with the lock it concerns: the new lock when
// granted or extended, the blocking lock on conflict, the removed lock when
// released. Lock is nil for the other outcomes.
type LockResult struct {
	Outcome Outcome
	Lock    *Lock
}

// LockStatus is the read-only view of a room's lock for one session.
type LockStatus struct {
	IsLocked bool       `json:"is_locked"`
	IsMine   bool       `json:"is_mine"`
	LockedAt *time.Time `json:"locked_at,omitempty"`
}

type DocumentResponse struct {
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
}

// SaveDocRequest accepts a missing or null content as an empty document.
type SaveDocRequest struct {
	Content *string `json:"content"`
}

type ImageUploadResponse struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type LockAcquiredResponse struct {
	Success   bool      `json:"success"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LockHeartbeatResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LockErrorResponse struct {
	Success  bool       `json:"success"`
	Error    string     `json:"error"`
	Message  string     `json:"message"`
	LockedAt *time.Time `json:"locked_at,omitempty"`
}
