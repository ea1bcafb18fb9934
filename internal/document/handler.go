package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sharedoc/internal/blob"
	"sharedoc/internal/document/model"
	"sharedoc/internal/document/service"
	"sharedoc/middleware"
	"sharedoc/pkg/logger"
)

// multipartOverhead is the slack allowed on top of the image limit for
// multipart boundaries and headers.
const multipartOverhead = 64 << 10

type DocumentService interface {
	GetOrCreate(ctx context.Context, roomID string) (*model.Document, error)
	Update(ctx context.Context, roomID, content string) (*model.Document, error)
	UploadImage(ctx context.Context, roomID, originalName string, r io.Reader) (*model.ImageUploadResponse, error)
	DeleteImage(ctx context.Context, roomID, filename string) (bool, error)
}

type LockService interface {
	Acquire(ctx context.Context, roomID, sessionID string) (model.LockResult, error)
	Release(ctx context.Context, roomID, sessionID string) (model.LockResult, error)
	Heartbeat(ctx context.Context, roomID, sessionID string) (model.LockResult, error)
	Status(ctx context.Context, roomID, sessionID string) model.LockStatus
}

type DocumentHandler struct {
	Docs          DocumentService
	Locks         LockService
	MaxImageBytes int64
}

func NewDocumentHandler(docs DocumentService, locks LockService, maxImageBytes int64) *DocumentHandler {
	return &DocumentHandler{Docs: docs, Locks: locks, MaxImageBytes: maxImageBytes}
}

// JSON sends a JSON response with the given status code.
func (h *DocumentHandler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *DocumentHandler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

func (h *DocumentHandler) internalError(w http.ResponseWriter, op, roomID string, err error) {
	logger.Sugar.Errorw("Handler: "+op+" failed", "room_id", roomID, "error", err)
	h.Error(w, http.StatusInternalServerError, "Internal server error")
}

// roomID returns the room path parameter. Room ids become a blob folder, so
// anything that is not a single, non-hidden path element is treated as
// unknown.
func (h *DocumentHandler) roomID(w http.ResponseWriter, r *http.Request) (string, bool) {
	roomID := chi.URLParam(r, "room_id")
	if !blob.ValidRoomID(roomID) {
		h.Error(w, http.StatusNotFound, "Document not found")
		return "", false
	}
	return roomID, true
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomID(w, r)
	if !ok {
		return
	}

	doc, err := h.Docs.GetOrCreate(r.Context(), roomID)
	if err != nil {
		h.internalError(w, "get document", roomID, err)
		return
	}
	h.JSON(w, http.StatusOK, model.DocumentResponse{RoomID: doc.RoomID, Content: doc.Content})
}

// SaveDocument replaces the content. It does not check the lock.
func (h *DocumentHandler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomID(w, r)
	if !ok {
		return
	}

	var req model.SaveDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Error(w, http.StatusUnprocessableEntity, "The content field must be a string.")
		return
	}
	content := ""
	if req.Content != nil {
		content = *req.Content
	}

	doc, err := h.Docs.Update(r.Context(), roomID, content)
	if err != nil {
		h.internalError(w, "save document", roomID, err)
		return
	}
	h.JSON(w, http.StatusOK, model.DocumentResponse{RoomID: doc.RoomID, Content: doc.Content})
}

func (h *DocumentHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxImageBytes+multipartOverhead)
	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(w, http.StatusUnprocessableEntity, "The image may not be larger than the upload limit.")
			return
		}
		h.Error(w, http.StatusUnprocessableEntity, "The image field is required.")
		return
	}
	defer file.Close()

	if header.Size > h.MaxImageBytes {
		h.Error(w, http.StatusUnprocessableEntity, "The image may not be larger than the upload limit.")
		return
	}

	res, err := h.Docs.UploadImage(r.Context(), roomID, header.Filename, file)
	if errors.Is(err, service.ErrInvalidImage) {
		h.Error(w, http.StatusUnprocessableEntity, "The image field must be an image.")
		return
	}
	if err != nil {
		h.internalError(w, "upload image", roomID, err)
		return
	}
	h.JSON(w, http.StatusCreated, res)
}

func (h *DocumentHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomID(w, r)
	if !ok {
		return
	}
	filename := chi.URLParam(r, "filename")

	deleted, err := h.Docs.DeleteImage(r.Context(), roomID, filename)
	if err != nil {
		h.internalError(w, "delete image", roomID, err)
		return
	}
	if !deleted {
		h.JSON(w, http.StatusNotFound, map[string]string{
			"message": "Image could not be deleted. It does not exist or another document still uses it.",
		})
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"message": "Image deleted."})
}

func (h *DocumentHandler) GetLockStatus(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomID(w, r)
	if !ok {
		return
	}
	h.JSON(w, http.StatusOK, h.Locks.Status(r.Context(), roomID, middleware.SessionID(r.Context())))
}

func (h *DocumentHandler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomID(w, r)
	if !ok {
		return
	}

	res, err := h.Locks.Acquire(r.Context(), roomID, middleware.SessionID(r.Context()))
	if err != nil {
		h.internalError(w, "acquire lock", roomID, err)
		return
	}

	switch res.Outcome {
	case model.OutcomeGranted:
		h.JSON(w, http.StatusOK, model.LockAcquiredResponse{
			Success:   true,
			LockedAt:  res.Lock.LockedAt,
			ExpiresAt: res.Lock.ExpiresAt,
		})
	default:
		resp := model.LockErrorResponse{
			Error:   string(model.OutcomeConflict),
			Message: "Another session is editing this document.",
		}
		if res.Lock != nil {
			resp.LockedAt = &res.Lock.LockedAt
		}
		h.JSON(w, http.StatusConflict, resp)
	}
}

func (h *DocumentHandler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomID(w, r)
	if !ok {
		return
	}

	res, err := h.Locks.Release(r.Context(), roomID, middleware.SessionID(r.Context()))
	if err != nil {
		h.internalError(w, "release lock", roomID, err)
		return
	}

	switch res.Outcome {
	case model.OutcomeReleased:
		h.JSON(w, http.StatusOK, model.MessageResponse{Success: true, Message: "Lock released."})
	case model.OutcomeAlreadyUnlocked:
		h.JSON(w, http.StatusOK, model.MessageResponse{Success: true, Message: "Lock was already released."})
	default:
		h.notHolder(w)
	}
}

// Heartbeat extends the caller's lock.
func (h *DocumentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomID(w, r)
	if !ok {
		return
	}

	res, err := h.Locks.Heartbeat(r.Context(), roomID, middleware.SessionID(r.Context()))
	if err != nil {
		h.internalError(w, "extend lock", roomID, err)
		return
	}

	switch res.Outcome {
	case model.OutcomeExtended:
		h.JSON(w, http.StatusOK, model.LockHeartbeatResponse{Success: true, ExpiresAt: res.Lock.ExpiresAt})
	case model.OutcomeNotFound:
		h.JSON(w, http.StatusNotFound, model.LockErrorResponse{
			Error:   string(model.OutcomeNotFound),
			Message: "No lock is held on this document.",
		})
	default:
		h.notHolder(w)
	}
}

func (h *DocumentHandler) notHolder(w http.ResponseWriter) {
	h.JSON(w, http.StatusForbidden, model.LockErrorResponse{
		Error:   string(model.OutcomeNotHolder),
		Message: "You do not hold the lock on this document.",
	})
}
