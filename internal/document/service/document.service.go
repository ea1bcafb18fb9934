package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"sharedoc/internal/blob"
	"sharedoc/internal/document/model"
	"sharedoc/internal/metrics"
	"sharedoc/internal/notify"
	"sharedoc/pkg/logger"
)

// ErrInvalidImage is returned when an upload is not a recognizable image.
var ErrInvalidImage = errors.New("uploaded file is not an image")

// Clock returns the current time; tests substitute a fixed clock.
type Clock func() time.Time

// DocumentRepository is the persistence the document store needs.
type DocumentRepository interface {
	GetOrCreate(ctx context.Context, roomID string) (*model.Document, error)
	Find(ctx context.Context, roomID string) (*model.Document, error)
	UpdateContent(ctx context.Context, roomID, content string) (*model.Document, error)
	ReferenceChecker
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// DocumentService is the only writer of document content.
//
// Writes are not checked against the room's lock: locking is advisory and
// coordinated by clients, and a save from a session that does not hold the
// lock is accepted.
type DocumentService struct {
	Repo          DocumentRepository
	Blobs         blob.Store
	GC            *ImageGC
	Notifier      *notify.Broadcaster
	PublicBaseURL string
	Now           Clock
}

func NewDocumentService(repo DocumentRepository, blobs blob.Store, notifier *notify.Broadcaster, publicBaseURL string) *DocumentService {
	return &DocumentService{
		Repo:          repo,
		Blobs:         blobs,
		GC:            NewImageGC(blobs, repo),
		Notifier:      notifier,
		PublicBaseURL: publicBaseURL,
		Now:           time.Now,
	}
}

func (s *DocumentService) GetOrCreate(ctx context.Context, roomID string) (*model.Document, error) {
	return s.Repo.GetOrCreate(ctx, roomID)
}

// Update replaces the room's content. Images referenced by the old content
// but not the new one are collected before the new content is stored.
func (s *DocumentService) Update(ctx context.Context, roomID, content string) (*model.Document, error) {
	doc, err := s.Repo.GetOrCreate(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if doc.Content != content {
		s.GC.Reconcile(ctx, roomID, doc.Content, content)
	}

	updated, err := s.Repo.UpdateContent(ctx, roomID, content)
	if err != nil {
		return nil, err
	}
	metrics.DocumentSaves.Inc()

	s.Notifier.Send(ctx, notify.DocumentUpdated(roomID, updated.Content))
	return updated, nil
}

// UploadImage stores an image in the room's folder. The bytes are staged
// under a temporary key and moved into place once fully written.
func (s *DocumentService) UploadImage(ctx context.Context, roomID, originalName string, r io.Reader) (*model.ImageUploadResponse, error) {
	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(head) == 0 {
		return nil, ErrInvalidImage
	}
	contentType := http.DetectContentType(head)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, ErrInvalidImage
	}

	if _, err := s.Repo.GetOrCreate(ctx, roomID); err != nil {
		return nil, err
	}

	filename := s.generateFilename(originalName, contentType)
	key := blob.ObjectPath(roomID, filename)
	staging := blob.Namespace + "/.incoming/" + uuid.NewString()

	if err := s.Blobs.Put(ctx, staging, br); err != nil {
		return nil, err
	}
	if err := s.Blobs.Move(ctx, staging, key); err != nil {
		if delErr := s.Blobs.Delete(ctx, staging); delErr != nil && !errors.Is(delErr, blob.ErrNotFound) {
			logger.Sugar.Warnf("Failed to remove staged upload %s: %v", staging, delErr)
		}
		return nil, err
	}
	metrics.ImagesUploaded.Inc()

	return &model.ImageUploadResponse{
		URL:  blob.PublicURL(s.PublicBaseURL, key),
		Path: key,
	}, nil
}

// DeleteImage removes one of the room's images. It reports false when the
// room or the file does not exist, or when another document still
// references the file.
func (s *DocumentService) DeleteImage(ctx context.Context, roomID, filename string) (bool, error) {
	if !blob.ValidFilename(filename) {
		return false, nil
	}
	doc, err := s.Repo.Find(ctx, roomID)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}

	result, err := s.GC.deleteIfUnreferenced(ctx, roomID, filename)
	if err != nil {
		return false, err
	}
	return result == gcDeleted, nil
}

// generateFilename returns "{unix}_{13 hex chars}{ext}". The extension
// always agrees with the sniffed contentType, since the file server derives
// the served Content-Type from it. The client's extension is kept only when
// it maps to that same type.
func (s *DocumentService) generateFilename(originalName, contentType string) string {
	unique := strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
	return fmt.Sprintf("%d_%s%s", s.Now().Unix(), unique, extensionFor(originalName, contentType))
}

func extensionFor(originalName, contentType string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if extPattern.MatchString(ext) && mediaType(mime.TypeByExtension(ext)) == contentType {
		return ext
	}
	if ext, ok := imageExtensions[contentType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mt)
}
