package service

import (
	"context"
	"errors"
	"maps"
	"regexp"
	"slices"
	"strings"

	"sharedoc/internal/blob"
	"sharedoc/internal/metrics"
	"sharedoc/pkg/logger"
)

// ImageRefPattern matches a markdown image, ![alt](url), capturing url.
// Both the collector and the explicit delete guard rely on it.
const ImageRefPattern = `!\[.*?\]\((.*?)\)`

var imageRefRe = regexp.MustCompile(ImageRefPattern)

// ExtractImageRefs returns the set of image URLs referenced by content.
func ExtractImageRefs(content string) map[string]struct{} {
	refs := make(map[string]struct{})
	for _, m := range imageRefRe.FindAllStringSubmatch(content, -1) {
		refs[m[1]] = struct{}{}
	}
	return refs
}

// ReferenceChecker answers whether a filename is still used by a document
// other than roomID.
type ReferenceChecker interface {
	ReferencedElsewhere(ctx context.Context, roomID, filename string) (bool, error)
}

type gcResult string

const (
	gcDeleted    gcResult = "deleted"
	gcMissing    gcResult = "missing"
	gcReferenced gcResult = "referenced"
)

// ImageGC deletes blobs whose last reference was removed from a document.
type ImageGC struct {
	Blobs blob.Store
	Refs  ReferenceChecker
}

func NewImageGC(blobs blob.Store, refs ReferenceChecker) *ImageGC {
	return &ImageGC{Blobs: blobs, Refs: refs}
}

// Reconcile deletes the room's images that oldContent referenced and
// newContent no longer does, unless a document still mentions them. The
// new content counts as such a document: a filename it contains under any
// URL form is kept, matching how ReferencedElsewhere checks other rooms.
// Failures are logged per URL and never abort the remaining URLs; it
// returns the number of blobs deleted.
func (g *ImageGC) Reconcile(ctx context.Context, roomID, oldContent, newContent string) int {
	oldRefs := ExtractImageRefs(oldContent)
	if len(oldRefs) == 0 {
		return 0
	}
	newRefs := ExtractImageRefs(newContent)

	deleted := 0
	for _, u := range slices.Sorted(maps.Keys(oldRefs)) {
		if _, kept := newRefs[u]; kept {
			continue
		}
		filename, ok := blob.FilenameFromURL(roomID, u)
		if !ok {
			logger.Sugar.Debugw("Skipping image outside room folder", "room_id", roomID, "url", u)
			continue
		}
		if strings.Contains(newContent, filename) {
			metrics.ImagesCollected.WithLabelValues(string(gcReferenced)).Inc()
			continue
		}

		result, err := g.deleteIfUnreferenced(ctx, roomID, filename)
		if err != nil {
			metrics.ImagesCollected.WithLabelValues("error").Inc()
			logger.Sugar.Errorw("Failed to cleanup image", "room_id", roomID, "url", u, "error", err)
			continue
		}
		metrics.ImagesCollected.WithLabelValues(string(result)).Inc()
		if result == gcDeleted {
			deleted++
			logger.Sugar.Infow("Deleted unreferenced image", "room_id", roomID, "filename", filename)
		}
	}
	return deleted
}

// deleteIfUnreferenced removes the room's blob for filename when it exists
// and no other document references it. A blob that disappears between the
// existence check and the delete counts as missing.
func (g *ImageGC) deleteIfUnreferenced(ctx context.Context, roomID, filename string) (gcResult, error) {
	key := blob.ObjectPath(roomID, filename)

	exists, err := g.Blobs.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return gcMissing, nil
	}

	referenced, err := g.Refs.ReferencedElsewhere(ctx, roomID, filename)
	if err != nil {
		return "", err
	}
	if referenced {
		return gcReferenced, nil
	}

	if err := g.Blobs.Delete(ctx, key); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return gcMissing, nil
		}
		return "", err
	}
	return gcDeleted, nil
}
