// Package blob stores uploaded document images and owns the path convention
// that both the upload path and the image garbage collector rely on.
package blob

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"
)

// Namespace is the top-level folder for all document images. Objects live
// at {Namespace}/{room_id}/{filename}.
const Namespace = "shared-documents"

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Store is a path-addressed object store.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, r io.Reader) error
	// Delete removes key; a missing key yields ErrNotFound.
	Delete(ctx context.Context, key string) error
	Move(ctx context.Context, from, to string) error
}

// ObjectPath returns the storage key of an image that belongs to roomID.
func ObjectPath(roomID, filename string) string {
	return Namespace + "/" + roomID + "/" + filename
}

// PublicURL returns the URL an object is served from.
func PublicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/storage/" + key
}

// FilenameFromURL extracts the filename from an image URL when the URL
// points into roomID's own folder. Absolute and relative URLs are accepted;
// query strings and fragments are ignored.
func FilenameFromURL(roomID, rawURL string) (string, bool) {
	if roomID == "" || rawURL == "" {
		return "", false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	dir, file := path.Split(u.Path)
	if !ValidFilename(file) {
		return "", false
	}
	folder := Namespace + "/" + roomID + "/"
	if dir != folder && !strings.HasSuffix(dir, "/"+folder) {
		return "", false
	}
	return file, true
}

// ValidFilename reports whether name is a single safe path element.
func ValidFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// ValidRoomID reports whether roomID can name a room folder. Dot-prefixed
// names are reserved for staging and are never served.
func ValidRoomID(roomID string) bool {
	return ValidFilename(roomID) && !strings.HasPrefix(roomID, ".")
}
