package router

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docHandler "sharedoc/internal/document"
	"sharedoc/internal/document/model"
	"sharedoc/internal/health"
	"sharedoc/middleware"
	"sharedoc/socket"
)

var lockedAt = time.Date(2025, 12, 19, 8, 0, 0, 0, time.UTC)

type stubDocs struct{}

func (stubDocs) GetOrCreate(_ context.Context, roomID string) (*model.Document, error) {
	return &model.Document{RoomID: roomID}, nil
}

func (stubDocs) Update(_ context.Context, roomID, content string) (*model.Document, error) {
	return &model.Document{RoomID: roomID, Content: content}, nil
}

func (stubDocs) UploadImage(_ context.Context, roomID, _ string, r io.Reader) (*model.ImageUploadResponse, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return &model.ImageUploadResponse{URL: "http://localhost:8080/storage/shared-documents/" + roomID + "/x.png", Path: "shared-documents/" + roomID + "/x.png"}, nil
}

func (stubDocs) DeleteImage(_ context.Context, _, filename string) (bool, error) {
	return filename == "x.png", nil
}

type stubLocks struct {
	sessionID string
}

func (s *stubLocks) lock(roomID, sessionID string) *model.Lock {
	s.sessionID = sessionID
	return &model.Lock{RoomID: roomID, HolderSessionID: sessionID, LockedAt: lockedAt, ExpiresAt: lockedAt.Add(90 * time.Second)}
}

func (s *stubLocks) Acquire(_ context.Context, roomID, sessionID string) (model.LockResult, error) {
	return model.LockResult{Outcome: model.OutcomeGranted, Lock: s.lock(roomID, sessionID)}, nil
}

func (s *stubLocks) Release(_ context.Context, roomID, sessionID string) (model.LockResult, error) {
	return model.LockResult{Outcome: model.OutcomeReleased, Lock: s.lock(roomID, sessionID)}, nil
}

func (s *stubLocks) Heartbeat(_ context.Context, roomID, sessionID string) (model.LockResult, error) {
	return model.LockResult{Outcome: model.OutcomeExtended, Lock: s.lock(roomID, sessionID)}, nil
}

func (s *stubLocks) Status(_ context.Context, _, sessionID string) model.LockStatus {
	s.sessionID = sessionID
	return model.LockStatus{}
}

type fixture struct {
	handler  http.Handler
	sessions *middleware.Sessions
	locks    *stubLocks
}

func setup(t *testing.T, hub *socket.Hub) fixture {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "shared-documents", "doc1", "x.png"), "image bytes")
	writeFile(t, filepath.Join(root, "shared-documents", ".incoming", "x"), "staged bytes")

	locks := &stubLocks{}
	sessions := middleware.NewSessions("router-test-secret", time.Hour, false)
	h := Setup(Deps{
		Documents: docHandler.NewDocumentHandler(stubDocs{}, locks, 1024),
		Sessions:  sessions,
		Hub:       hub,
		BlobRoot:  root,
		Health:    health.NewHandler(map[string]health.Checker{"postgres": func(context.Context) error { return nil }}),
	})
	return fixture{handler: h, sessions: sessions, locks: locks}
}

func writeFile(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, []byte(body), 0o644))
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func uploadRequest(t *testing.T) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "x.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/doc1/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRoutes(t *testing.T) {
	f := setup(t, nil)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"get document", httptest.NewRequest(http.MethodGet, "/documents/doc1", nil), http.StatusOK},
		{"save document", httptest.NewRequest(http.MethodPost, "/documents/doc1", bytes.NewBufferString(`{"content":"hi"}`)), http.StatusOK},
		{"upload image", uploadRequest(t), http.StatusCreated},
		{"delete image", httptest.NewRequest(http.MethodDelete, "/documents/doc1/images/x.png", nil), http.StatusOK},
		{"delete missing image", httptest.NewRequest(http.MethodDelete, "/documents/doc1/images/y.png", nil), http.StatusNotFound},
		{"lock status", httptest.NewRequest(http.MethodGet, "/documents/doc1/lock", nil), http.StatusOK},
		{"acquire lock", httptest.NewRequest(http.MethodPost, "/documents/doc1/lock", nil), http.StatusOK},
		{"release lock", httptest.NewRequest(http.MethodDelete, "/documents/doc1/lock", nil), http.StatusOK},
		{"heartbeat", httptest.NewRequest(http.MethodPut, "/documents/doc1/lock", nil), http.StatusOK},
		{"unsupported method", httptest.NewRequest(http.MethodPatch, "/documents/doc1/lock", nil), http.StatusMethodNotAllowed},
		{"hidden room", httptest.NewRequest(http.MethodGet, "/documents/.incoming", nil), http.StatusNotFound},
		{"health", httptest.NewRequest(http.MethodGet, "/health", nil), http.StatusOK},
		{"metrics", httptest.NewRequest(http.MethodGet, "/metrics", nil), http.StatusOK},
		{"websocket disabled", httptest.NewRequest(http.MethodGet, "/ws/documents/doc1", nil), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(f.handler, tt.req)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}
}

func TestStorageServesRoomImages(t *testing.T) {
	f := setup(t, nil)

	rr := serve(f.handler, httptest.NewRequest(http.MethodGet, "/storage/shared-documents/doc1/x.png", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image bytes", rr.Body.String())

	rr = serve(f.handler, httptest.NewRequest(http.MethodGet, "/storage/shared-documents/doc1/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStorageHidesStagedUploads(t *testing.T) {
	f := setup(t, nil)

	for _, path := range []string{
		"/storage/shared-documents/.incoming/x",
		"/storage/shared-documents/.incoming/",
	} {
		rr := serve(f.handler, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.NotContains(t, rr.Body.String(), "staged bytes")
	}
}

func TestSessionIsMintedWithoutToken(t *testing.T) {
	f := setup(t, nil)

	rr := serve(f.handler, httptest.NewRequest(http.MethodPost, "/documents/doc1/lock", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	token := rr.Header().Get(middleware.SessionHeader)
	require.NotEmpty(t, token)
	sessionID, err := f.sessions.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, sessionID, f.locks.sessionID)

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, token, cookie.Value)
}

func TestSessionTokenIsReused(t *testing.T) {
	f := setup(t, nil)
	token, err := f.sessions.Issue("7d0f3c7e-4b4e-4a55-9a44-0f5e0d0a1b2c")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/documents/doc1/lock", nil)
	req.Header.Set(middleware.SessionHeader, token)
	rr := serve(f.handler, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get(middleware.SessionHeader))
	assert.Equal(t, "7d0f3c7e-4b4e-4a55-9a44-0f5e0d0a1b2c", f.locks.sessionID)
}

func TestInvalidSessionTokenIsRejected(t *testing.T) {
	f := setup(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/documents/doc1", nil)
	req.Header.Set(middleware.SessionHeader, "not-a-token")
	rr := serve(f.handler, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(f.handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code, "public routes skip sessions")
}

func TestWebsocketRouteWithHub(t *testing.T) {
	f := setup(t, socket.NewHub())

	// Not an upgrade request: the route exists and the upgrader refuses it.
	rr := serve(f.handler, httptest.NewRequest(http.MethodGet, "/ws/documents/doc1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(middleware.SessionHeader))
}
