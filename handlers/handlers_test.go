package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/camden-git/facewatch/config"
	"github.com/camden-git/facewatch/models"
	"github.com/camden-git/facewatch/recognition"
	"github.com/camden-git/facewatch/services"
	"github.com/camden-git/facewatch/stream"
)

type fakeController struct {
	streams   map[string]stream.StreamStatus
	frames    [][]byte
	renamed   map[string]string
	reenroll  []string
	noEnroll  bool
	queueFull bool
	lastQuery models.LogQuery
}

func newFakeController() *fakeController {
	return &fakeController{
		streams: map[string]stream.StreamStatus{},
		renamed: map[string]string{},
	}
}

func (f *fakeController) StartStream(id, source, cameraName string, record bool) error {
	if _, ok := f.streams[id]; ok {
		return fmt.Errorf("start stream %s: %w", id, stream.ErrStreamExists)
	}
	if source == "missing" {
		return fmt.Errorf("start stream %s: %w", id, stream.ErrSourceUnavailable)
	}
	f.streams[id] = stream.StreamStatus{ID: id, Source: source, CameraName: cameraName, Recording: record, State: "running"}
	return nil
}

func (f *fakeController) StopStream(id string) error {
	if _, ok := f.streams[id]; !ok {
		return stream.ErrStreamNotFound
	}
	delete(f.streams, id)
	return nil
}

func (f *fakeController) StopRecording(id string) error {
	st, ok := f.streams[id]
	if !ok {
		return stream.ErrStreamNotFound
	}
	if !st.Recording {
		return stream.ErrNotRecording
	}
	st.Recording = false
	f.streams[id] = st
	return nil
}

func (f *fakeController) ListStreams() []stream.StreamStatus {
	var out []stream.StreamStatus
	for _, s := range f.streams {
		out = append(out, s)
	}
	return out
}

func (f *fakeController) StreamStatus(id string) (stream.StreamStatus, error) {
	st, ok := f.streams[id]
	if !ok {
		return stream.StreamStatus{}, stream.ErrStreamNotFound
	}
	return st, nil
}

func (f *fakeController) StreamFrames(id string) (<-chan []byte, func(), error) {
	if _, ok := f.streams[id]; !ok {
		return nil, nil, stream.ErrStreamNotFound
	}
	ch := make(chan []byte, len(f.frames))
	for _, fr := range f.frames {
		ch <- fr
	}
	close(ch)
	return ch, func() {}, nil
}

func (f *fakeController) RenameIdentity(keyOrLabel, newLabel string) (string, error) {
	if keyOrLabel != "Unknown-3" {
		return "", fmt.Errorf("%w: %s", recognition.ErrIdentityNotFound, keyOrLabel)
	}
	f.renamed[keyOrLabel] = newLabel
	return keyOrLabel, nil
}

func (f *fakeController) ListIdentities() []services.IdentityView {
	return []services.IdentityView{{Key: "7", Label: "Ada"}}
}

func (f *fakeController) Reenroll(personID string) (bool, error) {
	if f.noEnroll {
		return false, services.ErrEnrollmentUnavailable
	}
	f.reenroll = append(f.reenroll, personID)
	return !f.queueFull, nil
}

func (f *fakeController) ReenrollAll() (bool, error) { return f.Reenroll("*") }

func (f *fakeController) QueryLogs(_ context.Context, q models.LogQuery) ([]models.RecognitionLog, error) {
	f.lastQuery = q
	return []models.RecognitionLog{{Label: "Ada", CameraName: "lobby"}}, nil
}

func newTestRouter(t *testing.T, ctrl *fakeController) http.Handler {
	t.Helper()
	return NewRouter(RouterDeps{
		Config:  config.Config{CORSAllowedOrigins: []string{"http://localhost:5173"}},
		Service: ctrl,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || len(resp.Errors) != 1 {
		t.Fatalf("body %q is not an API error: %v", rec.Body.String(), err)
	}
	return resp.Errors[0].Code
}

func TestStreamRoutes(t *testing.T) {
	ctrl := newFakeController()
	h := newTestRouter(t, ctrl)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"start", http.MethodPost, "/api/streams", `{"id":"cam1","source":"0","camera_name":"Lobby","record":true}`, http.StatusCreated, ""},
		{"duplicate start", http.MethodPost, "/api/streams", `{"id":"cam1","source":"0"}`, http.StatusConflict, CodeStreamExists},
		{"unavailable source", http.MethodPost, "/api/streams", `{"id":"cam2","source":"missing"}`, http.StatusBadGateway, CodeSourceUnavailable},
		{"missing source", http.MethodPost, "/api/streams", `{"id":"cam3"}`, http.StatusBadRequest, CodeInvalidRequest},
		{"bad body", http.MethodPost, "/api/streams", `{`, http.StatusBadRequest, CodeInvalidRequest},
		{"get", http.MethodGet, "/api/streams/cam1", "", http.StatusOK, ""},
		{"stop recording", http.MethodPost, "/api/streams/cam1/recording/stop", "", http.StatusNoContent, ""},
		{"stop recording twice", http.MethodPost, "/api/streams/cam1/recording/stop", "", http.StatusConflict, CodeNotRecording},
		{"stop", http.MethodDelete, "/api/streams/cam1", "", http.StatusNoContent, ""},
		{"stop unknown", http.MethodDelete, "/api/streams/cam1", "", http.StatusNotFound, CodeStreamNotFound},
	}
	for _, tt := range tests {
		rec := do(t, h, tt.method, tt.path, tt.body)
		if rec.Code != tt.status {
			t.Fatalf("%s: status %d, want %d (body %s)", tt.name, rec.Code, tt.status, rec.Body.String())
		}
		if tt.code != "" {
			if got := errorCode(t, rec); got != tt.code {
				t.Errorf("%s: code %q, want %q", tt.name, got, tt.code)
			}
		}
	}

	rec := do(t, h, http.MethodGet, "/api/streams", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty list = %d %q", rec.Code, rec.Body.String())
	}
}

func TestVideoStreamsMultipart(t *testing.T) {
	ctrl := newFakeController()
	ctrl.streams["cam1"] = stream.StreamStatus{ID: "cam1"}
	ctrl.frames = [][]byte{[]byte("jpeg-1"), []byte("jpeg-2")}
	h := newTestRouter(t, ctrl)

	rec := do(t, h, http.MethodGet, "/api/streams/cam1/video", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != stream.ContentType {
		t.Errorf("content type %q", ct)
	}
	body := rec.Body.String()
	if strings.Count(body, "--frame\r\n") != 2 || !strings.Contains(body, "jpeg-2") {
		t.Errorf("body %q", body)
	}

	if rec := do(t, h, http.MethodGet, "/api/streams/nope/video", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown stream video status %d", rec.Code)
	}
}

func TestIdentityAndEnrollmentRoutes(t *testing.T) {
	ctrl := newFakeController()
	h := newTestRouter(t, ctrl)

	rec := do(t, h, http.MethodPut, "/api/identities/Unknown-3", `{"label":" Visitor "}`)
	if rec.Code != http.StatusOK || ctrl.renamed["Unknown-3"] != "Visitor" {
		t.Errorf("rename = %d %q, renamed %v", rec.Code, rec.Body.String(), ctrl.renamed)
	}
	if rec := do(t, h, http.MethodPut, "/api/identities/ghost", `{"label":"x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("rename missing = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/api/identities/Unknown-3", `{"label":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("rename empty = %d", rec.Code)
	}

	if rec := do(t, h, http.MethodPost, "/api/enrollment/7", ""); rec.Code != http.StatusAccepted {
		t.Errorf("reenroll = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/enrollment", ""); rec.Code != http.StatusAccepted {
		t.Errorf("reenroll all = %d", rec.Code)
	}
	if len(ctrl.reenroll) != 2 || ctrl.reenroll[1] != "*" {
		t.Errorf("reenroll calls %v", ctrl.reenroll)
	}

	ctrl.queueFull = true
	if rec := do(t, h, http.MethodPost, "/api/enrollment/7", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("queue full = %d", rec.Code)
	}
	ctrl.noEnroll = true
	rec = do(t, h, http.MethodPost, "/api/enrollment/7", "")
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != CodeEnrollmentUnavailable {
		t.Errorf("no directory = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/identities", "")
	var ids []services.IdentityView
	if err := json.Unmarshal(rec.Body.Bytes(), &ids); err != nil || len(ids) != 1 || ids[0].Label != "Ada" {
		t.Errorf("identities %q: %v", rec.Body.String(), err)
	}
}

func TestParseLogQuery(t *testing.T) {
	tests := []struct {
		raw     string
		want    models.LogQuery
		wantErr bool
	}{
		{"", models.LogQuery{}, false},
		{"label=Ada&camera=lobby&limit=5", models.LogQuery{Label: "Ada", Camera: "lobby", Limit: 5}, false},
		{"since=100&until=2024-01-01T00:00:00Z", models.LogQuery{Since: 100, Until: 1704067200}, false},
		{"limit=99999", models.LogQuery{Limit: maxLogQueryLimit}, false},
		{"limit=0", models.LogQuery{}, true},
		{"since=yesterday", models.LogQuery{}, true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/logs?"+tt.raw, nil)
		got, err := ParseLogQuery(req.URL.Query())
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v", tt.raw, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("%q: got %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestQueryLogsRoute(t *testing.T) {
	ctrl := newFakeController()
	h := newTestRouter(t, ctrl)

	rec := do(t, h, http.MethodGet, "/api/logs?camera=lobby", "")
	if rec.Code != http.StatusOK || ctrl.lastQuery.Camera != "lobby" {
		t.Fatalf("logs = %d, query %+v", rec.Code, ctrl.lastQuery)
	}
	if rec := do(t, h, http.MethodGet, "/api/logs?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", rec.Code)
	}
}

func TestMediaRoutes(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "known"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "known", "face.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewRouter(RouterDeps{
		Config: config.Config{
			MediaStoragePath:  root,
			KnownFacesSubDir:  "known",
			UnknownFaceSubDir: "unknown",
			RecordingsSubDir:  "recordings",
		},
		Service: newFakeController(),
	})

	rec := do(t, h, http.MethodGet, "/api/media/known/face.jpg", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "jpeg" {
		t.Errorf("face = %d %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Cache-Control"), "max-age") {
		t.Errorf("cache header %q", rec.Header().Get("Cache-Control"))
	}
	if rec := do(t, h, http.MethodGet, "/api/media/known/missing.jpg", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/media/recordings/cam1.mp4", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing recording = %d", rec.Code)
	}
}
