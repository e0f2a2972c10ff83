package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/facewatch/models"
	"github.com/camden-git/facewatch/services"
	"github.com/camden-git/facewatch/stream"
)

// FaceController is the service surface the HTTP layer drives
type FaceController interface {
	StartStream(id, source, cameraName string, record bool) error
	StopStream(id string) error
	StopRecording(id string) error
	ListStreams() []stream.StreamStatus
	StreamStatus(id string) (stream.StreamStatus, error)
	StreamFrames(id string) (<-chan []byte, func(), error)

	RenameIdentity(keyOrLabel, newLabel string) (string, error)
	ListIdentities() []services.IdentityView
	Reenroll(personID string) (bool, error)
	ReenrollAll() (bool, error)

	QueryLogs(ctx context.Context, q models.LogQuery) ([]models.RecognitionLog, error)
}

var _ FaceController = (*services.FaceService)(nil)

type StreamHandler struct {
	Service FaceController
}

type startStreamRequest struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	CameraName string `json:"camera_name"`
	Record     bool   `json:"record"`
}

func (sh *StreamHandler) ListStreams(w http.ResponseWriter, r *http.Request) {
	streams := sh.Service.ListStreams()
	if streams == nil {
		streams = []stream.StreamStatus{}
	}
	writeJSON(w, http.StatusOK, streams)
}

func (sh *StreamHandler) StartStream(w http.ResponseWriter, r *http.Request) {
	var req startStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Source = strings.TrimSpace(req.Source)
	if req.ID == "" || req.Source == "" {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Missing required field: id and source")
		return
	}

	if err := sh.Service.StartStream(req.ID, req.Source, req.CameraName, req.Record); err != nil {
		writeServiceError(w, err)
		return
	}
	status, err := sh.Service.StreamStatus(req.ID)
	if err != nil {
		// the source ended between start and the status read
		writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

func (sh *StreamHandler) GetStream(w http.ResponseWriter, r *http.Request) {
	status, err := sh.Service.StreamStatus(chi.URLParam(r, "stream_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (sh *StreamHandler) StopStream(w http.ResponseWriter, r *http.Request) {
	if err := sh.Service.StopStream(chi.URLParam(r, "stream_id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (sh *StreamHandler) StopRecording(w http.ResponseWriter, r *http.Request) {
	if err := sh.Service.StopRecording(chi.URLParam(r, "stream_id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Video serves the annotated stream as multipart JPEG until the viewer
// disconnects or the stream ends.
func (sh *StreamHandler) Video(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stream_id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "streaming unsupported")
		return
	}
	frames, cancel, err := sh.Service.StreamFrames(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = stream.WriteMultipart(r.Context(), w, frames, flusher.Flush)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("handlers: video %s ended: %v", id, err)
	}
}
