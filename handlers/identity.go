package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/facewatch/services"
)

type IdentityHandler struct {
	Service FaceController
}

func (ih *IdentityHandler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	ids := ih.Service.ListIdentities()
	if ids == nil {
		ids = []services.IdentityView{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// RenameIdentity accepts either the identity key or its current label in the path
func (ih *IdentityHandler) RenameIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Missing required field: label")
		return
	}

	key, err := ih.Service.RenameIdentity(chi.URLParam(r, "identity"), label)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "label": label})
}

type EnrollmentHandler struct {
	Service FaceController
}

func (eh *EnrollmentHandler) Reenroll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "person_id")
	queued, err := eh.Service.Reenroll(id)
	eh.respond(w, id, queued, err)
}

func (eh *EnrollmentHandler) ReenrollAll(w http.ResponseWriter, r *http.Request) {
	queued, err := eh.Service.ReenrollAll()
	eh.respond(w, "", queued, err)
}

func (eh *EnrollmentHandler) respond(w http.ResponseWriter, id string, queued bool, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !queued {
		// already pending, or the queue is full
		WriteAPIError(w, http.StatusTooManyRequests, CodeQueueFull, "re-enrollment not queued; a request is already pending or the queue is full")
		return
	}
	resp := map[string]string{"message": "re-enrollment queued"}
	if id != "" {
		resp["person_id"] = id
	}
	writeJSON(w, http.StatusAccepted, resp)
}
