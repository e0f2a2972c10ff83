package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/camden-git/facewatch/recognition"
	"github.com/camden-git/facewatch/services"
	"github.com/camden-git/facewatch/stream"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// error codes
const (
	CodeInvalidRequest        = "invalid_request"
	CodeStreamNotFound        = "stream_not_found"
	CodeStreamExists          = "stream_exists"
	CodeNotRecording          = "not_recording"
	CodeSourceUnavailable     = "source_unavailable"
	CodeIdentityNotFound      = "identity_not_found"
	CodeEnrollmentUnavailable = "enrollment_unavailable"
	CodeQueueFull             = "queue_full"
	CodeInternal              = "internal_error"
)

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// writeServiceError maps the service's sentinel errors onto API errors
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stream.ErrStreamNotFound):
		WriteAPIError(w, http.StatusNotFound, CodeStreamNotFound, err.Error())
	case errors.Is(err, stream.ErrStreamExists):
		WriteAPIError(w, http.StatusConflict, CodeStreamExists, err.Error())
	case errors.Is(err, stream.ErrNotRecording):
		WriteAPIError(w, http.StatusConflict, CodeNotRecording, err.Error())
	case errors.Is(err, stream.ErrSourceUnavailable):
		WriteAPIError(w, http.StatusBadGateway, CodeSourceUnavailable, err.Error())
	case errors.Is(err, recognition.ErrIdentityNotFound):
		WriteAPIError(w, http.StatusNotFound, CodeIdentityNotFound, err.Error())
	case errors.Is(err, services.ErrEnrollmentUnavailable):
		WriteAPIError(w, http.StatusServiceUnavailable, CodeEnrollmentUnavailable, err.Error())
	default:
		log.Printf("handlers: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("handlers: error encoding JSON response: %v", err)
		}
	}
}
