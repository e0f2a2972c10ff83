package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/camden-git/facewatch/models"
)

const maxLogQueryLimit = 1000

type LogHandler struct {
	Service FaceController
}

// QueryLogs supports ?label=&camera=&since=&until=&limit=. since and until
// take Unix seconds or RFC 3339 timestamps.
func (lh *LogHandler) QueryLogs(w http.ResponseWriter, r *http.Request) {
	q, err := ParseLogQuery(r.URL.Query())
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	logs, err := lh.Service.QueryLogs(r.Context(), q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if logs == nil {
		logs = []models.RecognitionLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func ParseLogQuery(v url.Values) (models.LogQuery, error) {
	q := models.LogQuery{
		Label:  v.Get("label"),
		Camera: v.Get("camera"),
	}
	var err error
	if q.Since, err = parseTimestamp(v.Get("since")); err != nil {
		return q, &queryError{"since", err}
	}
	if q.Until, err = parseTimestamp(v.Get("until")); err != nil {
		return q, &queryError{"until", err}
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return q, &queryError{"limit", strconv.ErrSyntax}
		}
		if n > maxLogQueryLimit {
			n = maxLogQueryLimit
		}
		q.Limit = n
	}
	return q, nil
}

func parseTimestamp(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

type queryError struct {
	param string
	err   error
}

func (e *queryError) Error() string { return "Invalid " + e.param + " parameter: " + e.err.Error() }
func (e *queryError) Unwrap() error { return e.err }
