package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/camden-git/facewatch/config"
)

const requestTimeout = 60 * time.Second

// RouterDeps is what NewRouter mounts. WS may be nil to disable the websocket.
type RouterDeps struct {
	Config  config.Config
	Service FaceController
	WS      http.HandlerFunc
}

func NewRouter(deps RouterDeps) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	streamHandler := &StreamHandler{Service: deps.Service}
	identityHandler := &IdentityHandler{Service: deps.Service}
	enrollmentHandler := &EnrollmentHandler{Service: deps.Service}
	logHandler := &LogHandler{Service: deps.Service}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// long-lived responses, no request timeout
		r.Get("/streams/{stream_id}/video", streamHandler.Video)
		if deps.WS != nil {
			r.Get("/ws", deps.WS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Route("/streams", func(r chi.Router) {
				r.Get("/", streamHandler.ListStreams)
				r.Post("/", streamHandler.StartStream)
				r.Route("/{stream_id}", func(r chi.Router) {
					r.Get("/", streamHandler.GetStream)
					r.Delete("/", streamHandler.StopStream)
					r.Post("/recording/stop", streamHandler.StopRecording)
				})
			})

			r.Route("/identities", func(r chi.Router) {
				r.Get("/", identityHandler.ListIdentities)
				r.Put("/{identity}", identityHandler.RenameIdentity)
			})

			r.Route("/enrollment", func(r chi.Router) {
				r.Post("/", enrollmentHandler.ReenrollAll)
				r.Post("/{person_id}", enrollmentHandler.Reenroll)
			})

			r.Get("/logs", logHandler.QueryLogs)

			if cfg.MediaStoragePath != "" {
				mountMedia(r, cfg)
			}
		})
	})

	return r
}

func mountMedia(r chi.Router, cfg config.Config) {
	for _, m := range []struct {
		subDir string
		maxAge time.Duration
	}{
		{cfg.KnownFacesSubDir, 24 * time.Hour},
		{cfg.UnknownFaceSubDir, 24 * time.Hour},
		{cfg.RecordingsSubDir, 0},
	} {
		if m.subDir == "" {
			continue
		}
		prefix := "/api/media/" + m.subDir + "/"
		r.Get("/media/"+m.subDir+"/*", AssetServer(cfg.MediaStoragePath, m.subDir, prefix, m.maxAge))
	}
}
