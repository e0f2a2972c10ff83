package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/camden-git/facewatch/config"
	"github.com/camden-git/facewatch/handlers"
	"github.com/camden-git/facewatch/services"
)

const shutdownTimeout = 30 * time.Second

var serveOpts struct {
	camerasFile string
	skipEnroll  bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recognition service and its HTTP control surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.camerasFile, "cameras", "", "YAML camera list (overrides CAMERAS_FILE)")
	serveCmd.Flags().BoolVar(&serveOpts.skipEnroll, "skip-enroll", false, "do not reload the personnel directory on boot")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	camerasFile := cfg.CamerasFile
	if serveOpts.camerasFile != "" {
		camerasFile = serveOpts.camerasFile
	}
	var cameras []config.CameraConfig
	if camerasFile != "" {
		var err error
		if cameras, err = config.LoadCameras(camerasFile); err != nil {
			return err
		}
	}

	log.Printf("Using database: %s (log store %s)", cfg.DatabasePath, cfg.LogStore)
	log.Printf("Storing face images and recordings in: %s", cfg.MediaStoragePath)

	rt, err := services.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	svc := rt.Service
	// the service outlives ctx: Close stops streams before the debouncer drains
	svc.Start(context.Background())

	if cfg.DirectoryURL != "" && !serveOpts.skipEnroll {
		if _, err := svc.ReenrollAll(); err != nil {
			log.Printf("serve: initial enrollment not queued: %v", err)
		}
	}
	if len(cameras) > 0 {
		log.Printf("serve: started %d of %d cameras", rt.StartCameras(cameras), len(cameras))
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Config:  cfg,
		Service: svc,
		WS:      rt.Hub.ServeWS,
	})
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// no WriteTimeout: video and websocket responses stay open
		IdleTimeout: 120 * time.Second,
		// request contexts end with ctx so open video responses return on shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Println("serve: shutting down")
	case err = <-serverErr:
		log.Printf("serve: server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Printf("serve: http shutdown: %v", shutdownErr)
	}
	if closeErr := svc.Close(shutdownCtx); closeErr != nil {
		log.Printf("serve: close: %v", closeErr)
	}
	return err
}
