package handlers

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AssetServer serves files below baseStoragePath/subDir. The request path must
// start with routePrefix followed by the path relative to that directory:
//
//	r.Get("/media/known/*", AssetServer(cfg.MediaStoragePath, cfg.KnownFacesSubDir, "/media/known/", 24*time.Hour))
//
// A zero maxAge disables client caching (recordings may still be growing).
func AssetServer(baseStoragePath, subDir, routePrefix string, maxAge time.Duration) http.HandlerFunc {
	baseStoragePath = filepath.Clean(baseStoragePath)
	fullAssetDirPath := filepath.Clean(filepath.Join(baseStoragePath, subDir))
	log.Printf("handlers: serving '%s*' from %s", routePrefix, fullAssetDirPath)

	if !strings.HasPrefix(fullAssetDirPath, baseStoragePath) {
		log.Fatalf("FATAL: asset subdirectory '%s' resolved outside base storage path '%s'", subDir, baseStoragePath)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		relativePath := strings.TrimPrefix(r.URL.Path, routePrefix)
		if relativePath == "" || relativePath == r.URL.Path || strings.Contains(relativePath, "..") {
			WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid asset path")
			return
		}

		cleanedAssetPath := filepath.Clean(filepath.Join(fullAssetDirPath, relativePath))
		if !strings.HasPrefix(cleanedAssetPath, fullAssetDirPath+string(filepath.Separator)) {
			log.Printf("SECURITY: asset access outside %s: request=%q resolved=%q", fullAssetDirPath, r.URL.Path, cleanedAssetPath)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		info, err := os.Stat(cleanedAssetPath)
		if os.IsNotExist(err) || (err == nil && info.IsDir()) {
			http.NotFound(w, r)
			return
		} else if err != nil {
			log.Printf("handlers: error stating asset %s: %v", cleanedAssetPath, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		if maxAge > 0 {
			w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds())))
			w.Header().Set("Expires", time.Now().Add(maxAge).Format(http.TimeFormat))
		} else {
			w.Header().Set("Cache-Control", "no-cache")
		}
		http.ServeFile(w, r, cleanedAssetPath)
	}
}
