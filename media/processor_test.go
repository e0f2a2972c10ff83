package media

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	ls, err := NewLocalStorage(t.TempDir(), map[AssetType]string{
		AssetTypeKnownFace:   "known",
		AssetTypeUnknownFace: "unknown",
		AssetTypeRecording:   "recordings",
	})
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	return ls
}

func TestProcessorSaveFace(t *testing.T) {
	ls := newTestStorage(t)
	p := NewProcessor(ls)

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(4, 4, color.RGBA{R: 255, A: 255})

	rel, err := p.SaveFace(img, true, "Ada Lovelace")
	if err != nil {
		t.Fatalf("SaveFace: %v", err)
	}
	if !strings.HasPrefix(rel, "known/Ada_Lovelace/") || !strings.HasSuffix(rel, FaceFileExtension) {
		t.Errorf("unexpected relative path %q", rel)
	}
	full, err := ls.GetFullPath(rel)
	if err != nil {
		t.Fatalf("GetFullPath: %v", err)
	}
	if info, err := os.Stat(full); err != nil || info.Size() == 0 {
		t.Fatalf("saved file missing or empty: %v", err)
	}

	rel, err = p.SaveFace(img, false, "Unknown-3")
	if err != nil {
		t.Fatalf("SaveFace unknown: %v", err)
	}
	if !strings.HasPrefix(rel, "unknown/Unknown-3/") {
		t.Errorf("unknown face saved to %q", rel)
	}

	if _, err := p.SaveFace(nil, true, "x"); err == nil {
		t.Error("expected error for nil image")
	}
}

func TestProcessorRecordingPath(t *testing.T) {
	ls := newTestStorage(t)
	p := NewProcessor(ls)

	path, err := p.NewRecordingPath("lobby cam")
	if err != nil {
		t.Fatalf("NewRecordingPath: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != "recordings" {
		t.Errorf("recording not under recordings dir: %s", path)
	}
	if !strings.HasPrefix(filepath.Base(path), "lobby_cam_") || filepath.Ext(path) != RecordingFileExtension {
		t.Errorf("unexpected recording name %s", path)
	}
	if got := TranscodedPath(path); filepath.Ext(got) != TranscodedFileExtension {
		t.Errorf("TranscodedPath = %s", got)
	}
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	ls := newTestStorage(t)

	if _, err := ls.Save(AssetTypeKnownFace, "../../etc", "x.jpg", strings.NewReader("x")); err == nil {
		t.Error("expected traversal in dir hint to be rejected")
	}
	if _, err := ls.GetFullPath("../outside.jpg"); err == nil {
		t.Error("expected traversal in relative path to be rejected")
	}
	if _, err := ls.EnsureDir(AssetType("thumbnail")); err == nil {
		t.Error("expected unconfigured asset type to fail")
	}
	if err := ls.Delete("known/missing.jpg"); err != nil {
		t.Errorf("deleting a missing asset should succeed: %v", err)
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ada Lovelace", "Ada_Lovelace"},
		{"Unknown-12", "Unknown-12"},
		{"../../etc", "etc"},
		{"  ", "unlabeled"},
		{"José", "José"},
	}
	for _, tt := range tests {
		if got := SanitizeLabel(tt.in); got != tt.want {
			t.Errorf("SanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
