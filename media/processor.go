package media

import (
	"fmt"
	"image"
	"io"
	"log"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	FaceJpegQuality   = 90
	FaceFileExtension = ".jpg"

	RecordingFileExtension  = ".avi"
	TranscodedFileExtension = ".mp4"
)

// Processor encodes face crops and allocates recording paths on top of a Store.
type Processor struct {
	store Store
}

func NewProcessor(store Store) *Processor {
	return &Processor{store: store}
}

// SaveFace encodes img as JPEG under known/<label>/ or unknown/<label>/ with a
// uuid filename. Returns the relative path.
func (p *Processor) SaveFace(img image.Image, known bool, label string) (string, error) {
	if img == nil {
		return "", fmt.Errorf("no face image to save")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return "", fmt.Errorf("invalid face image dimensions: %dx%d", b.Dx(), b.Dy())
	}

	assetType := AssetTypeUnknownFace
	if known {
		assetType = AssetTypeKnownFace
	}

	reader, writer := io.Pipe()
	go func() {
		err := imaging.Encode(writer, img, imaging.JPEG, imaging.JPEGQuality(FaceJpegQuality))
		if err != nil {
			log.Printf("processor: Failed to encode face image: %v", err)
			writer.CloseWithError(fmt.Errorf("face encoding failed: %w", err))
			return
		}
		writer.Close()
	}()

	faceUUID, err := uuid.NewRandom()
	if err != nil {
		reader.Close()
		return "", fmt.Errorf("failed to generate UUID for face image: %w", err)
	}

	savedRelPath, err := p.store.Save(assetType, SanitizeLabel(label), faceUUID.String()+FaceFileExtension, reader)
	reader.Close()
	if err != nil {
		return "", fmt.Errorf("failed to save face image via store: %w", err)
	}
	return savedRelPath, nil
}

// NewRecordingPath returns an absolute .avi path for a new recording of streamID
func (p *Processor) NewRecordingPath(streamID string) (string, error) {
	dir, err := p.store.EnsureDir(AssetTypeRecording)
	if err != nil {
		return "", err
	}
	recUUID, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID for recording: %w", err)
	}
	name := SanitizeLabel(streamID) + "_" + recUUID.String() + RecordingFileExtension
	return filepath.Join(dir, name), nil
}

// TranscodedPath maps a recording path to its playback derivative
func TranscodedPath(recordingPath string) string {
	return strings.TrimSuffix(recordingPath, filepath.Ext(recordingPath)) + TranscodedFileExtension
}

// SanitizeLabel makes a display label safe to use as a single path element
func SanitizeLabel(label string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			return r
		case unicode.IsSpace(r):
			return '_'
		default:
			return -1
		}
	}, strings.TrimSpace(label))
	if clean == "" {
		return "unlabeled"
	}
	return clean
}
