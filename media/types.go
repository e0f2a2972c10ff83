// media/types.go
package media

import (
	"errors"
	"image"
)

type AssetType string

const (
	AssetTypeKnownFace   AssetType = "known"
	AssetTypeUnknownFace AssetType = "unknown"
	AssetTypeRecording   AssetType = "recording"
)

// sentinel attribute values used whenever a scorer is disabled or fails
const (
	GenderUnknown  = "Unknown"
	EmotionUnknown = "Unknown"
	AgeUnknown     = -1
)

var ErrModelDisabled = errors.New("model not loaded")

type Point2D struct {
	X float32
	Y float32
}

// FaceDetection is one face found in a frame, in frame pixel space.
type FaceDetection struct {
	Box        image.Rectangle
	Landmarks  []Point2D // left eye, right eye, nose, left mouth, right mouth
	Confidence float32
}

type SpoofLabel string

const (
	SpoofReal    SpoofLabel = "Real"
	SpoofFake    SpoofLabel = "Fake"
	SpoofUnknown SpoofLabel = "Unknown"
)

type SpoofResult struct {
	Label SpoofLabel
	Score float32 // probability of Label
}
