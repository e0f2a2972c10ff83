package media

import (
	"fmt"
	"image"
	"log"
	"sync"

	"gocv.io/x/gocv"
)

const (
	antiSpoofInputSize = 80
	antiSpoofCropScale = 2.7
	antiSpoofRealClass = 1
)

// AntiSpoofClassifier runs a MiniFASNet liveness model over an expanded face crop.
// The model emits three logits where class 1 is a live face.
type AntiSpoofClassifier struct {
	Net     gocv.Net
	mu      sync.Mutex
	Enabled bool
}

func NewAntiSpoofClassifier(modelPath string) (*AntiSpoofClassifier, error) {
	net, err := loadNet("antispoof(minifasnet)", modelPath)
	if err != nil {
		return &AntiSpoofClassifier{Enabled: false}, err
	}
	return &AntiSpoofClassifier{Net: net, Enabled: true}, nil
}

func (a *AntiSpoofClassifier) Close() {
	if a != nil && a.Enabled {
		a.Net.Close()
		log.Println("antispoof(minifasnet): closed network")
		a.Enabled = false
	}
}

// Classify labels a detected face as real or fake. Score is the winning class probability.
func (a *AntiSpoofClassifier) Classify(frame gocv.Mat, det FaceDetection) (SpoofResult, error) {
	if a == nil || !a.Enabled {
		return SpoofResult{Label: SpoofUnknown}, ErrModelDisabled
	}

	crop, err := CropFace(frame, det.Box, antiSpoofCropScale)
	if err != nil {
		return SpoofResult{Label: SpoofUnknown}, err
	}
	defer crop.Close()

	blob := gocv.BlobFromImage(crop, 1.0, image.Pt(antiSpoofInputSize, antiSpoofInputSize), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Net.SetInput(blob, "")
	output := a.Net.Forward("")
	defer output.Close()

	logits, err := output.DataPtrFloat32()
	if err != nil {
		return SpoofResult{Label: SpoofUnknown}, fmt.Errorf("antispoof: read output: %w", err)
	}
	if len(logits) < 3 {
		return SpoofResult{Label: SpoofUnknown}, fmt.Errorf("antispoof: expected 3 logits, got %d", len(logits))
	}

	probs := softmax(logits[:3])
	best := argmax(probs)
	if best == antiSpoofRealClass {
		return SpoofResult{Label: SpoofReal, Score: probs[best]}, nil
	}
	return SpoofResult{Label: SpoofFake, Score: probs[best]}, nil
}
