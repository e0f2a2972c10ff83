package media

import (
	"fmt"
	"image"
	"log"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

const (
	genderAgeInputSize = 96
	emotionInputSize   = 64
)

// label order of the FER+ output layer
var emotionLabels = []string{"Neutral", "Happy", "Surprise", "Sad", "Angry", "Disgust", "Fear", "Contempt"}

// GenderAgeModel wraps the insightface genderage network: outputs [female, male, age/100]
type GenderAgeModel struct {
	Net     gocv.Net
	mu      sync.Mutex
	Enabled bool
}

func NewGenderAgeModel(modelPath string) (*GenderAgeModel, error) {
	net, err := loadNet("attributes(genderage)", modelPath)
	if err != nil {
		return &GenderAgeModel{Enabled: false}, err
	}
	return &GenderAgeModel{Net: net, Enabled: true}, nil
}

func (g *GenderAgeModel) Close() {
	if g != nil && g.Enabled {
		g.Net.Close()
		log.Println("attributes(genderage): closed network")
		g.Enabled = false
	}
}

// Score expects a face crop and returns "Male"/"Female" and an age in years
func (g *GenderAgeModel) Score(face gocv.Mat) (string, int, error) {
	if g == nil || !g.Enabled {
		return GenderUnknown, AgeUnknown, ErrModelDisabled
	}
	if face.Empty() {
		return GenderUnknown, AgeUnknown, fmt.Errorf("genderage: empty face region")
	}

	blob := gocv.BlobFromImage(face, 1.0, image.Pt(genderAgeInputSize, genderAgeInputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.Net.SetInput(blob, "")
	output := g.Net.Forward("")
	defer output.Close()

	out, err := output.DataPtrFloat32()
	if err != nil {
		return GenderUnknown, AgeUnknown, fmt.Errorf("genderage: read output: %w", err)
	}
	if len(out) < 3 {
		return GenderUnknown, AgeUnknown, fmt.Errorf("genderage: expected 3 outputs, got %d", len(out))
	}

	gender := "Female"
	if out[1] > out[0] {
		gender = "Male"
	}
	age := int(math.Round(float64(out[2] * 100)))
	if age < 0 {
		age = 0
	}
	return gender, age, nil
}

// EmotionModel wraps the FER+ classifier (64x64 grayscale input, 8 classes)
type EmotionModel struct {
	Net     gocv.Net
	mu      sync.Mutex
	Enabled bool
}

func NewEmotionModel(modelPath string) (*EmotionModel, error) {
	net, err := loadNet("attributes(emotion)", modelPath)
	if err != nil {
		return &EmotionModel{Enabled: false}, err
	}
	return &EmotionModel{Net: net, Enabled: true}, nil
}

func (e *EmotionModel) Close() {
	if e != nil && e.Enabled {
		e.Net.Close()
		log.Println("attributes(emotion): closed network")
		e.Enabled = false
	}
}

func (e *EmotionModel) Score(face gocv.Mat) (string, error) {
	if e == nil || !e.Enabled {
		return EmotionUnknown, ErrModelDisabled
	}
	if face.Empty() {
		return EmotionUnknown, fmt.Errorf("emotion: empty face region")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if face.Channels() == 1 {
		face.CopyTo(&gray)
	} else {
		gocv.CvtColor(face, &gray, gocv.ColorBGRToGray)
	}

	blob := gocv.BlobFromImage(gray, 1.0, image.Pt(emotionInputSize, emotionInputSize), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.Net.SetInput(blob, "")
	output := e.Net.Forward("")
	defer output.Close()

	logits, err := output.DataPtrFloat32()
	if err != nil {
		return EmotionUnknown, fmt.Errorf("emotion: read output: %w", err)
	}
	if len(logits) < len(emotionLabels) {
		return EmotionUnknown, fmt.Errorf("emotion: expected %d logits, got %d", len(emotionLabels), len(logits))
	}
	return emotionLabels[argmax(softmax(logits[:len(emotionLabels)]))], nil
}
