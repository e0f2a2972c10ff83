package recognition

import (
	"gocv.io/x/gocv"

	"github.com/camden-git/facewatch/media"
)

// Detector finds faces in a BGR frame.
type Detector interface {
	Detect(frame gocv.Mat) ([]media.FaceDetection, error)
}

// Embedder maps an aligned face to an identity embedding. Similarity is the
// extractor's native score: higher means more alike.
type Embedder interface {
	Embed(face gocv.Mat) ([]float32, error)
	Similarity(a, b []float32) float32
}

// SpoofClassifier decides whether a detected face is live. It receives the
// whole frame because liveness models need context around the box.
type SpoofClassifier interface {
	Classify(frame gocv.Mat, det media.FaceDetection) (media.SpoofResult, error)
}

type GenderAgeScorer interface {
	Score(face gocv.Mat) (gender string, age int, err error)
}

type EmotionScorer interface {
	Score(face gocv.Mat) (string, error)
}

// AlignFunc produces the embedder's input crop. The caller closes the returned Mat.
type AlignFunc func(frame gocv.Mat, det media.FaceDetection) (gocv.Mat, error)

// Scorers groups the inference backends. Nil members disable their stage.
type Scorers struct {
	Detector  Detector
	Embedder  Embedder
	Spoof     SpoofClassifier
	GenderAge GenderAgeScorer
	Emotion   EmotionScorer
	Align     AlignFunc
}

var (
	_ Detector        = (*media.RetinaFaceDetector)(nil)
	_ Embedder        = (*media.ArcFaceEmbedder)(nil)
	_ SpoofClassifier = (*media.AntiSpoofClassifier)(nil)
	_ GenderAgeScorer = (*media.GenderAgeModel)(nil)
	_ EmotionScorer   = (*media.EmotionModel)(nil)
)
