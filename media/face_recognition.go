package media

import (
	"fmt"
	"image"
	"log"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// ArcFaceEmbedder extracts L2-normalized identity embeddings from aligned 112x112 faces
type ArcFaceEmbedder struct {
	Net       gocv.Net
	mu        sync.Mutex
	Enabled   bool
	ModelName string

	InputSizeW  int
	InputSizeH  int
	ScaleFactor float64
	MeanVal     gocv.Scalar
}

// NewArcFaceEmbedder loads an ArcFace onnx model
func NewArcFaceEmbedder(modelPath string) (*ArcFaceEmbedder, error) {
	net, err := loadNet("recognition(arcface)", modelPath)
	if err != nil {
		return &ArcFaceEmbedder{Enabled: false}, err
	}

	return &ArcFaceEmbedder{
		Net:         net,
		Enabled:     true,
		ModelName:   "arcface",
		InputSizeW:  ArcFaceInputSize,
		InputSizeH:  ArcFaceInputSize,
		ScaleFactor: 1.0 / 127.5,
		MeanVal:     gocv.NewScalar(127.5, 127.5, 127.5, 0),
	}, nil
}

func (f *ArcFaceEmbedder) Close() {
	if f != nil && f.Enabled {
		f.Net.Close()
		log.Printf("recognition(arcface): closed %s network", f.ModelName)
		f.Enabled = false
	}
}

// Embed runs the network on an aligned BGR face crop
func (f *ArcFaceEmbedder) Embed(face gocv.Mat) ([]float32, error) {
	if f == nil || !f.Enabled {
		return nil, ErrModelDisabled
	}
	if face.Empty() {
		return nil, fmt.Errorf("arcface: empty face region")
	}

	// (x - 127.5) / 127.5 on RGB input
	blob := gocv.BlobFromImage(face, f.ScaleFactor, image.Pt(f.InputSizeW, f.InputSizeH), f.MeanVal, true, false)
	defer blob.Close()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Net.SetInput(blob, "")
	output := f.Net.Forward("")
	defer output.Close()

	raw, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("arcface: read output: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("arcface: empty output")
	}

	embedding := make([]float32, len(raw))
	copy(embedding, raw)
	return normalizeEmbedding(embedding), nil
}

// Similarity is cosine similarity. Embeddings are unit length so the dot product suffices.
func (f *ArcFaceEmbedder) Similarity(a, b []float32) float32 {
	return CosineSimilarity(a, b)
}

func CosineSimilarity(embedding1, embedding2 []float32) float32 {
	if len(embedding1) != len(embedding2) || len(embedding1) == 0 {
		return 0.0
	}

	var dotProduct float32
	for i := range embedding1 {
		dotProduct += embedding1[i] * embedding2[i]
	}
	return dotProduct
}

// normalizeEmbedding normalizes the embedding vector to unit length
func normalizeEmbedding(embedding []float32) []float32 {
	var norm float32
	for _, val := range embedding {
		norm += val * val
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm == 0 {
		return embedding
	}

	for i := range embedding {
		embedding[i] /= norm
	}
	return embedding
}
