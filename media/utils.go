package media

import (
	"log"
	"math"

	"gocv.io/x/gocv"
)

// loadNet reads an onnx model and prefers CUDA, falling back to the CPU target.
func loadNet(component, modelPath string) (gocv.Net, error) {
	if modelPath == "" {
		log.Printf("%s: model path is empty, disabling", component)
		return gocv.Net{}, ErrModelDisabled
	}

	log.Printf("%s: Attempting to load model: %s", component, modelPath)

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		log.Printf("%s: ERROR - ReadNet returned an empty network. Check file path and integrity.", component)
		return gocv.Net{}, ErrModelDisabled
	}

	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)

	if cudaBackendErr == nil && cudaTargetErr == nil {
		log.Printf("%s: Set backend/target to CUDA", component)
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		log.Printf("%s: CUDA not available, set backend/target to CPU (Default)", component)
	}

	log.Printf("%s: successfully loaded model", component)
	return net, nil
}

// softmax returns normalized probabilities for raw logits
func softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		maxVal = maxFloat32(maxVal, v)
	}
	out := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		out[i] = float32(math.Exp(float64(v - maxVal)))
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(values []float32) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// minFloat32 returns the minimum of two float32 values
func minFloat32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

// maxFloat32 returns the maximum of two float32 values
func maxFloat32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
