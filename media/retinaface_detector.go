package media

import (
	"fmt"
	"image"
	"log"
	"math"
	"sort"
	"sync"

	"gocv.io/x/gocv"
)

// RetinaFace prior box generation and box decoding utilities

// PriorBox defines an anchor box (center_x, center_y, width, height)
type PriorBox struct {
	Cx, Cy, W, H float32
}

var retinaFaceVariances = [2]float32{0.1, 0.2}

// GenerateRetinaFacePriors generates priors for a RetinaFace input of imgW x imgH
func GenerateRetinaFacePriors(imgW, imgH int) []PriorBox {
	minSizes := [][]int{{16, 32}, {64, 128}, {256, 512}}
	steps := []int{8, 16, 32}
	var priors []PriorBox
	for k, step := range steps {
		fmH := int(math.Ceil(float64(imgH) / float64(step)))
		fmW := int(math.Ceil(float64(imgW) / float64(step)))
		for i := 0; i < fmH; i++ {
			for j := 0; j < fmW; j++ {
				for _, minSize := range minSizes[k] {
					priors = append(priors, PriorBox{
						Cx: (float32(j) + 0.5) * float32(step) / float32(imgW),
						Cy: (float32(i) + 0.5) * float32(step) / float32(imgH),
						W:  float32(minSize) / float32(imgW),
						H:  float32(minSize) / float32(imgH),
					})
				}
			}
		}
	}
	return priors
}

// DecodeBox decodes a single box prediction using the prior and variances
func DecodeBox(rawBox [4]float32, prior PriorBox, variances [2]float32) [4]float32 {
	// rawBox: [dx, dy, dw, dh]
	cx := prior.Cx + rawBox[0]*variances[0]*prior.W
	cy := prior.Cy + rawBox[1]*variances[0]*prior.H
	w := prior.W * float32(math.Exp(float64(rawBox[2]*variances[1])))
	h := prior.H * float32(math.Exp(float64(rawBox[3]*variances[1])))
	return [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2}
}

// DecodeLandmarks decodes the five landmark offsets relative to the prior
func DecodeLandmarks(raw [10]float32, prior PriorBox, variances [2]float32) [5]Point2D {
	var pts [5]Point2D
	for j := 0; j < 5; j++ {
		pts[j] = Point2D{
			X: prior.Cx + raw[j*2]*variances[0]*prior.W,
			Y: prior.Cy + raw[j*2+1]*variances[0]*prior.H,
		}
	}
	return pts
}

// RetinaFaceDetector provides face detection with five-point landmarks
type RetinaFaceDetector struct {
	Net     gocv.Net
	mu      sync.Mutex // serializes Forward, streams share one network
	Enabled bool

	InputSizeW    int
	InputSizeH    int
	MeanVal       gocv.Scalar
	ConfThreshold float32
	IoUThreshold  float32

	priors []PriorBox
}

// NewRetinaFaceDetector loads the RetinaFace model. Input is fixed at 640x640.
func NewRetinaFaceDetector(modelPath string, confThreshold float32) (*RetinaFaceDetector, error) {
	net, err := loadNet("detection(retinaface)", modelPath)
	if err != nil {
		return &RetinaFaceDetector{Enabled: false}, err
	}

	return &RetinaFaceDetector{
		Net:           net,
		Enabled:       true,
		InputSizeW:    640,
		InputSizeH:    640,
		MeanVal:       gocv.NewScalar(104.0, 117.0, 123.0, 0),
		ConfThreshold: confThreshold,
		IoUThreshold:  0.4,
		priors:        GenerateRetinaFacePriors(640, 640),
	}, nil
}

func (r *RetinaFaceDetector) Close() {
	if r != nil && r.Enabled {
		r.Net.Close()
		log.Println("detection(retinaface): closed network")
		r.Enabled = false
	}
}

// Detect runs the network on a BGR frame and returns faces in frame pixel space,
// highest confidence first.
func (r *RetinaFaceDetector) Detect(img gocv.Mat) ([]FaceDetection, error) {
	if r == nil || !r.Enabled {
		return nil, ErrModelDisabled
	}
	if img.Empty() {
		return nil, nil
	}

	blob := gocv.BlobFromImage(img, 1.0, image.Pt(r.InputSizeW, r.InputSizeH), r.MeanVal, false, false)
	defer blob.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Net.SetInput(blob, "input")

	outputs := r.Net.ForwardLayers([]string{"bbox", "confidence", "landmark"})
	defer func() {
		for _, mat := range outputs {
			mat.Close()
		}
	}()
	if len(outputs) < 3 {
		return nil, fmt.Errorf("retinaface: expected 3 outputs (boxes, scores, landmarks), got %d", len(outputs))
	}

	boxes, err := outputs[0].DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("retinaface: read boxes: %w", err)
	}
	scores, err := outputs[1].DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("retinaface: read scores: %w", err)
	}
	landmarks, err := outputs[2].DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("retinaface: read landmarks: %w", err)
	}

	return r.parseOutput(boxes, scores, landmarks, float32(img.Cols()), float32(img.Rows()))
}

// parseOutput decodes flattened [N,4] boxes, [N,2] scores and [N,10] landmarks
func (r *RetinaFaceDetector) parseOutput(boxes, scores, landmarks []float32, imgWidth, imgHeight float32) ([]FaceDetection, error) {
	numDetections := len(r.priors)
	if len(boxes) != numDetections*4 || len(scores) != numDetections*2 || len(landmarks) != numDetections*10 {
		return nil, fmt.Errorf("retinaface: output size mismatch for %d priors (boxes=%d scores=%d landmarks=%d)",
			numDetections, len(boxes), len(scores), len(landmarks))
	}

	var detections []FaceDetection
	for i := 0; i < numDetections; i++ {
		scoreFace := scores[i*2+1]
		if scoreFace < r.ConfThreshold {
			continue
		}

		var rawBox [4]float32
		copy(rawBox[:], boxes[i*4:i*4+4])
		decoded := DecodeBox(rawBox, r.priors[i], retinaFaceVariances)
		x1 := maxFloat32(0, decoded[0]*imgWidth)
		y1 := maxFloat32(0, decoded[1]*imgHeight)
		x2 := minFloat32(imgWidth, decoded[2]*imgWidth)
		y2 := minFloat32(imgHeight, decoded[3]*imgHeight)
		if x2-x1 < 1 || y2-y1 < 1 {
			continue
		}

		var rawLm [10]float32
		copy(rawLm[:], landmarks[i*10:i*10+10])
		lm := DecodeLandmarks(rawLm, r.priors[i], retinaFaceVariances)
		pts := make([]Point2D, 0, len(lm))
		for _, p := range lm {
			pts = append(pts, Point2D{X: p.X * imgWidth, Y: p.Y * imgHeight})
		}

		detections = append(detections, FaceDetection{
			Box:        image.Rect(int(x1), int(y1), int(x2), int(y2)),
			Landmarks:  pts,
			Confidence: scoreFace,
		})
	}

	return nonMaxSuppression(detections, r.IoUThreshold), nil
}

// nonMaxSuppression removes overlapping detections, keeping the most confident
func nonMaxSuppression(detections []FaceDetection, iouThreshold float32) []FaceDetection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	var result []FaceDetection
	used := make([]bool, len(detections))
	for i := range detections {
		if used[i] {
			continue
		}
		result = append(result, detections[i])
		used[i] = true

		for j := i + 1; j < len(detections); j++ {
			if !used[j] && calculateIoU(detections[i].Box, detections[j].Box) > iouThreshold {
				used[j] = true
			}
		}
	}
	return result
}

// calculateIoU calculates the Intersection over Union between two boxes
func calculateIoU(a, b image.Rectangle) float32 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0.0
	}
	intersection := float32(inter.Dx() * inter.Dy())
	union := float32(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - intersection
	if union <= 0 {
		return 0.0
	}
	return intersection / union
}
