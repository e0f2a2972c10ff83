package recognition

import (
	"fmt"
	"image"
	"log"

	"gocv.io/x/gocv"

	"github.com/camden-git/facewatch/media"
)

// ProvisionalKey marks a face that scored in the uncertain band: not known,
// not minted, not aggregated.
const ProvisionalKey = "Unknown"

// Options toggles pipeline stages and holds the decision thresholds.
type Options struct {
	EnableSpoofCheck  bool
	EnableAttributes  bool
	EnableRecognition bool

	MaxFaces             int
	SimilarityThreshold  float32
	UncertainFloor       float32 // threshold minus the uncertain margin
	SpoofAcceptThreshold float32
}

// Result is the per-face outcome for one frame.
type Result struct {
	Box         image.Rectangle
	Detection   media.FaceDetection
	IdentityKey string
	Label       string
	Similarity  float32
	Known       bool
	Provisional bool
	SpoofLabel  media.SpoofLabel
	SpoofScore  float32
	Gender      string
	Age         int
	Emotion     string
}

// Analyzer runs one frame through detect, spoof-check, recognize and
// attribute inference.
type Analyzer struct {
	store   *EmbeddingStore
	scorers Scorers
	opts    Options
}

func NewAnalyzer(store *EmbeddingStore, scorers Scorers, opts Options) *Analyzer {
	if scorers.Align == nil {
		scorers.Align = media.AlignFace
	}
	return &Analyzer{store: store, scorers: scorers, opts: opts}
}

func (a *Analyzer) Options() Options {
	return a.opts
}

// Analyze never fails: malformed frames and scorer errors degrade to fewer
// results or sentinel attribute values. Results keep detector order.
func (a *Analyzer) Analyze(frame gocv.Mat, cameraName string) []Result {
	if frame.Empty() || len(frame.Size()) < 2 || frame.Rows() == 0 || frame.Cols() == 0 {
		return nil
	}
	if a.scorers.Detector == nil {
		return nil
	}

	dets, err := a.scorers.Detector.Detect(frame)
	if err != nil {
		log.Printf("analyzer: %s: detection failed: %v", cameraName, err)
		return nil
	}
	if len(dets) == 0 {
		return nil
	}
	if a.opts.MaxFaces > 0 && len(dets) > a.opts.MaxFaces {
		dets = dets[:a.opts.MaxFaces]
	}

	results := make([]Result, 0, len(dets))
	for i, det := range dets {
		res, keep, err := a.analyzeFace(frame, det)
		if err != nil {
			log.Printf("analyzer: %s: face %d: %v", cameraName, i, err)
			continue
		}
		if keep {
			results = append(results, res)
		}
	}
	return results
}

// analyzeFace returns keep=false for faces rejected by the liveness check. A
// panic in the spoof, align or embed stage is reported as an error so the
// remaining faces still run. Attribute scorers recover on their own.
func (a *Analyzer) analyzeFace(frame gocv.Mat, det media.FaceDetection) (res Result, keep bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, keep, err = Result{}, false, fmt.Errorf("scorer panic: %v", r)
		}
	}()

	res = Result{
		Box:         det.Box,
		Detection:   det,
		IdentityKey: ProvisionalKey,
		Label:       ProvisionalKey,
		Provisional: true,
		SpoofLabel:  media.SpoofReal,
		Gender:      media.GenderUnknown,
		Age:         media.AgeUnknown,
		Emotion:     media.EmotionUnknown,
	}

	if a.opts.EnableSpoofCheck && a.scorers.Spoof != nil {
		spoof, err := a.scorers.Spoof.Classify(frame, det)
		switch {
		case err != nil:
			log.Printf("analyzer: spoof check failed, continuing unverified: %v", err)
			res.SpoofLabel = media.SpoofUnknown
		case spoof.Label != media.SpoofReal || spoof.Score < a.opts.SpoofAcceptThreshold:
			return Result{}, false, nil
		default:
			res.SpoofLabel, res.SpoofScore = spoof.Label, spoof.Score
		}
	}

	if a.opts.EnableRecognition && a.scorers.Embedder != nil && a.store != nil {
		a.recognize(frame, det, &res)
	}

	if a.opts.EnableAttributes {
		a.inferAttributes(frame, det, &res)
	}

	return res, true, nil
}

func (a *Analyzer) recognize(frame gocv.Mat, det media.FaceDetection, res *Result) {
	aligned, err := a.scorers.Align(frame, det)
	if err != nil {
		aligned.Close()
		log.Printf("analyzer: alignment failed: %v", err)
		return
	}
	embedding, err := a.scorers.Embedder.Embed(aligned)
	aligned.Close()
	if err != nil {
		log.Printf("analyzer: embedding failed: %v", err)
		return
	}

	nearest, _, found := a.store.FindNearest(embedding)
	if found {
		res.Similarity = a.store.Similarity(embedding, nearest.Embedding)
	}

	switch {
	case found && res.Similarity >= a.opts.SimilarityThreshold:
		res.IdentityKey, res.Label, res.Provisional = nearest.Key, nearest.Label, false
		if nearest.Synthetic {
			a.store.Touch(nearest.Key)
		} else {
			res.Known = res.SpoofLabel == media.SpoofReal
		}
	case found && res.Similarity >= a.opts.UncertainFloor:
		// uncertain band: provisional, nothing stored
	default:
		minted, err := a.store.MintUnknown(embedding)
		if err != nil {
			log.Printf("analyzer: failed to store unknown face: %v", err)
			return
		}
		res.IdentityKey, res.Label, res.Provisional = minted.Key, minted.Label, false
	}
}

func (a *Analyzer) inferAttributes(frame gocv.Mat, det media.FaceDetection, res *Result) {
	if a.scorers.GenderAge == nil && a.scorers.Emotion == nil {
		return
	}
	face, err := media.CropFace(frame, det.Box, 1.0)
	defer face.Close()
	if err != nil {
		log.Printf("analyzer: attribute crop failed: %v", err)
		return
	}

	if a.scorers.GenderAge != nil {
		gender, age, err := a.scoreGenderAge(face)
		if err != nil {
			log.Printf("analyzer: gender/age failed: %v", err)
		} else {
			res.Gender, res.Age = gender, age
		}
	}
	if a.scorers.Emotion != nil {
		emotion, err := a.scoreEmotion(face)
		if err != nil {
			log.Printf("analyzer: emotion failed: %v", err)
		} else {
			res.Emotion = emotion
		}
	}
}

// scoreGenderAge turns a scorer panic into an error so the face keeps its
// identity with sentinel attributes.
func (a *Analyzer) scoreGenderAge(face gocv.Mat) (gender string, age int, err error) {
	defer func() {
		if r := recover(); r != nil {
			gender, age, err = media.GenderUnknown, media.AgeUnknown, fmt.Errorf("scorer panic: %v", r)
		}
	}()
	return a.scorers.GenderAge.Score(face)
}

func (a *Analyzer) scoreEmotion(face gocv.Mat) (emotion string, err error) {
	defer func() {
		if r := recover(); r != nil {
			emotion, err = media.EmotionUnknown, fmt.Errorf("scorer panic: %v", r)
		}
	}()
	return a.scorers.Emotion.Score(face)
}
