package recognition

import (
	"errors"
	"image"
	"math"
	"testing"

	"gocv.io/x/gocv"

	"github.com/camden-git/facewatch/media"
)

// callLog records scorer invocations in order
type callLog []string

type fakeDetector struct {
	calls *callLog
	dets  []media.FaceDetection
	err   error
}

func (f *fakeDetector) Detect(gocv.Mat) ([]media.FaceDetection, error) {
	*f.calls = append(*f.calls, "detect")
	return f.dets, f.err
}

type fakeEmbedder struct {
	calls      *callLog
	embeddings [][]float32 // returned in order, the last one repeats
	n          int
	panics     bool
}

func (f *fakeEmbedder) Embed(gocv.Mat) ([]float32, error) {
	*f.calls = append(*f.calls, "embed")
	if f.panics {
		panic("boom")
	}
	i := f.n
	if i >= len(f.embeddings) {
		i = len(f.embeddings) - 1
	}
	f.n++
	return f.embeddings[i], nil
}

func (f *fakeEmbedder) Similarity(a, b []float32) float32 {
	return media.CosineSimilarity(a, b)
}

type fakeSpoof struct {
	calls   *callLog
	results []media.SpoofResult
	err     error
	n       int
}

func (f *fakeSpoof) Classify(gocv.Mat, media.FaceDetection) (media.SpoofResult, error) {
	*f.calls = append(*f.calls, "spoof")
	if f.err != nil {
		return media.SpoofResult{Label: media.SpoofUnknown}, f.err
	}
	r := f.results[f.n%len(f.results)]
	f.n++
	return r, nil
}

type fakeGenderAge struct {
	gender string
	age    int
	err    error
	panics bool
}

func (f *fakeGenderAge) Score(gocv.Mat) (string, int, error) {
	if f.panics {
		panic("boom")
	}
	return f.gender, f.age, f.err
}

type fakeEmotion struct {
	emotion string
	panics  bool
}

func (f *fakeEmotion) Score(gocv.Mat) (string, error) {
	if f.panics {
		panic("boom")
	}
	return f.emotion, nil
}

func fakeAlign(gocv.Mat, media.FaceDetection) (gocv.Mat, error) {
	return gocv.NewMatWithSize(media.ArcFaceInputSize, media.ArcFaceInputSize, gocv.MatTypeCV8UC3), nil
}

func testFrame(t *testing.T) gocv.Mat {
	t.Helper()
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { frame.Close() })
	return frame
}

func face(x int) media.FaceDetection {
	return media.FaceDetection{Box: image.Rect(x, 100, x+80, 200), Confidence: 0.9}
}

func unit(v ...float32) []float32 {
	var n float32
	for _, x := range v {
		n += x * x
	}
	n = float32(math.Sqrt(float64(n)))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

func defaultOptions() Options {
	return Options{
		EnableSpoofCheck:     true,
		EnableAttributes:     true,
		EnableRecognition:    true,
		MaxFaces:             49,
		SimilarityThreshold:  0.45,
		UncertainFloor:       0.11,
		SpoofAcceptThreshold: 0.5,
	}
}

type harness struct {
	calls    callLog
	store    *EmbeddingStore
	detector *fakeDetector
	embedder *fakeEmbedder
	spoof    *fakeSpoof
	analyzer *Analyzer
}

func newHarness(dets []media.FaceDetection, embeddings [][]float32, opts Options) *harness {
	h := &harness{store: newTestStore(StoreOptions{UnknownCapacity: 10})}
	h.detector = &fakeDetector{calls: &h.calls, dets: dets}
	h.embedder = &fakeEmbedder{calls: &h.calls, embeddings: embeddings}
	h.spoof = &fakeSpoof{calls: &h.calls, results: []media.SpoofResult{{Label: media.SpoofReal, Score: 0.98}}}
	h.analyzer = NewAnalyzer(h.store, Scorers{
		Detector:  h.detector,
		Embedder:  h.embedder,
		Spoof:     h.spoof,
		GenderAge: &fakeGenderAge{gender: "Female", age: 34},
		Emotion:   &fakeEmotion{emotion: "Happy"},
		Align:     fakeAlign,
	}, opts)
	return h
}

func (h *harness) count(name string) int {
	n := 0
	for _, c := range h.calls {
		if c == name {
			n++
		}
	}
	return n
}

func TestAnalyzeZeroFacesTouchesNothing(t *testing.T) {
	h := newHarness(nil, [][]float32{unit(1, 0)}, defaultOptions())

	if got := h.analyzer.Analyze(testFrame(t), "lobby"); len(got) != 0 {
		t.Fatalf("got %d results, want 0", len(got))
	}
	if h.count("embed") != 0 || h.count("spoof") != 0 {
		t.Errorf("unexpected scorer calls %v", h.calls)
	}
	if h.store.Len() != 0 {
		t.Errorf("store modified: Len = %d", h.store.Len())
	}
}

func TestAnalyzeMalformedFrame(t *testing.T) {
	h := newHarness([]media.FaceDetection{face(10)}, [][]float32{unit(1, 0)}, defaultOptions())

	empty := gocv.NewMat()
	defer empty.Close()
	if got := h.analyzer.Analyze(empty, "lobby"); got != nil {
		t.Errorf("empty frame produced %v", got)
	}
	if len(h.calls) != 0 {
		t.Errorf("detector called on empty frame: %v", h.calls)
	}
}

func TestAnalyzeSpoofedFaceSkipsRecognition(t *testing.T) {
	tests := []struct {
		name  string
		spoof media.SpoofResult
	}{
		{"fake", media.SpoofResult{Label: media.SpoofFake, Score: 0.97}},
		{"low confidence real", media.SpoofResult{Label: media.SpoofReal, Score: 0.4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness([]media.FaceDetection{face(10)}, [][]float32{unit(1, 0)}, defaultOptions())
			h.spoof.results = []media.SpoofResult{tt.spoof}

			if got := h.analyzer.Analyze(testFrame(t), "lobby"); len(got) != 0 {
				t.Fatalf("got %d results, want 0", len(got))
			}
			if h.count("embed") != 0 {
				t.Errorf("embedding computed for spoofed face: %v", h.calls)
			}
			if want := (callLog{"detect", "spoof"}); len(h.calls) != 2 || h.calls[1] != want[1] {
				t.Errorf("calls = %v, want %v", h.calls, want)
			}
			if h.store.Len() != 0 {
				t.Error("spoofed face stored")
			}
		})
	}
}

func TestAnalyzeSpoofCheckRunsBeforeEmbedding(t *testing.T) {
	h := newHarness([]media.FaceDetection{face(10), face(300)}, [][]float32{unit(1, 0)}, defaultOptions())
	h.spoof.results = []media.SpoofResult{{Label: media.SpoofFake, Score: 0.9}, {Label: media.SpoofReal, Score: 0.9}}

	got := h.analyzer.Analyze(testFrame(t), "lobby")
	if len(got) != 1 || got[0].Box != face(300).Box {
		t.Fatalf("want only the second face, got %+v", got)
	}
	want := callLog{"detect", "spoof", "spoof", "embed"}
	if len(h.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", h.calls, want)
	}
	for i := range want {
		if h.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", h.calls, want)
		}
	}
}

func TestAnalyzeKnownIdentity(t *testing.T) {
	h := newHarness([]media.FaceDetection{face(10)}, [][]float32{unit(0.6, 0.8)}, defaultOptions())
	mustUpsert(t, h.store, "A", "Alice", unit(1, 0))

	got := h.analyzer.Analyze(testFrame(t), "lobby")
	if len(got) != 1 {
		t.Fatalf("got %d results", len(got))
	}
	r := got[0]
	if !r.Known || r.IdentityKey != "A" || r.Label != "Alice" || r.Provisional {
		t.Errorf("unexpected result %+v", r)
	}
	if math.Abs(float64(r.Similarity-0.6)) > 1e-5 {
		t.Errorf("similarity = %v, want 0.6", r.Similarity)
	}
	if r.SpoofLabel != media.SpoofReal || r.Gender != "Female" || r.Age != 34 || r.Emotion != "Happy" {
		t.Errorf("attributes not filled: %+v", r)
	}
}

func TestAnalyzeUnknownFaceContinuity(t *testing.T) {
	h := newHarness([]media.FaceDetection{face(10)}, [][]float32{unit(0, 1), unit(0.05, 1), unit(-0.05, 1)}, defaultOptions())
	frame := testFrame(t)

	var keys []string
	for i := 0; i < 3; i++ {
		got := h.analyzer.Analyze(frame, "lobby")
		if len(got) != 1 {
			t.Fatalf("frame %d: got %d results", i, len(got))
		}
		if got[0].Known {
			t.Errorf("frame %d: unknown face marked known", i)
		}
		keys = append(keys, got[0].IdentityKey)
	}
	if keys[0] != "Unknown-1" || keys[1] != keys[0] || keys[2] != keys[0] {
		t.Errorf("keys = %v, want the same synthetic identity", keys)
	}
	if h.store.Len() != 1 {
		t.Errorf("store Len = %d, want 1", h.store.Len())
	}
}

func TestAnalyzeUncertainBandIsProvisional(t *testing.T) {
	// cosine 0.3 lies between the floor (0.11) and the threshold (0.45)
	h := newHarness([]media.FaceDetection{face(10)}, [][]float32{unit(0.3, float32(math.Sqrt(1-0.09)))}, defaultOptions())
	mustUpsert(t, h.store, "A", "Alice", unit(1, 0))

	got := h.analyzer.Analyze(testFrame(t), "lobby")
	if len(got) != 1 {
		t.Fatalf("got %d results", len(got))
	}
	if !got[0].Provisional || got[0].Known || got[0].IdentityKey != ProvisionalKey {
		t.Errorf("unexpected result %+v", got[0])
	}
	if h.store.Len() != 1 {
		t.Errorf("uncertain face was enrolled, Len = %d", h.store.Len())
	}
}

func TestAnalyzeSpoofErrorNeverKnown(t *testing.T) {
	h := newHarness([]media.FaceDetection{face(10)}, [][]float32{unit(1, 0)}, defaultOptions())
	h.spoof.err = errors.New("model crashed")
	mustUpsert(t, h.store, "A", "Alice", unit(1, 0))

	got := h.analyzer.Analyze(testFrame(t), "lobby")
	if len(got) != 1 {
		t.Fatalf("got %d results", len(got))
	}
	if got[0].Known || got[0].SpoofLabel != media.SpoofUnknown || got[0].IdentityKey != "A" {
		t.Errorf("unexpected result %+v", got[0])
	}
}

func TestAnalyzeAttributeFailuresDegrade(t *testing.T) {
	h := newHarness([]media.FaceDetection{face(10), face(300)}, [][]float32{unit(1, 0)}, defaultOptions())
	h.analyzer.scorers.GenderAge = &fakeGenderAge{err: errors.New("bad input")}

	got := h.analyzer.Analyze(testFrame(t), "lobby")
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	for _, r := range got {
		if r.Gender != media.GenderUnknown || r.Age != media.AgeUnknown || r.Emotion != "Happy" {
			t.Errorf("unexpected attributes %+v", r)
		}
	}
}

func TestAnalyzeAttributePanicKeepsRecognition(t *testing.T) {
	h := newHarness([]media.FaceDetection{face(10)}, [][]float32{unit(1, 0)}, defaultOptions())
	mustUpsert(t, h.store, "A", "Alice", unit(1, 0))
	h.analyzer.scorers.GenderAge = &fakeGenderAge{panics: true}
	h.analyzer.scorers.Emotion = &fakeEmotion{panics: true}

	got := h.analyzer.Analyze(testFrame(t), "lobby")
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	r := got[0]
	if !r.Known || r.IdentityKey != "A" {
		t.Errorf("recognition lost: %+v", r)
	}
	if r.Gender != media.GenderUnknown || r.Age != media.AgeUnknown || r.Emotion != media.EmotionUnknown {
		t.Errorf("attributes = %q/%d/%q, want sentinels", r.Gender, r.Age, r.Emotion)
	}
}

func TestAnalyzeEmbedPanicOnlyDropsThatFace(t *testing.T) {
	h := newHarness([]media.FaceDetection{face(10)}, [][]float32{unit(1, 0)}, defaultOptions())
	h.embedder.panics = true

	if got := h.analyzer.Analyze(testFrame(t), "lobby"); len(got) != 0 {
		t.Errorf("panicking face should be dropped, got %+v", got)
	}
	// the loop survives and the next frame is processed normally
	h.embedder.panics = false
	if got := h.analyzer.Analyze(testFrame(t), "lobby"); len(got) != 1 {
		t.Errorf("got %d results after recovery, want 1", len(got))
	}
}

func TestAnalyzeCapsFacesPerFrame(t *testing.T) {
	opts := defaultOptions()
	opts.MaxFaces = 2
	h := newHarness([]media.FaceDetection{face(10), face(150), face(300)}, [][]float32{unit(1, 0)}, opts)
	mustUpsert(t, h.store, "A", "Alice", unit(1, 0))

	if got := h.analyzer.Analyze(testFrame(t), "lobby"); len(got) != 2 {
		t.Errorf("got %d results, want 2", len(got))
	}
}

func TestAnalyzeCapabilityFlags(t *testing.T) {
	opts := defaultOptions()
	opts.EnableSpoofCheck = false
	opts.EnableRecognition = false
	opts.EnableAttributes = false
	h := newHarness([]media.FaceDetection{face(10)}, [][]float32{unit(1, 0)}, opts)

	got := h.analyzer.Analyze(testFrame(t), "lobby")
	if len(got) != 1 {
		t.Fatalf("got %d results", len(got))
	}
	if h.count("spoof") != 0 || h.count("embed") != 0 {
		t.Errorf("disabled stages ran: %v", h.calls)
	}
	r := got[0]
	if !r.Provisional || r.Gender != media.GenderUnknown || r.Age != media.AgeUnknown {
		t.Errorf("unexpected result %+v", r)
	}
}
