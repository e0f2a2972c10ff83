package stream

import (
	"fmt"
	"image"
	"log"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/camden-git/facewatch/events"
	"github.com/camden-git/facewatch/media"
	"github.com/camden-git/facewatch/recognition"
)

// State is the lifecycle position of a Loop
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateRunning
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// maxEmptyReads bounds how many consecutive empty frames a source may return
// before the loop gives up on it.
const maxEmptyReads = 100

type FrameAnalyzer interface {
	Analyze(frame gocv.Mat, cameraName string) []recognition.Result
}

type SampleRecorder interface {
	Record(s events.Sample)
}

var (
	_ FrameAnalyzer  = (*recognition.Analyzer)(nil)
	_ SampleRecorder = (*events.Debouncer)(nil)
)

// LoopConfig describes one stream
type LoopConfig struct {
	ID         string
	Source     string
	CameraName string
	Record     bool
	RecordFPS  float64
}

// Deps are the collaborators a Loop runs against. Open and Analyzer are
// required; the rest may be nil.
type Deps struct {
	Open          CaptureOpener
	Analyzer      FrameAnalyzer
	Events        SampleRecorder
	NewRecorder   RecorderFactory
	RecordingPath func(streamID string) (string, error)
	// OnRecordingClosed runs after a recording file is finalized
	OnRecordingClosed func(path string)
}

// Loop is a pull iterator over one video source: every Next call reads,
// analyzes, annotates and encodes exactly one frame. Next and Close belong to
// the goroutine driving the loop; Stop and StopRecording may be called from
// anywhere.
type Loop struct {
	cfg  LoopConfig
	deps Deps

	state         atomic.Int32
	stop          atomic.Bool
	stopRecording atomic.Bool
	recording     atomic.Bool

	capture       Capture
	frame         gocv.Mat
	recorder      Recorder
	recordingPath string
	recordFailed  bool

	closeOnce sync.Once
}

func NewLoop(cfg LoopConfig, deps Deps) *Loop {
	if cfg.CameraName == "" {
		cfg.CameraName = cfg.ID
	}
	if cfg.RecordFPS <= 0 {
		cfg.RecordFPS = 20
	}
	if deps.NewRecorder == nil {
		deps.NewRecorder = OpenVideoWriter
	}
	l := &Loop{cfg: cfg, deps: deps}
	l.recording.Store(cfg.Record)
	return l
}

func (l *Loop) ID() string         { return l.cfg.ID }
func (l *Loop) CameraName() string { return l.cfg.CameraName }
func (l *Loop) State() State       { return State(l.state.Load()) }
func (l *Loop) Recording() bool    { return l.recording.Load() }

// Open moves Idle to Running. A source that cannot be opened closes the loop
// and returns an error wrapping ErrSourceUnavailable.
func (l *Loop) Open() error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateOpening)) {
		return fmt.Errorf("stream %s: open in state %s", l.cfg.ID, l.State())
	}
	capture, err := l.deps.Open(l.cfg.Source)
	if err != nil {
		log.Printf("stream: %s failed to open %s: %v", l.cfg.ID, l.cfg.Source, err)
		l.recording.Store(false)
		l.state.Store(int32(StateClosed))
		return err
	}
	l.capture = capture
	l.frame = gocv.NewMat()
	l.state.Store(int32(StateRunning))
	log.Printf("stream: %s opened %s (camera %s, record %v)", l.cfg.ID, l.cfg.Source, l.cfg.CameraName, l.cfg.Record)
	return nil
}

// Stop asks the loop to end at the next iteration boundary
func (l *Loop) Stop() {
	if l.stop.CompareAndSwap(false, true) {
		l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	}
}

// StopRecording finalizes the recording at the next iteration boundary while
// the stream keeps running. Returns false when nothing is being recorded.
func (l *Loop) StopRecording() bool {
	if !l.recording.Load() {
		return false
	}
	l.stopRecording.Store(true)
	return true
}

// Next produces the next annotated JPEG frame. It returns false once the loop
// has been stopped or the source has failed; the loop is closed by then.
func (l *Loop) Next() ([]byte, bool) {
	if l.State() != StateRunning && l.State() != StateStopping {
		return nil, false
	}

	emptyReads := 0
	for {
		if l.stop.Load() {
			log.Printf("stream: %s stop requested", l.cfg.ID)
			l.Close()
			return nil, false
		}
		if l.stopRecording.Swap(false) {
			l.finishRecording()
		}

		if !l.capture.Read(&l.frame) {
			log.Printf("stream: %s source %s ended or failed to read", l.cfg.ID, l.cfg.Source)
			l.Close()
			return nil, false
		}
		if l.frame.Empty() {
			emptyReads++
			if emptyReads >= maxEmptyReads {
				log.Printf("stream: %s got %d empty frames in a row, giving up", l.cfg.ID, emptyReads)
				l.Close()
				return nil, false
			}
			continue
		}
		emptyReads = 0

		jpeg, err := l.process()
		if err != nil {
			log.Printf("stream: %s dropping frame: %v", l.cfg.ID, err)
			continue
		}
		return jpeg, true
	}
}

func (l *Loop) process() ([]byte, error) {
	results := l.deps.Analyzer.Analyze(l.frame, l.cfg.CameraName)

	// samples are recorded before the overlay so saved faces are unannotated
	if l.deps.Events != nil {
		for _, res := range results {
			if res.Provisional {
				continue
			}
			l.deps.Events.Record(l.sample(res))
		}
	}

	DrawResults(&l.frame, results)

	if l.recording.Load() {
		l.writeRecording()
	}
	return media.EncodeJPEG(l.frame)
}

func (l *Loop) sample(res recognition.Result) events.Sample {
	frame := l.frame
	box := res.Box
	return events.Sample{
		IdentityKey: res.IdentityKey,
		Label:       res.Label,
		Similarity:  res.Similarity,
		Emotion:     res.Emotion,
		Gender:      res.Gender,
		Age:         res.Age,
		CameraName:  l.cfg.CameraName,
		Known:       res.Known,
		Image: func() (image.Image, error) {
			return media.CropImage(frame, box)
		},
	}
}

func (l *Loop) writeRecording() {
	if l.recorder == nil {
		if l.recordFailed {
			return
		}
		if err := l.openRecorder(); err != nil {
			log.Printf("stream: %s recording disabled: %v", l.cfg.ID, err)
			l.recordFailed = true
			l.recording.Store(false)
			return
		}
	}
	if err := l.recorder.Write(l.frame); err != nil {
		log.Printf("stream: %s failed to write recording frame: %v", l.cfg.ID, err)
	}
}

func (l *Loop) openRecorder() error {
	if l.deps.RecordingPath == nil {
		return fmt.Errorf("no recording path configured")
	}
	path, err := l.deps.RecordingPath(l.cfg.ID)
	if err != nil {
		return err
	}
	rec, err := l.deps.NewRecorder(path, l.cfg.RecordFPS, l.frame.Cols(), l.frame.Rows())
	if err != nil {
		return err
	}
	l.recorder = rec
	l.recordingPath = path
	log.Printf("stream: %s recording to %s (%dx%d @ %.0f fps)", l.cfg.ID, path, l.frame.Cols(), l.frame.Rows(), l.cfg.RecordFPS)
	return nil
}

func (l *Loop) finishRecording() {
	l.recording.Store(false)
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Close(); err != nil {
		log.Printf("stream: %s failed to close recording %s: %v", l.cfg.ID, l.recordingPath, err)
	}
	path := l.recordingPath
	l.recorder = nil
	l.recordingPath = ""
	log.Printf("stream: %s recording closed: %s", l.cfg.ID, path)
	if l.deps.OnRecordingClosed != nil {
		l.deps.OnRecordingClosed(path)
	}
}

// Close releases the capture, the recorder and the frame buffer. Safe to call
// more than once.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		if l.State() == StateIdle {
			l.state.Store(int32(StateClosed))
			return
		}
		l.state.Store(int32(StateStopping))
		if l.capture != nil {
			if err := l.capture.Close(); err != nil {
				log.Printf("stream: %s failed to close source: %v", l.cfg.ID, err)
			}
		}
		l.finishRecording()
		if l.capture != nil {
			l.frame.Close()
		}
		l.state.Store(int32(StateClosed))
		log.Printf("stream: %s closed", l.cfg.ID)
	})
}
