package stream

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/facette/natsort"

	"github.com/camden-git/facewatch/media"
)

var (
	ErrStreamExists   = errors.New("stream already running")
	ErrStreamNotFound = errors.New("stream not found")
	ErrNotRecording   = errors.New("stream is not recording")
)

// subscriberBuffer frames are queued per viewer; a slower viewer drops frames
// instead of stalling the loop.
const subscriberBuffer = 4

const transcodeTimeout = 10 * time.Minute

// StreamStatus is the externally visible state of one stream
type StreamStatus struct {
	ID          string `json:"id"`
	CameraName  string `json:"camera_name"`
	Source      string `json:"source"`
	State       string `json:"state"`
	Recording   bool   `json:"recording"`
	StartedAt   int64  `json:"started_at"`
	Subscribers int    `json:"subscribers"`
	Frames      uint64 `json:"frames"`
}

// ManagerConfig holds process-wide stream settings
type ManagerConfig struct {
	RecordFPS  float64
	Transcoder Transcoder
	// OnStateChange is called from the stream goroutine on start and exit
	OnStateChange func(StreamStatus)
}

type managed struct {
	loop      *Loop
	source    string
	startedAt time.Time
	done      chan struct{}

	mu      sync.Mutex
	subs    map[int]chan []byte
	nextSub int
	frames  uint64
}

// Manager runs one Loop per stream id, each on its own goroutine, and fans
// encoded frames out to any number of viewers.
type Manager struct {
	mu      sync.Mutex
	streams map[string]*managed

	deps Deps
	cfg  ManagerConfig

	transcodes sync.WaitGroup
}

// NewManager builds a manager. deps.OnRecordingClosed is replaced with the
// manager's transcode hook.
func NewManager(deps Deps, cfg ManagerConfig) *Manager {
	if deps.Open == nil {
		deps.Open = OpenCapture
	}
	m := &Manager{
		streams: make(map[string]*managed),
		cfg:     cfg,
	}
	deps.OnRecordingClosed = m.transcode
	m.deps = deps
	return m
}

// Start opens the source synchronously and then runs the stream in the
// background. Open failures are returned and leave no stream behind.
func (m *Manager) Start(id, source, cameraName string, record bool) error {
	m.mu.Lock()
	if _, exists := m.streams[id]; exists {
		m.mu.Unlock()
		return ErrStreamExists
	}
	loop := NewLoop(LoopConfig{
		ID:         id,
		Source:     source,
		CameraName: cameraName,
		Record:     record,
		RecordFPS:  m.cfg.RecordFPS,
	}, m.deps)
	ms := &managed{
		loop:      loop,
		source:    source,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		subs:      make(map[int]chan []byte),
	}
	// reserve the id while the source opens
	m.streams[id] = ms
	m.mu.Unlock()

	if err := loop.Open(); err != nil {
		m.mu.Lock()
		delete(m.streams, id)
		m.mu.Unlock()
		close(ms.done)
		return err
	}

	m.notify(ms)
	go m.run(id, ms)
	return nil
}

func (m *Manager) run(id string, ms *managed) {
	defer close(ms.done)
	defer ms.loop.Close()

	for {
		jpeg, ok := ms.loop.Next()
		if !ok {
			break
		}
		ms.publish(jpeg)
	}

	ms.closeSubscribers()
	m.mu.Lock()
	if m.streams[id] == ms {
		delete(m.streams, id)
	}
	m.mu.Unlock()

	ms.loop.Close()
	m.notify(ms)
	log.Printf("stream: %s finished after %d frames", id, ms.frameCount())
}

func (ms *managed) publish(jpeg []byte) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.frames++
	for _, ch := range ms.subs {
		select {
		case ch <- jpeg:
		default:
		}
	}
}

func (ms *managed) closeSubscribers() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for id, ch := range ms.subs {
		close(ch)
		delete(ms.subs, id)
	}
}

func (ms *managed) frameCount() uint64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.frames
}

func (ms *managed) status() StreamStatus {
	ms.mu.Lock()
	subs := len(ms.subs)
	frames := ms.frames
	ms.mu.Unlock()
	return StreamStatus{
		ID:          ms.loop.ID(),
		CameraName:  ms.loop.CameraName(),
		Source:      ms.source,
		State:       ms.loop.State().String(),
		Recording:   ms.loop.Recording(),
		StartedAt:   ms.startedAt.Unix(),
		Subscribers: subs,
		Frames:      frames,
	}
}

func (m *Manager) notify(ms *managed) {
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(ms.status())
	}
}

func (m *Manager) get(id string) (*managed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.streams[id]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return ms, nil
}

// Stop requests the stream to end; it exits at its next frame boundary
func (m *Manager) Stop(id string) error {
	ms, err := m.get(id)
	if err != nil {
		return err
	}
	ms.loop.Stop()
	log.Printf("stream: %s stop requested", id)
	return nil
}

func (m *Manager) StopRecording(id string) error {
	ms, err := m.get(id)
	if err != nil {
		return err
	}
	if !ms.loop.StopRecording() {
		return ErrNotRecording
	}
	return nil
}

// Frames subscribes to a stream's encoded frames. The channel closes when the
// stream ends; cancel unsubscribes early.
func (m *Manager) Frames(id string) (<-chan []byte, func(), error) {
	ms, err := m.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan []byte, subscriberBuffer)

	ms.mu.Lock()
	subID := ms.nextSub
	ms.nextSub++
	ms.subs[subID] = ch
	ms.mu.Unlock()

	cancel := func() {
		ms.mu.Lock()
		defer ms.mu.Unlock()
		if c, ok := ms.subs[subID]; ok {
			close(c)
			delete(ms.subs, subID)
		}
	}
	return ch, cancel, nil
}

// Status returns one stream's status
func (m *Manager) Status(id string) (StreamStatus, error) {
	ms, err := m.get(id)
	if err != nil {
		return StreamStatus{}, err
	}
	return ms.status(), nil
}

// List returns every running stream ordered naturally by id
func (m *Manager) List() []StreamStatus {
	m.mu.Lock()
	all := make([]*managed, 0, len(m.streams))
	for _, ms := range m.streams {
		all = append(all, ms)
	}
	m.mu.Unlock()

	out := make([]StreamStatus, 0, len(all))
	for _, ms := range all {
		out = append(out, ms.status())
	}
	sort.Slice(out, func(i, j int) bool { return natsort.Compare(out[i].ID, out[j].ID) })
	return out
}

// StopAll stops every stream and waits for them, and for pending transcodes,
// until ctx is done.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*managed, 0, len(m.streams))
	for _, ms := range m.streams {
		ms.loop.Stop()
		all = append(all, ms)
	}
	m.mu.Unlock()

	for _, ms := range all {
		select {
		case <-ms.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	waited := make(chan struct{})
	go func() {
		m.transcodes.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) transcode(path string) {
	if m.cfg.Transcoder == nil || path == "" {
		return
	}
	m.transcodes.Add(1)
	go func() {
		defer m.transcodes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), transcodeTimeout)
		defer cancel()

		dst := media.TranscodedPath(path)
		start := time.Now()
		if err := m.cfg.Transcoder.Transcode(ctx, path, dst); err != nil {
			log.Printf("stream: transcode of %s failed: %v", path, err)
			return
		}
		log.Printf("stream: transcoded %s to %s in %s", path, dst, time.Since(start).Round(time.Millisecond))
	}()
}
