package events

import (
	"context"
	"image"
	"log"
	"sync"
	"time"

	"github.com/camden-git/facewatch/models"
)

const persistTimeout = 10 * time.Second

// Sample is one recognition of an identity in one frame.
type Sample struct {
	IdentityKey string
	Label       string
	Similarity  float32
	Emotion     string
	Gender      string
	Age         int
	CameraName  string
	Known       bool
	// Image is only called when the sample opens a new window
	Image func() (image.Image, error)
}

// AggregatedEvent accumulates samples for one identity over one window.
type AggregatedEvent struct {
	IdentityKey  string
	Label        string
	CameraName   string
	Known        bool
	WindowStart  time.Time
	ImagePath    string
	Similarities []float32
	Emotions     []string
	Genders      []string
	Ages         []int
}

// LogSink is the persistence gateway for flushed windows
type LogSink interface {
	Insert(ctx context.Context, rec *models.RecognitionLog) error
}

// ImageSaver stores a window's representative face image and returns its path
type ImageSaver interface {
	SaveFace(img image.Image, known bool, label string) (string, error)
}

// FlushHook observes every persisted record (publishers, realtime hub)
type FlushHook func(ctx context.Context, rec models.RecognitionLog)

type Config struct {
	Window         time.Duration
	FlushInterval  time.Duration
	PersistUnknown bool
}

// Debouncer keeps at most one open window per identity key and turns each
// expired window into one log record. A single mutex guards the window map;
// sink and hook calls happen outside it.
type Debouncer struct {
	mu     sync.Mutex
	open   map[string]*AggregatedEvent
	sink   LogSink
	images ImageSaver
	hooks  []FlushHook
	cfg    Config
	now    func() time.Time
}

func NewDebouncer(sink LogSink, images ImageSaver, cfg Config) *Debouncer {
	return &Debouncer{
		open:   make(map[string]*AggregatedEvent),
		sink:   sink,
		images: images,
		cfg:    cfg,
		now:    time.Now,
	}
}

// AddHook registers a hook. Call before Run.
func (d *Debouncer) AddHook(h FlushHook) {
	d.mu.Lock()
	d.hooks = append(d.hooks, h)
	d.mu.Unlock()
}

// Record adds a sample to its identity's window, opening one when needed.
func (d *Debouncer) Record(s Sample) {
	d.mu.Lock()
	now := d.now()

	var expired *AggregatedEvent
	ev, ok := d.open[s.IdentityKey]
	if ok && now.Sub(ev.WindowStart) >= d.cfg.Window {
		// the ticker has not reached it yet
		expired = ev
		delete(d.open, s.IdentityKey)
		ok = false
	}

	opened := !ok
	if opened {
		ev = &AggregatedEvent{
			IdentityKey: s.IdentityKey,
			Label:       s.Label,
			CameraName:  s.CameraName,
			Known:       s.Known,
			WindowStart: now,
		}
		d.open[s.IdentityKey] = ev
	} else {
		ev.Label = s.Label
		ev.Known = ev.Known || s.Known
	}

	ev.Similarities = append(ev.Similarities, s.Similarity)
	ev.Emotions = append(ev.Emotions, s.Emotion)
	ev.Genders = append(ev.Genders, s.Gender)
	ev.Ages = append(ev.Ages, s.Age)
	d.mu.Unlock()

	if expired != nil {
		d.persist(expired)
	}
	if opened {
		d.attachImage(ev, s)
	}
}

// attachImage saves the window's face image without holding mu, so slow disks
// do not stall other streams. A window flushed in the meantime keeps no image.
func (d *Debouncer) attachImage(ev *AggregatedEvent, s Sample) {
	path := d.saveImage(s)
	if path == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open[s.IdentityKey] != ev {
		log.Printf("debouncer: window for %s closed before its image was saved", s.IdentityKey)
		return
	}
	ev.ImagePath = path
}

func (d *Debouncer) saveImage(s Sample) string {
	if d.images == nil || s.Image == nil {
		return ""
	}
	img, err := s.Image()
	if err != nil {
		log.Printf("debouncer: failed to capture face image for %s: %v", s.IdentityKey, err)
		return ""
	}
	path, err := d.images.SaveFace(img, s.Known, s.Label)
	if err != nil {
		log.Printf("debouncer: failed to save face image for %s: %v", s.IdentityKey, err)
		return ""
	}
	return path
}

// Flush closes every window whose age at now is at least the window duration.
// Returns the number of windows closed.
func (d *Debouncer) Flush(now time.Time) int {
	d.mu.Lock()
	var expired []*AggregatedEvent
	for key, ev := range d.open {
		if now.Sub(ev.WindowStart) >= d.cfg.Window {
			expired = append(expired, ev)
			delete(d.open, key)
		}
	}
	d.mu.Unlock()

	for _, ev := range expired {
		d.persist(ev)
	}
	return len(expired)
}

// FlushAll closes every open window regardless of age.
func (d *Debouncer) FlushAll() int {
	d.mu.Lock()
	expired := make([]*AggregatedEvent, 0, len(d.open))
	for key, ev := range d.open {
		expired = append(expired, ev)
		delete(d.open, key)
	}
	d.mu.Unlock()

	for _, ev := range expired {
		d.persist(ev)
	}
	return len(expired)
}

// Run flushes expired windows every FlushInterval until ctx is done, then
// flushes whatever is still open.
func (d *Debouncer) Run(ctx context.Context) {
	interval := d.cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("debouncer: started (window %s, flush every %s)", d.cfg.Window, interval)
	for {
		select {
		case <-ctx.Done():
			if n := d.FlushAll(); n > 0 {
				log.Printf("debouncer: flushed %d open windows on shutdown", n)
			}
			log.Println("debouncer: stopped")
			return
		case <-ticker.C:
			d.Flush(d.now())
		}
	}
}

// OpenCount is the number of identities with an open window
func (d *Debouncer) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.open)
}

// persist writes one closed window. Failures are logged; the window is already
// gone from memory either way.
func (d *Debouncer) persist(ev *AggregatedEvent) {
	if !ev.Known && !d.cfg.PersistUnknown {
		return
	}

	rec := ev.ToRecord()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if d.sink != nil {
		if err := d.sink.Insert(ctx, &rec); err != nil {
			log.Printf("debouncer: failed to persist window for %s (%s): %v", ev.IdentityKey, ev.Label, err)
			return
		}
	}
	log.Printf("debouncer: persisted %s (%s) on %s, %d samples, similarity %.2f",
		rec.Label, rec.IdentityKey, rec.CameraName, rec.SampleCount, rec.Similarity)

	d.mu.Lock()
	hooks := append([]FlushHook(nil), d.hooks...)
	d.mu.Unlock()
	for _, h := range hooks {
		h(ctx, rec)
	}
}
