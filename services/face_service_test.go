package services

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/facewatch/events"
	"github.com/camden-git/facewatch/media"
	"github.com/camden-git/facewatch/models"
	"github.com/camden-git/facewatch/recognition"
	"github.com/camden-git/facewatch/stream"
)

type fakeStreams struct {
	mu        sync.Mutex
	started   map[string]bool
	stopAll   int
	onStopAll func()
}

func newFakeStreams() *fakeStreams { return &fakeStreams{started: make(map[string]bool)} }

func (f *fakeStreams) Start(id, source, cameraName string, record bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started[id] {
		return stream.ErrStreamExists
	}
	f.started[id] = true
	return nil
}

func (f *fakeStreams) Stop(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started[id] {
		return stream.ErrStreamNotFound
	}
	delete(f.started, id)
	return nil
}

func (f *fakeStreams) StopRecording(id string) error { return stream.ErrNotRecording }

func (f *fakeStreams) Frames(id string) (<-chan []byte, func(), error) {
	return nil, nil, stream.ErrStreamNotFound
}

func (f *fakeStreams) Status(id string) (stream.StreamStatus, error) {
	return stream.StreamStatus{ID: id}, nil
}

func (f *fakeStreams) List() []stream.StreamStatus { return nil }

func (f *fakeStreams) StopAll(ctx context.Context) error {
	f.mu.Lock()
	f.stopAll++
	f.mu.Unlock()
	if f.onStopAll != nil {
		f.onStopAll()
	}
	return nil
}

type labelRepo struct {
	labels map[string]string
	rows   map[string]models.EnrolledIdentity
}

func (r *labelRepo) Upsert(identity *models.EnrolledIdentity) error {
	if r.rows == nil {
		r.rows = map[string]models.EnrolledIdentity{}
	}
	r.rows[identity.IdentityKey] = *identity
	r.labels[identity.IdentityKey] = identity.Label
	return nil
}
func (r *labelRepo) GetByKey(key string) (*models.EnrolledIdentity, error) {
	return nil, gorm.ErrRecordNotFound
}
func (r *labelRepo) ListAll() ([]models.EnrolledIdentity, error) { return nil, nil }
func (r *labelRepo) UpdateLabel(key, label string) error {
	if _, ok := r.labels[key]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.labels[key] = label
	return nil
}

type memoryLogs struct {
	mu      sync.Mutex
	records []models.RecognitionLog
	lastQ   models.LogQuery
}

func (m *memoryLogs) Insert(_ context.Context, rec *models.RecognitionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memoryLogs) Query(_ context.Context, q models.LogQuery) ([]models.RecognitionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQ = q
	return m.records, nil
}

type queue struct {
	jobs    []string
	stopped bool
}

func (q *queue) QueueJob(id string) bool {
	q.jobs = append(q.jobs, id)
	return true
}

func (q *queue) Stop() { q.stopped = true }

func newTestService() (*FaceService, *fakeStreams, *labelRepo, *memoryLogs) {
	store := recognition.NewEmbeddingStore(media.CosineSimilarity, recognition.StoreOptions{})
	streams := newFakeStreams()
	repo := &labelRepo{labels: map[string]string{"7": "Ada"}}
	logs := &memoryLogs{}
	svc := &FaceService{
		Store:      store,
		Debouncer:  events.NewDebouncer(logs, nil, events.Config{Window: time.Hour, FlushInterval: time.Hour}),
		Streams:    streams,
		Identities: repo,
		Logs:       logs,

		EmbeddingModel: "arcface-test",
	}
	return svc, streams, repo, logs
}

func TestRenameIdentity(t *testing.T) {
	svc, _, repo, _ := newTestService()
	if err := svc.Store.Upsert("7", "Ada", []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	unknown, err := svc.Store.MintUnknown([]float32{0, 1})
	if err != nil {
		t.Fatal(err)
	}

	key, err := svc.RenameIdentity("Ada", "Ada Lovelace")
	if err != nil || key != "7" {
		t.Fatalf("RenameIdentity = %q, %v", key, err)
	}
	if repo.labels["7"] != "Ada Lovelace" {
		t.Errorf("cached label = %q", repo.labels["7"])
	}

	if len(repo.rows) != 0 {
		t.Errorf("cached identity re-inserted: %v", repo.rows)
	}

	// a renamed unknown face has no cache row yet and gets one
	if _, err := svc.RenameIdentity(unknown.Key, "Visitor"); err != nil {
		t.Errorf("rename of unknown: %v", err)
	}
	row, ok := repo.rows[unknown.Key]
	if !ok {
		t.Fatalf("promoted identity %s not cached", unknown.Key)
	}
	if row.Label != "Visitor" || row.EmbeddingModel != "arcface-test" {
		t.Errorf("cached row = %+v", row)
	}
	if got := row.GetEmbedding(); len(got) != 2 || got[1] != 1 {
		t.Errorf("cached embedding = %v", got)
	}
	if _, err := svc.RenameIdentity("nobody", "x"); !errors.Is(err, recognition.ErrIdentityNotFound) {
		t.Errorf("rename of missing identity = %v", err)
	}
	if _, err := svc.RenameIdentity("7", ""); err == nil {
		t.Error("empty label accepted")
	}
}

func TestListIdentities(t *testing.T) {
	svc, _, _, _ := newTestService()
	svc.Store.Upsert("2", "Bob", []float32{1, 0})
	svc.Store.Upsert("1", "Alice", []float32{0, 1})
	svc.Store.MintUnknown([]float32{1, 1})

	got := svc.ListIdentities()
	if len(got) != 3 || got[0].Label != "Alice" || got[1].Label != "Bob" || !got[2].Synthetic {
		t.Errorf("ListIdentities = %+v", got)
	}
}

func TestStreamControl(t *testing.T) {
	svc, _, _, _ := newTestService()
	if err := svc.StartStream("cam1", "0", "Lobby", false); err != nil {
		t.Fatal(err)
	}
	if err := svc.StartStream("cam1", "0", "Lobby", false); !errors.Is(err, stream.ErrStreamExists) {
		t.Errorf("duplicate start = %v", err)
	}
	if err := svc.StopRecording("cam1"); !errors.Is(err, stream.ErrNotRecording) {
		t.Errorf("StopRecording = %v", err)
	}
	if err := svc.StopStream("cam1"); err != nil {
		t.Errorf("StopStream = %v", err)
	}
}

func TestReenroll(t *testing.T) {
	svc, _, _, _ := newTestService()
	if _, err := svc.Reenroll("7"); !errors.Is(err, ErrEnrollmentUnavailable) {
		t.Errorf("Reenroll without directory = %v", err)
	}
	q := &queue{}
	svc.Enroller = q
	svc.Reenroll("7")
	svc.ReenrollAll()
	if len(q.jobs) != 2 || q.jobs[0] != "7" || q.jobs[1] != "*" {
		t.Errorf("jobs = %v", q.jobs)
	}
}

func TestQueryLogsDefaultsLimit(t *testing.T) {
	svc, _, _, logs := newTestService()
	if _, err := svc.QueryLogs(context.Background(), models.LogQuery{Label: "Ada"}); err != nil {
		t.Fatal(err)
	}
	if logs.lastQ.Limit != models.DefaultLogQueryLimit || logs.lastQ.Label != "Ada" {
		t.Errorf("query = %+v", logs.lastQ)
	}
}

func TestCloseStopsStreamsBeforeFlushing(t *testing.T) {
	svc, streams, _, logs := newTestService()
	q := &queue{}
	svc.Enroller = q

	closed := 0
	svc.AddCloser(func() error { closed++; return nil })
	svc.Start(context.Background())

	// a stream's last sample arrives while it is being stopped
	streams.onStopAll = func() {
		svc.Debouncer.Record(events.Sample{
			IdentityKey: "7", Label: "Ada", Similarity: 0.7, Known: true, CameraName: "lobby",
			Image: func() (image.Image, error) { return nil, errors.New("unused") },
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if streams.stopAll != 1 || !q.stopped || closed != 1 {
		t.Errorf("stopAll=%d enrollerStopped=%v closers=%d", streams.stopAll, q.stopped, closed)
	}
	logs.mu.Lock()
	defer logs.mu.Unlock()
	if len(logs.records) != 1 {
		t.Errorf("got %d records flushed on close, want 1", len(logs.records))
	}
}
