package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/facewatch/events"
	"github.com/camden-git/facewatch/models"
	"github.com/camden-git/facewatch/recognition"
	"github.com/camden-git/facewatch/repository"
	"github.com/camden-git/facewatch/stream"
	"github.com/camden-git/facewatch/workers"
)

var ErrEnrollmentUnavailable = errors.New("enrollment is not configured")

const minPruneInterval = time.Minute

// StreamController is the slice of stream.Manager the service drives
type StreamController interface {
	Start(id, source, cameraName string, record bool) error
	Stop(id string) error
	StopRecording(id string) error
	Frames(id string) (<-chan []byte, func(), error)
	Status(id string) (stream.StreamStatus, error)
	List() []stream.StreamStatus
	StopAll(ctx context.Context) error
}

// EnrollmentQueue accepts asynchronous re-enrollment requests
type EnrollmentQueue interface {
	QueueJob(personID string) bool
	Stop()
}

var (
	_ StreamController = (*stream.Manager)(nil)
	_ EnrollmentQueue  = (*workers.EnrollmentProcessor)(nil)
)

// IdentityView is an embedding store entry without its vector
type IdentityView struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Synthetic bool   `json:"synthetic"`
	LastSeen  int64  `json:"last_seen,omitempty"`
}

// FaceService is the process-wide context object: it owns the embedding
// store, the event debouncer, the stream manager and enrollment, and exposes
// the control operations the HTTP and CLI layers call.
type FaceService struct {
	Store      *recognition.EmbeddingStore
	Debouncer  *events.Debouncer
	Streams    StreamController
	Enroller   EnrollmentQueue // nil when no directory is configured
	Identities repository.IdentityRepositoryInterface
	Logs       repository.LogRepositoryInterface
	// EmbeddingModel tags cache rows written for renamed unknown faces
	EmbeddingModel string

	// PruneInterval is how often synthetic identities past their TTL are dropped
	PruneInterval time.Duration

	background []func(ctx context.Context)
	closers    []func() error

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// AddBackground registers a goroutine started by Start and stopped by Close
func (s *FaceService) AddBackground(run func(ctx context.Context)) {
	s.background = append(s.background, run)
}

// AddCloser registers a cleanup run by Close after everything else stopped
func (s *FaceService) AddCloser(c func() error) {
	s.closers = append(s.closers, c)
}

// Start launches the debouncer ticker, the unknown-identity janitor and any
// registered background tasks.
func (s *FaceService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.Debouncer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Debouncer.Run(ctx)
		}()
	}
	if s.Store != nil && s.PruneInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pruneLoop(ctx)
		}()
	}
	for _, run := range s.background {
		s.wg.Add(1)
		go func(run func(context.Context)) {
			defer s.wg.Done()
			run(ctx)
		}(run)
	}
}

func (s *FaceService) pruneLoop(ctx context.Context) {
	interval := s.PruneInterval
	if interval < minPruneInterval {
		interval = minPruneInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Store.PruneUnknown(); n > 0 {
				log.Printf("service: pruned %d expired unknown identities", n)
			}
		}
	}
}

// Close stops streams first so their last samples reach the debouncer, then
// stops the background tasks (the debouncer flushes open windows on exit) and
// finally releases resources.
func (s *FaceService) Close(ctx context.Context) error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.Streams != nil {
			if err := s.Streams.StopAll(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop streams: %w", err))
			}
		}
		if s.Enroller != nil {
			s.Enroller.Stop()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		log.Println("service: closed")
	})
	return errors.Join(errs...)
}

func (s *FaceService) StartStream(id, source, cameraName string, record bool) error {
	if err := s.Streams.Start(id, source, cameraName, record); err != nil {
		return fmt.Errorf("start stream %s: %w", id, err)
	}
	return nil
}

func (s *FaceService) StopStream(id string) error {
	return s.Streams.Stop(id)
}

func (s *FaceService) StopRecording(id string) error {
	return s.Streams.StopRecording(id)
}

func (s *FaceService) ListStreams() []stream.StreamStatus {
	return s.Streams.List()
}

func (s *FaceService) StreamStatus(id string) (stream.StreamStatus, error) {
	return s.Streams.Status(id)
}

func (s *FaceService) StreamFrames(id string) (<-chan []byte, func(), error) {
	return s.Streams.Frames(id)
}

// RenameIdentity relabels an identity by key or current label and returns its
// key. The cached label is updated; an identity without a cache row, such as
// a promoted unknown face, gets one so the rename survives a restart.
func (s *FaceService) RenameIdentity(keyOrLabel, newLabel string) (string, error) {
	if newLabel == "" {
		return "", fmt.Errorf("rename: empty label")
	}
	key, err := s.Store.Rename(keyOrLabel, newLabel)
	if err != nil {
		return "", err
	}
	if s.Identities != nil {
		if err := s.persistRename(key, newLabel); err != nil {
			log.Printf("service: renamed %s in memory but failed to update cache: %v", key, err)
		}
	}
	log.Printf("service: renamed %s to %q", key, newLabel)
	return key, nil
}

func (s *FaceService) persistRename(key, label string) error {
	err := s.Identities.UpdateLabel(key, label)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	identity, ok := s.Store.Get(key)
	if !ok {
		return nil
	}
	row := &models.EnrolledIdentity{
		IdentityKey:    key,
		Label:          label,
		EmbeddingModel: s.EmbeddingModel,
	}
	row.SetEmbedding(identity.Embedding)
	return s.Identities.Upsert(row)
}

// Reenroll queues a single directory record for re-enrollment
func (s *FaceService) Reenroll(personID string) (bool, error) {
	if s.Enroller == nil {
		return false, ErrEnrollmentUnavailable
	}
	return s.Enroller.QueueJob(personID), nil
}

// ReenrollAll queues a full directory reload
func (s *FaceService) ReenrollAll() (bool, error) {
	return s.Reenroll(workers.AllIdentities)
}

// ListIdentities returns the store's entries in natural label order
func (s *FaceService) ListIdentities() []IdentityView {
	ids := s.Store.List()
	out := make([]IdentityView, 0, len(ids))
	for _, id := range ids {
		v := IdentityView{Key: id.Key, Label: id.Label, Synthetic: id.Synthetic}
		if !id.LastSeen.IsZero() {
			v.LastSeen = id.LastSeen.Unix()
		}
		out = append(out, v)
	}
	return out
}

func (s *FaceService) QueryLogs(ctx context.Context, q models.LogQuery) ([]models.RecognitionLog, error) {
	if q.Limit <= 0 {
		q.Limit = models.DefaultLogQueryLimit
	}
	return s.Logs.Query(ctx, q)
}
