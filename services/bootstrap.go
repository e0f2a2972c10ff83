package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/camden-git/facewatch/config"
	"github.com/camden-git/facewatch/database"
	"github.com/camden-git/facewatch/emitter"
	"github.com/camden-git/facewatch/enrollment"
	"github.com/camden-git/facewatch/events"
	"github.com/camden-git/facewatch/media"
	"github.com/camden-git/facewatch/realtime"
	"github.com/camden-git/facewatch/recognition"
	"github.com/camden-git/facewatch/repository"
	"github.com/camden-git/facewatch/stream"
	"github.com/camden-git/facewatch/workers"
)

// Runtime is everything Bootstrap builds. Service is the control surface; the
// rest is exposed for the HTTP and CLI layers.
type Runtime struct {
	Config  config.Config
	Service *FaceService
	Hub     *realtime.Hub
	Loader  *enrollment.Loader // Directory is nil without DIRECTORY_URL
	Media   media.Store
}

// Storage opens the database and the recognition log backend
type Storage struct {
	DB         *gorm.DB
	Logs       repository.LogRepositoryInterface
	Identities *repository.IdentityRepository
	close      []func() error
}

func (s *Storage) Close() error {
	var firstErr error
	for i := len(s.close) - 1; i >= 0; i-- {
		if err := s.close[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func OpenStorage(ctx context.Context, cfg config.Config) (*Storage, error) {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	db, err := database.InitGormDB(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrateModels(db); err != nil {
		return nil, err
	}
	st := &Storage{DB: db, Identities: repository.NewIdentityRepository(db)}
	st.close = append(st.close, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	switch cfg.LogStore {
	case config.LogStorePostgres:
		pg, err := database.NewPostgresLogStore(ctx, cfg.PostgresURL)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.Logs = pg
		st.close = append(st.close, func() error { pg.Close(); return nil })
		log.Println("service: recognition logs go to postgres")
	default:
		st.Logs = repository.NewLogRepository(db)
		log.Printf("service: recognition logs go to sqlite at %s", cfg.DatabasePath)
	}
	return st, nil
}

// Models holds the loaded inference backends
type Models struct {
	Detector  *media.RetinaFaceDetector
	Embedder  *media.ArcFaceEmbedder
	Spoof     *media.AntiSpoofClassifier
	GenderAge *media.GenderAgeModel
	Emotion   *media.EmotionModel
}

// LoadModels loads the networks the configuration enables. Detection and
// embedding are required; an optional model that fails to load disables its
// stage with a warning.
func LoadModels(cfg config.Config) (*Models, error) {
	m := &Models{}
	var err error
	if m.Detector, err = media.NewRetinaFaceDetector(cfg.RetinaFaceModelPath, cfg.DetectionConfidence); err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}
	if m.Embedder, err = media.NewArcFaceEmbedder(cfg.ArcFaceModelPath); err != nil {
		m.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}
	if cfg.EnableSpoofCheck {
		if m.Spoof, err = media.NewAntiSpoofClassifier(cfg.AntiSpoofModelPath); err != nil {
			log.Printf("service: WARNING anti-spoof disabled: %v", err)
			m.Spoof = nil
		}
	}
	if cfg.EnableAttributes {
		if m.GenderAge, err = media.NewGenderAgeModel(cfg.GenderAgeModelPath); err != nil {
			log.Printf("service: WARNING gender/age disabled: %v", err)
			m.GenderAge = nil
		}
		if m.Emotion, err = media.NewEmotionModel(cfg.EmotionModelPath); err != nil {
			log.Printf("service: WARNING emotion disabled: %v", err)
			m.Emotion = nil
		}
	}
	return m, nil
}

// Scorers exposes the loaded models through the analyzer's interfaces,
// leaving unloaded stages nil.
func (m *Models) Scorers() recognition.Scorers {
	sc := recognition.Scorers{Detector: m.Detector, Embedder: m.Embedder}
	if m.Spoof != nil {
		sc.Spoof = m.Spoof
	}
	if m.GenderAge != nil {
		sc.GenderAge = m.GenderAge
	}
	if m.Emotion != nil {
		sc.Emotion = m.Emotion
	}
	return sc
}

func (m *Models) Close() error {
	m.Detector.Close()
	m.Embedder.Close()
	m.Spoof.Close()
	m.GenderAge.Close()
	m.Emotion.Close()
	return nil
}

// OpenMedia creates the media store for face images and recordings
func OpenMedia(cfg config.Config) (*media.LocalStorage, error) {
	return media.NewLocalStorage(cfg.MediaStoragePath, map[media.AssetType]string{
		media.AssetTypeKnownFace:   cfg.KnownFacesSubDir,
		media.AssetTypeUnknownFace: cfg.UnknownFaceSubDir,
		media.AssetTypeRecording:   cfg.RecordingsSubDir,
	})
}

// Bootstrap builds the whole runtime from configuration. Nothing runs until
// Service.Start is called.
func Bootstrap(ctx context.Context, cfg config.Config) (*Runtime, error) {
	storage, err := OpenStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mediaStore, err := OpenMedia(cfg)
	if err != nil {
		storage.Close()
		return nil, err
	}
	processor := media.NewProcessor(mediaStore)

	loaded, err := LoadModels(cfg)
	if err != nil {
		storage.Close()
		return nil, err
	}

	store := recognition.NewEmbeddingStore(loaded.Embedder.Similarity, recognition.StoreOptions{
		UnknownCapacity: cfg.UnknownCapacity,
		UnknownTTL:      cfg.UnknownTTL,
	})
	analyzer := recognition.NewAnalyzer(store, loaded.Scorers(), recognition.Options{
		EnableSpoofCheck:     cfg.EnableSpoofCheck && loaded.Spoof != nil,
		EnableAttributes:     cfg.EnableAttributes,
		EnableRecognition:    cfg.EnableRecognition,
		MaxFaces:             cfg.MaxFacesPerFrame,
		SimilarityThreshold:  cfg.SimilarityThreshold,
		UncertainFloor:       cfg.UncertainFloor(),
		SpoofAcceptThreshold: cfg.SpoofAcceptThreshold,
	})

	hub := realtime.NewHub()
	debouncer := events.NewDebouncer(storage.Logs, processor, events.Config{
		Window:         cfg.EventWindow,
		FlushInterval:  cfg.FlushInterval,
		PersistUnknown: cfg.PersistUnknown,
	})
	debouncer.AddHook(hub.RecognitionHook())
	publishers := connectPublishers(cfg, debouncer)

	var transcoder stream.Transcoder
	if cfg.TranscodeEnabled {
		transcoder = stream.NewFFmpegTranscoder(cfg.FFmpegPath)
	}
	manager := stream.NewManager(stream.Deps{
		Open:          stream.OpenCapture,
		Analyzer:      analyzer,
		Events:        debouncer,
		NewRecorder:   stream.OpenVideoWriter,
		RecordingPath: processor.NewRecordingPath,
	}, stream.ManagerConfig{
		RecordFPS:     float64(cfg.RecordFPS),
		Transcoder:    transcoder,
		OnStateChange: hub.StreamState,
	})

	svc := &FaceService{
		Store:         store,
		Debouncer:     debouncer,
		Streams:       manager,
		Identities:    storage.Identities,
		Logs:          storage.Logs,
		PruneInterval: cfg.UnknownTTL / 2,

		EmbeddingModel: loaded.Embedder.ModelName,
	}
	svc.AddBackground(hub.Run)
	svc.AddCloser(storage.Close)
	svc.AddCloser(loaded.Close)
	svc.AddCloser(publishers.Close)

	rt := &Runtime{Config: cfg, Service: svc, Hub: hub, Media: mediaStore}

	rt.Loader = enrollment.NewLoader(nil, store, storage.Identities, loaded.Detector, loaded.Embedder)
	rt.Loader.ModelName = loaded.Embedder.ModelName
	if _, err := rt.Loader.Restore(); err != nil {
		log.Printf("service: WARNING %v", err)
	}
	if cfg.DirectoryURL != "" {
		rt.Loader.Directory = enrollment.NewHTTPDirectory(cfg.DirectoryURL, cfg.DirectoryTimeout)
		svc.Enroller = workers.NewEnrollmentProcessor(rt.Loader, cfg.EnrollQueueSize, cfg.EnrollWorkers, hub.EnrollmentResult)
	} else {
		log.Println("service: DIRECTORY_URL not set, serving cached enrollments only")
	}
	return rt, nil
}

func connectPublishers(cfg config.Config, debouncer *events.Debouncer) emitter.Multi {
	var pubs emitter.Multi
	if cfg.MQTTBroker != "" {
		p := emitter.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic)
		if err := p.Connect(); err != nil {
			log.Printf("service: WARNING mqtt not connected yet, retrying in background: %v", err)
		}
		debouncer.AddHook(emitter.Hook("mqtt", p))
		pubs = append(pubs, p)
	}
	if cfg.KafkaBootstrapServers != "" {
		p, err := emitter.NewKafkaPublisher(cfg.KafkaBootstrapServers, cfg.KafkaTopic)
		if err != nil {
			log.Printf("service: WARNING kafka publisher disabled: %v", err)
		} else {
			debouncer.AddHook(emitter.Hook("kafka", p))
			pubs = append(pubs, p)
		}
	}
	return pubs
}

// StartCameras starts the streams listed in the cameras file that are marked
// autostart. A camera that fails to open is logged and skipped.
func (rt *Runtime) StartCameras(cameras []config.CameraConfig) int {
	started := 0
	for _, cam := range cameras {
		if !cam.Autostart {
			continue
		}
		if err := rt.Service.StartStream(cam.ID, cam.Source, cam.Name, cam.Record); err != nil {
			log.Printf("service: camera %s not started: %v", cam.ID, err)
			continue
		}
		started++
	}
	return started
}
