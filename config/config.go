package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultKnownFacesSubDir   = "known"
	DefaultUnknownFacesSubDir = "unknown"
	DefaultRecordingsSubDir   = "recordings"
)

// Recognition log backends
const (
	LogStoreSQLite   = "sqlite"
	LogStorePostgres = "postgres"
)

const (
	defaultDetectionConfidence  = 0.5
	defaultMaxFacesPerFrame     = 49
	defaultSimilarityThreshold  = 0.45
	defaultUncertainMargin      = 0.34
	defaultSpoofAcceptThreshold = 0.5
	defaultEventWindow          = 60 * time.Second
	defaultFlushInterval        = 5 * time.Second
	defaultUnknownCapacity      = 500
	defaultUnknownTTL           = 30 * time.Minute
	defaultDirectoryTimeout     = 10 * time.Second
	defaultEnrollWorkers        = 2
	defaultEnrollQueueSize      = 100
	defaultRecordFPS            = 20
)

type Config struct {
	// database path (sqlite, used for the log store and the enrollment cache)
	DatabasePath string

	// LogStore selects the persistence backend for recognition logs: "sqlite" or "postgres"
	LogStore    string
	PostgresURL string

	// media storage configuration
	MediaStoragePath  string // root for saved face images and recordings
	KnownFacesPath    string // full-calculated path for known face images
	UnknownFacesPath  string // full-calculated path for unknown face images
	RecordingsPath    string // full-calculated path for stream recordings
	KnownFacesSubDir  string
	UnknownFaceSubDir string
	RecordingsSubDir  string

	// model paths (DNN, empty disables the stage)
	RetinaFaceModelPath string
	ArcFaceModelPath    string
	AntiSpoofModelPath  string
	GenderAgeModelPath  string
	EmotionModelPath    string

	// analysis settings
	DetectionConfidence  float32
	MaxFacesPerFrame     int
	SimilarityThreshold  float32
	UncertainMargin      float32
	SpoofAcceptThreshold float32
	EnableSpoofCheck     bool
	EnableAttributes     bool
	EnableRecognition    bool

	// event aggregation
	EventWindow     time.Duration
	FlushInterval   time.Duration
	PersistUnknown  bool
	UnknownCapacity int
	UnknownTTL      time.Duration

	// personnel directory
	DirectoryURL     string
	DirectoryTimeout time.Duration
	EnrollWorkers    int
	EnrollQueueSize  int

	// recording
	RecordFPS        int
	TranscodeEnabled bool
	FFmpegPath       string

	// optional event publishers
	MQTTBroker            string
	MQTTTopic             string
	MQTTClientID          string
	KafkaBootstrapServers string
	KafkaTopic            string

	// http
	Port               string
	CORSAllowedOrigins []string

	// CamerasFile is an optional yaml file listing streams to start on boot
	CamerasFile string
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvFloatOrDefault(envVar string, defaultVal float32) float32 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 32)
	if err != nil || val < 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %.2f. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return float32(val)
}

func getEnvBoolOrDefault(envVar string, defaultVal bool) bool {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %t. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvDurationOrDefault(envVar string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %s. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func LoadConfig() (Config, error) {
	dbPath := getEnvOrDefault("DATABASE_PATH", "facewatch.db")

	mediaStorage := getEnvOrDefault("MEDIA_STORAGE_PATH", filepath.Join(".", "media_storage"))
	absMediaStorage, err := filepath.Abs(mediaStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media storage '%s': %w", mediaStorage, err)
	}

	knownSubDir := getEnvOrDefault("KNOWN_FACES_SUBDIR", DefaultKnownFacesSubDir)
	unknownSubDir := getEnvOrDefault("UNKNOWN_FACES_SUBDIR", DefaultUnknownFacesSubDir)
	recordingsSubDir := getEnvOrDefault("RECORDINGS_SUBDIR", DefaultRecordingsSubDir)

	logStore := strings.ToLower(getEnvOrDefault("LOG_STORE", LogStoreSQLite))
	if logStore != LogStoreSQLite && logStore != LogStorePostgres {
		return Config{}, fmt.Errorf("unsupported LOG_STORE '%s' (expected sqlite or postgres)", logStore)
	}
	postgresURL := os.Getenv("POSTGRES_URL")
	if logStore == LogStorePostgres && postgresURL == "" {
		return Config{}, fmt.Errorf("LOG_STORE=postgres requires POSTGRES_URL")
	}

	var origins []string
	for _, o := range strings.Split(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	cfg := Config{
		DatabasePath:      dbPath,
		LogStore:          logStore,
		PostgresURL:       postgresURL,
		MediaStoragePath:  absMediaStorage,
		KnownFacesPath:    filepath.Join(absMediaStorage, knownSubDir),
		UnknownFacesPath:  filepath.Join(absMediaStorage, unknownSubDir),
		RecordingsPath:    filepath.Join(absMediaStorage, recordingsSubDir),
		KnownFacesSubDir:  knownSubDir,
		UnknownFaceSubDir: unknownSubDir,
		RecordingsSubDir:  recordingsSubDir,

		RetinaFaceModelPath: getEnvOrDefault("RETINAFACE_MODEL_PATH", "./models/retinaface_640.onnx"),
		ArcFaceModelPath:    getEnvOrDefault("ARCFACE_MODEL_PATH", "./models/arcface_r100.onnx"),
		AntiSpoofModelPath:  getEnvOrDefault("ANTISPOOF_MODEL_PATH", "./models/minifasnet_v2.onnx"),
		GenderAgeModelPath:  getEnvOrDefault("GENDERAGE_MODEL_PATH", "./models/genderage.onnx"),
		EmotionModelPath:    getEnvOrDefault("EMOTION_MODEL_PATH", "./models/emotion_ferplus.onnx"),

		DetectionConfidence:  getEnvFloatOrDefault("DETECTION_CONFIDENCE", defaultDetectionConfidence),
		MaxFacesPerFrame:     getEnvIntOrDefault("MAX_FACES_PER_FRAME", defaultMaxFacesPerFrame),
		SimilarityThreshold:  getEnvFloatOrDefault("SIMILARITY_THRESHOLD", defaultSimilarityThreshold),
		UncertainMargin:      getEnvFloatOrDefault("UNCERTAIN_MARGIN", defaultUncertainMargin),
		SpoofAcceptThreshold: getEnvFloatOrDefault("SPOOF_ACCEPT_THRESHOLD", defaultSpoofAcceptThreshold),
		EnableSpoofCheck:     getEnvBoolOrDefault("ENABLE_SPOOF_CHECK", true),
		EnableAttributes:     getEnvBoolOrDefault("ENABLE_ATTRIBUTES", true),
		EnableRecognition:    getEnvBoolOrDefault("ENABLE_RECOGNITION", true),

		EventWindow:     getEnvDurationOrDefault("EVENT_WINDOW", defaultEventWindow),
		FlushInterval:   getEnvDurationOrDefault("FLUSH_INTERVAL", defaultFlushInterval),
		PersistUnknown:  getEnvBoolOrDefault("PERSIST_UNKNOWN", false),
		UnknownCapacity: getEnvIntOrDefault("UNKNOWN_CAPACITY", defaultUnknownCapacity),
		UnknownTTL:      getEnvDurationOrDefault("UNKNOWN_TTL", defaultUnknownTTL),

		DirectoryURL:     strings.TrimRight(os.Getenv("DIRECTORY_URL"), "/"),
		DirectoryTimeout: getEnvDurationOrDefault("DIRECTORY_TIMEOUT", defaultDirectoryTimeout),
		EnrollWorkers:    getEnvIntOrDefault("ENROLL_WORKERS", defaultEnrollWorkers),
		EnrollQueueSize:  getEnvIntOrDefault("ENROLL_QUEUE_SIZE", defaultEnrollQueueSize),

		RecordFPS:        getEnvIntOrDefault("RECORD_FPS", defaultRecordFPS),
		TranscodeEnabled: getEnvBoolOrDefault("TRANSCODE_ENABLED", true),
		FFmpegPath:       getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),

		MQTTBroker:            os.Getenv("MQTT_BROKER"),
		MQTTTopic:             getEnvOrDefault("MQTT_TOPIC", "facewatch/logs"),
		MQTTClientID:          getEnvOrDefault("MQTT_CLIENT_ID", "facewatch"),
		KafkaBootstrapServers: os.Getenv("KAFKA_BOOTSTRAP_SERVERS"),
		KafkaTopic:            getEnvOrDefault("KAFKA_TOPIC", "facewatch.logs"),

		Port:               getEnvOrDefault("PORT", "8080"),
		CORSAllowedOrigins: origins,
		CamerasFile:        os.Getenv("CAMERAS_FILE"),
	}

	if cfg.UncertainMargin > cfg.SimilarityThreshold {
		log.Printf("Warning: UNCERTAIN_MARGIN %.2f exceeds SIMILARITY_THRESHOLD %.2f, clamping", cfg.UncertainMargin, cfg.SimilarityThreshold)
		cfg.UncertainMargin = cfg.SimilarityThreshold
	}

	return cfg, nil
}

// UncertainFloor is the lowest similarity still treated as a provisional match
func (c Config) UncertainFloor() float32 {
	return c.SimilarityThreshold - c.UncertainMargin
}
