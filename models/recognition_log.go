package models

// RecognitionLog is one flushed recognition window. Rows are append-only.
// It corresponds to the 'recognition_logs' table.
type RecognitionLog struct {
	ID          uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp   int64   `gorm:"not null;index" json:"timestamp"` // window start, Unix timestamp
	Label       string  `gorm:"not null;index" json:"label"`
	IdentityKey string  `gorm:"not null;index;column:identity_key" json:"identity_key"`
	Similarity  float64 `gorm:"not null" json:"similarity"` // mean, rounded to 2 decimals
	Emotion     string  `gorm:"not null" json:"emotion"`
	Gender      string  `gorm:"not null" json:"gender"`
	Age         int     `gorm:"not null" json:"age"`
	ImagePath   string  `gorm:"column:image_path" json:"image_path"`
	CameraName  string  `gorm:"not null;index;column:camera_name" json:"camera_name"`
	SampleCount int     `gorm:"not null;column:sample_count" json:"sample_count"`
	Known       bool    `gorm:"not null" json:"known"`
	CreatedAt   int64   `gorm:"not null" json:"created_at"` // Stored as INTEGER in SQLite, Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (RecognitionLog) TableName() string {
	return "recognition_logs"
}

// LogQuery filters recognition logs. Zero values are ignored; results are newest first.
type LogQuery struct {
	Label  string
	Camera string
	Since  int64 // Unix timestamp, inclusive
	Until  int64 // Unix timestamp, exclusive
	Limit  int
}

const DefaultLogQueryLimit = 100
