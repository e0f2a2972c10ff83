package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/facewatch/database"
	"github.com/camden-git/facewatch/models"
)

// LogRepository handles database operations for RecognitionLog entities in sqlite
type LogRepository struct {
	DB *gorm.DB
}

// Ensure LogRepository implements LogRepositoryInterface
var _ LogRepositoryInterface = (*LogRepository)(nil)

func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{DB: db}
}

// Insert appends a recognition log record
func (r *LogRepository) Insert(ctx context.Context, rec *models.RecognitionLog) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	if err := r.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to insert recognition log for %s: %w", rec.IdentityKey, err)
	}
	return nil
}

// Query runs the filtered select through squirrel on the underlying sql.DB
func (r *LogRepository) Query(ctx context.Context, q models.LogQuery) ([]models.RecognitionLog, error) {
	sqlDB, err := r.DB.WithContext(ctx).DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return database.QueryLogs(sqlDB, q)
}
