package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camden-git/facewatch/models"
)

// PostgresLogStore persists recognition logs to postgres when LOG_STORE=postgres.
type PostgresLogStore struct {
	pool *pgxpool.Pool
}

// NewPostgresLogStore connects and ensures the schema exists.
func NewPostgresLogStore(ctx context.Context, connString string) (*PostgresLogStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	log.Println("postgres: recognition log store ready")
	return &PostgresLogStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS recognition_logs (
			id BIGSERIAL PRIMARY KEY,
			timestamp BIGINT NOT NULL,
			label TEXT NOT NULL,
			identity_key TEXT NOT NULL,
			similarity DOUBLE PRECISION NOT NULL,
			emotion TEXT NOT NULL,
			gender TEXT NOT NULL,
			age INT NOT NULL,
			image_path TEXT NOT NULL DEFAULT '',
			camera_name TEXT NOT NULL,
			sample_count INT NOT NULL,
			known BOOLEAN NOT NULL,
			created_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS recognition_logs_timestamp_idx ON recognition_logs (timestamp);
		CREATE INDEX IF NOT EXISTS recognition_logs_label_idx ON recognition_logs (label);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Insert appends one record
func (s *PostgresLogStore) Insert(ctx context.Context, rec *models.RecognitionLog) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}

	sqlStr, args, err := postgresPsql.Insert("recognition_logs").
		Columns(logColumns[1:]...).
		Values(rec.Timestamp, rec.Label, rec.IdentityKey, rec.Similarity, rec.Emotion,
			rec.Gender, rec.Age, rec.ImagePath, rec.CameraName, rec.SampleCount, rec.Known, rec.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL query for Insert: %w", err)
	}

	var id int64
	if err := s.pool.QueryRow(ctx, sqlStr, args...).Scan(&id); err != nil {
		return fmt.Errorf("failed to insert recognition log for %s: %w", rec.IdentityKey, err)
	}
	rec.ID = uint(id)
	return nil
}

func (s *PostgresLogStore) Query(ctx context.Context, q models.LogQuery) ([]models.RecognitionLog, error) {
	sqlStr, args, err := buildLogQuery(postgresPsql, q).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for Query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recognition logs: %w", err)
	}
	defer rows.Close()

	logs := []models.RecognitionLog{}
	for rows.Next() {
		var id int64
		var rec models.RecognitionLog
		err := rows.Scan(&id, &rec.Timestamp, &rec.Label, &rec.IdentityKey, &rec.Similarity, &rec.Emotion,
			&rec.Gender, &rec.Age, &rec.ImagePath, &rec.CameraName, &rec.SampleCount, &rec.Known, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recognition log: %w", err)
		}
		rec.ID = uint(id)
		logs = append(logs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recognition logs: %w", err)
	}
	return logs, nil
}

func (s *PostgresLogStore) Close() {
	s.pool.Close()
}
