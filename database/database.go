package database

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/camden-git/facewatch/models"
)

var (
	sqlitePsql   = sq.StatementBuilder.PlaceholderFormat(sq.Question)
	postgresPsql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
)

var logColumns = []string{
	"id", "timestamp", "label", "identity_key", "similarity", "emotion",
	"gender", "age", "image_path", "camera_name", "sample_count", "known", "created_at",
}

// buildLogQuery applies the LogQuery filters to a select over recognition_logs
func buildLogQuery(builder sq.StatementBuilderType, q models.LogQuery) sq.SelectBuilder {
	query := builder.Select(logColumns...).From("recognition_logs")

	if q.Label != "" {
		query = query.Where(sq.Eq{"label": q.Label})
	}
	if q.Camera != "" {
		query = query.Where(sq.Eq{"camera_name": q.Camera})
	}
	if q.Since > 0 {
		query = query.Where(sq.GtOrEq{"timestamp": q.Since})
	}
	if q.Until > 0 {
		query = query.Where(sq.Lt{"timestamp": q.Until})
	}

	limit := q.Limit
	if limit <= 0 {
		limit = models.DefaultLogQueryLimit
	}
	return query.OrderBy("timestamp DESC", "id DESC").Limit(uint64(limit))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (models.RecognitionLog, error) {
	var rec models.RecognitionLog
	err := row.Scan(&rec.ID, &rec.Timestamp, &rec.Label, &rec.IdentityKey, &rec.Similarity, &rec.Emotion,
		&rec.Gender, &rec.Age, &rec.ImagePath, &rec.CameraName, &rec.SampleCount, &rec.Known, &rec.CreatedAt)
	return rec, err
}

// QueryLogs lists recognition logs from the sqlite store, newest first
func QueryLogs(db *sql.DB, q models.LogQuery) ([]models.RecognitionLog, error) {
	sqlStr, args, err := buildLogQuery(sqlitePsql, q).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for QueryLogs: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recognition logs: %w", err)
	}
	defer rows.Close()

	logs := []models.RecognitionLog{}
	for rows.Next() {
		rec, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recognition log: %w", err)
		}
		logs = append(logs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recognition logs: %w", err)
	}
	return logs, nil
}
