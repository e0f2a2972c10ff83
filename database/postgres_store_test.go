package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/camden-git/facewatch/models"
)

// TestPostgresLogStoreIntegration runs against a real postgres container and needs Docker.
func TestPostgresLogStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// testcontainers panics when the docker socket is missing
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("facewatch_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	s, err := NewPostgresLogStore(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close()

	first := &models.RecognitionLog{Timestamp: 100, Label: "Ada Lovelace", IdentityKey: "1", Similarity: 0.6,
		Emotion: "Happy", Gender: "Female", Age: 30, CameraName: "lobby", SampleCount: 3, Known: true}
	second := &models.RecognitionLog{Timestamp: 200, Label: "Alan Turing", IdentityKey: "2", Similarity: 0.5,
		Emotion: "Neutral", Gender: "Male", Age: 41, CameraName: "garage", SampleCount: 1, Known: true}
	for _, rec := range []*models.RecognitionLog{first, second} {
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if rec.ID == 0 || rec.CreatedAt == 0 {
			t.Errorf("Insert did not fill id/created_at: %+v", rec)
		}
	}

	logs, err := s.Query(ctx, models.LogQuery{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(logs) != 2 || logs[0].Label != "Alan Turing" {
		t.Fatalf("unexpected logs %+v", logs)
	}

	logs, err = s.Query(ctx, models.LogQuery{Camera: "lobby"})
	if err != nil {
		t.Fatalf("Query by camera: %v", err)
	}
	if len(logs) != 1 || logs[0].SampleCount != 3 || !logs[0].Known {
		t.Errorf("unexpected camera-filtered logs %+v", logs)
	}
}
