package repository

import (
	"context"

	"github.com/camden-git/facewatch/database"
	"github.com/camden-git/facewatch/models"
)

// LogRepositoryInterface is the append-only recognition log store
type LogRepositoryInterface interface {
	Insert(ctx context.Context, rec *models.RecognitionLog) error
	Query(ctx context.Context, q models.LogQuery) ([]models.RecognitionLog, error)
}

// IdentityRepositoryInterface caches enrolled identities between restarts
type IdentityRepositoryInterface interface {
	Upsert(identity *models.EnrolledIdentity) error
	GetByKey(identityKey string) (*models.EnrolledIdentity, error)
	ListAll() ([]models.EnrolledIdentity, error)
	UpdateLabel(identityKey, label string) error
}

var _ LogRepositoryInterface = (*database.PostgresLogStore)(nil)
