package models

import (
	"encoding/binary"
	"math"
)

// EnrolledIdentity caches a directory enrollment so the embedding store can be
// restored without the directory service. It corresponds to the 'enrolled_identities' table.
type EnrolledIdentity struct {
	IdentityKey    string `gorm:"primaryKey;column:identity_key" json:"identity_key"`
	Label          string `gorm:"not null" json:"label"`
	EmbeddingData  []byte `gorm:"not null;column:embedding_data" json:"-"` // little-endian float32 BLOB
	EmbeddingModel string `gorm:"not null;column:embedding_model;default:'arcface'" json:"embedding_model"`
	PhotoDigest    string `gorm:"column:photo_digest" json:"photo_digest"` // blake2b of the source photo
	CreatedAt      int64  `gorm:"not null" json:"created_at"`
	UpdatedAt      int64  `gorm:"not null" json:"updated_at"`
}

// TableName explicitly sets the table name for GORM.
func (EnrolledIdentity) TableName() string {
	return "enrolled_identities"
}

// GetEmbedding converts the BLOB data to []float32
func (e *EnrolledIdentity) GetEmbedding() []float32 {
	if len(e.EmbeddingData) < 4 {
		return nil
	}

	embedding := make([]float32, len(e.EmbeddingData)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(e.EmbeddingData[i*4:]))
	}
	return embedding
}

// SetEmbedding converts []float32 to BLOB data
func (e *EnrolledIdentity) SetEmbedding(embedding []float32) {
	if len(embedding) == 0 {
		e.EmbeddingData = nil
		return
	}

	e.EmbeddingData = make([]byte, len(embedding)*4)
	for i, val := range embedding {
		binary.LittleEndian.PutUint32(e.EmbeddingData[i*4:], math.Float32bits(val))
	}
}
