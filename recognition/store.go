package recognition

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/facette/natsort"
)

const UnknownKeyPrefix = "Unknown-"

var (
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyEmbedding    = errors.New("empty embedding")
)

// Identity is a copy of one store entry. Synthetic entries were minted for
// unseen faces and are subject to eviction.
type Identity struct {
	Key       string    `json:"identity_key"`
	Label     string    `json:"label"`
	Embedding []float32 `json:"-"`
	Synthetic bool      `json:"synthetic"`
	LastSeen  time.Time `json:"last_seen"`
}

// SimilarityFunc scores two embeddings, higher is more similar
type SimilarityFunc func(a, b []float32) float32

// EmbeddingStore is the shared in-memory identity index. Reads take a shared
// lock; enrollment, renames and unknown inserts take the exclusive lock.
type EmbeddingStore struct {
	mu      sync.RWMutex
	entries map[string]*Identity
	order   []string // insertion order, used for nearest-neighbour tie-breaks
	dim     int

	similarity SimilarityFunc

	unknownSeq      int
	unknownCapacity int           // 0 disables the bound
	unknownTTL      time.Duration // 0 disables expiry
	now             func() time.Time
}

type StoreOptions struct {
	UnknownCapacity int
	UnknownTTL      time.Duration
}

func NewEmbeddingStore(similarity SimilarityFunc, opts StoreOptions) *EmbeddingStore {
	return &EmbeddingStore{
		entries:         make(map[string]*Identity),
		similarity:      similarity,
		unknownCapacity: opts.UnknownCapacity,
		unknownTTL:      opts.UnknownTTL,
		now:             time.Now,
	}
}

// Upsert inserts or replaces an enrolled identity. Replacing keeps the
// original insertion position.
func (s *EmbeddingStore) Upsert(key, label string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(key, label, embedding, false)
}

func (s *EmbeddingStore) upsertLocked(key, label string, embedding []float32, synthetic bool) error {
	if len(embedding) == 0 {
		return ErrEmptyEmbedding
	}
	if s.dim != 0 && len(embedding) != s.dim {
		return fmt.Errorf("%w: got %d, store holds %d", ErrDimensionMismatch, len(embedding), s.dim)
	}
	s.dim = len(embedding)

	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	if existing, ok := s.entries[key]; ok {
		existing.Label = label
		existing.Embedding = vec
		existing.Synthetic = synthetic
		existing.LastSeen = s.now()
		return nil
	}

	s.entries[key] = &Identity{Key: key, Label: label, Embedding: vec, Synthetic: synthetic, LastSeen: s.now()}
	s.order = append(s.order, key)
	return nil
}

// FindNearest returns the entry with the smallest Euclidean distance to query.
// Equal distances resolve to the earliest inserted entry. ok is false when the
// store is empty or the query dimension does not match.
func (s *EmbeddingStore) FindNearest(query []float32) (Identity, float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 || len(query) != s.dim {
		return Identity{}, 0, false
	}

	var best *Identity
	bestDist := math.Inf(1)
	for _, key := range s.order {
		entry := s.entries[key]
		d := euclidean(query, entry.Embedding)
		if d < bestDist {
			best, bestDist = entry, d
		}
	}
	return best.clone(), float32(bestDist), true
}

// Similarity delegates to the embedder's native similarity
func (s *EmbeddingStore) Similarity(a, b []float32) float32 {
	return s.similarity(a, b)
}

// Rename changes the display label of the entry whose key matches, or else the
// first entry (insertion order) whose label matches. Renaming a synthetic
// identity promotes it to an enrolled one. Returns the affected key.
func (s *EmbeddingStore) Rename(keyOrLabel, newLabel string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[keyOrLabel]
	if !ok {
		for _, key := range s.order {
			if s.entries[key].Label == keyOrLabel {
				entry, ok = s.entries[key], true
				break
			}
		}
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrIdentityNotFound, keyOrLabel)
	}

	entry.Label = newLabel
	entry.Synthetic = false
	return entry.Key, nil
}

// MintUnknown stores embedding under a fresh "Unknown-N" key, evicting the
// least recently seen synthetic entry when the bound is exceeded.
func (s *EmbeddingStore) MintUnknown(embedding []float32) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.unknownSeq
	var key string
	for {
		// promoted unknowns restored from the cache keep their keys
		seq++
		key = UnknownKeyPrefix + strconv.Itoa(seq)
		if _, taken := s.entries[key]; !taken {
			break
		}
	}
	if err := s.upsertLocked(key, key, embedding, true); err != nil {
		return Identity{}, err
	}
	s.unknownSeq = seq
	s.evictLocked(key)
	return s.entries[key].clone(), nil
}

// Touch marks a synthetic identity as recently seen
func (s *EmbeddingStore) Touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		entry.LastSeen = s.now()
	}
}

func (s *EmbeddingStore) evictLocked(keep string) {
	if s.unknownCapacity <= 0 {
		return
	}
	var synthetic []*Identity
	for _, key := range s.order {
		if e := s.entries[key]; e.Synthetic && e.Key != keep {
			synthetic = append(synthetic, e)
		}
	}
	excess := len(synthetic) + 1 - s.unknownCapacity
	if excess <= 0 {
		return
	}
	sort.SliceStable(synthetic, func(i, j int) bool {
		return synthetic[i].LastSeen.Before(synthetic[j].LastSeen)
	})
	for _, e := range synthetic[:excess] {
		s.removeLocked(e.Key)
	}
}

// PruneUnknown drops synthetic identities not seen within the TTL
func (s *EmbeddingStore) PruneUnknown() int {
	if s.unknownTTL <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.unknownTTL)
	var stale []string
	for _, key := range s.order {
		if e := s.entries[key]; e.Synthetic && e.LastSeen.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		s.removeLocked(key)
	}
	return len(stale)
}

// Remove deletes an entry. Returns false when the key is unknown.
func (s *EmbeddingStore) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false
	}
	s.removeLocked(key)
	return true
}

func (s *EmbeddingStore) removeLocked(key string) {
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if len(s.order) == 0 {
		s.dim = 0
	}
}

func (s *EmbeddingStore) Get(key string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return Identity{}, false
	}
	return entry.clone(), true
}

func (s *EmbeddingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// List returns all identities in natural label order (Unknown-2 before Unknown-10)
func (s *EmbeddingStore) List() []Identity {
	s.mu.RLock()
	out := make([]Identity, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.entries[key].clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Label == out[j].Label {
			return natsort.Compare(out[i].Key, out[j].Key)
		}
		return natsort.Compare(out[i].Label, out[j].Label)
	})
	return out
}

func (e *Identity) clone() Identity {
	c := *e
	c.Embedding = make([]float32, len(e.Embedding))
	copy(c.Embedding, e.Embedding)
	return c
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
