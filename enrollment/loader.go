package enrollment

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"log"

	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"

	"github.com/camden-git/facewatch/media"
	"github.com/camden-git/facewatch/models"
	"github.com/camden-git/facewatch/recognition"
	"github.com/camden-git/facewatch/repository"
	"github.com/camden-git/facewatch/utils"
)

var ErrNoFace = errors.New("no face found in photo")

// Outcome is what happened to one directory record
type Outcome string

const (
	OutcomeEnrolled  Outcome = "enrolled"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// Summary counts the outcomes of a LoadAll run
type Summary struct {
	Total     int `json:"total"`
	Enrolled  int `json:"enrolled"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// ProgressFunc is called after every record, successful or not
type ProgressFunc func(done, total int, p Person, outcome Outcome, err error)

// Loader fills the embedding store from the personnel directory. The identity
// repository is optional; when set it caches embeddings keyed by photo digest.
type Loader struct {
	Directory Directory
	Store     *recognition.EmbeddingStore
	Repo      repository.IdentityRepositoryInterface
	Detector  recognition.Detector
	Embedder  recognition.Embedder
	Align     recognition.AlignFunc
	ModelName string

	OnProgress ProgressFunc
}

func NewLoader(dir Directory, store *recognition.EmbeddingStore, repo repository.IdentityRepositoryInterface,
	detector recognition.Detector, embedder recognition.Embedder) *Loader {
	return &Loader{
		Directory: dir,
		Store:     store,
		Repo:      repo,
		Detector:  detector,
		Embedder:  embedder,
		Align:     media.AlignFace,
		ModelName: "arcface",
	}
}

// LoadAll enrolls every directory record. Failures of individual records are
// logged and counted; only a failure to list the directory is returned.
func (l *Loader) LoadAll(ctx context.Context) (Summary, error) {
	people, err := l.Directory.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("enrollment: list directory: %w", err)
	}

	sum := Summary{Total: len(people)}
	log.Printf("enrollment: loading %d directory records", len(people))
	for i, p := range people {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		outcome, err := l.enroll(ctx, p)
		switch outcome {
		case OutcomeEnrolled:
			sum.Enrolled++
		case OutcomeUnchanged:
			sum.Unchanged++
		default:
			sum.Failed++
			log.Printf("enrollment: skipping %s (%s): %v", p.ID, p.Label(), err)
		}
		if l.OnProgress != nil {
			l.OnProgress(i+1, len(people), p, outcome, err)
		}
	}
	log.Printf("enrollment: done, %d enrolled, %d unchanged, %d failed", sum.Enrolled, sum.Unchanged, sum.Failed)
	return sum, nil
}

// LoadOne re-enrolls a single record after a directory-side change
func (l *Loader) LoadOne(ctx context.Context, id string) (Outcome, error) {
	people, err := l.Directory.List(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("enrollment: list directory: %w", err)
	}
	for _, p := range people {
		if p.ID == id {
			outcome, err := l.enroll(ctx, p)
			if err != nil {
				return outcome, fmt.Errorf("enrollment: %s: %w", id, err)
			}
			log.Printf("enrollment: %s (%s) %s", id, p.Label(), outcome)
			return outcome, nil
		}
	}
	return OutcomeFailed, fmt.Errorf("enrollment: %s: %w", id, ErrPersonNotFound)
}

// Restore loads cached enrollments into the store without contacting the
// directory. Returns the number of identities restored.
func (l *Loader) Restore() (int, error) {
	if l.Repo == nil {
		return 0, nil
	}
	cached, err := l.Repo.ListAll()
	if err != nil {
		return 0, fmt.Errorf("enrollment: list cached identities: %w", err)
	}
	restored := 0
	for i := range cached {
		c := &cached[i]
		if c.EmbeddingModel != l.ModelName {
			continue
		}
		if err := l.Store.Upsert(c.IdentityKey, c.Label, c.GetEmbedding()); err != nil {
			log.Printf("enrollment: cached identity %s not restored: %v", c.IdentityKey, err)
			continue
		}
		restored++
	}
	log.Printf("enrollment: restored %d cached identities", restored)
	return restored, nil
}

func (l *Loader) enroll(ctx context.Context, p Person) (Outcome, error) {
	photo, err := l.Directory.Photo(ctx, p.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("fetch photo: %w", err)
	}
	digest := PhotoDigest(photo)
	label := p.Label()
	if label == "" {
		label = p.ID
	}

	if cached := l.cached(p.ID); cached != nil && cached.PhotoDigest == digest && cached.EmbeddingModel == l.ModelName {
		if err := l.Store.Upsert(p.ID, label, cached.GetEmbedding()); err == nil {
			if cached.Label != label {
				if err := l.Repo.UpdateLabel(p.ID, label); err != nil {
					log.Printf("enrollment: failed to update cached label for %s: %v", p.ID, err)
				}
			}
			return OutcomeUnchanged, nil
		}
		// fall through and recompute when the cache no longer fits the store
	}

	img, _, err := utils.DecodePhoto(photo)
	if err != nil {
		return OutcomeFailed, err
	}
	embedding, err := l.embedPhoto(img)
	if err != nil {
		return OutcomeFailed, err
	}
	if err := l.Store.Upsert(p.ID, label, embedding); err != nil {
		return OutcomeFailed, fmt.Errorf("store: %w", err)
	}

	if l.Repo != nil {
		rec := &models.EnrolledIdentity{
			IdentityKey:    p.ID,
			Label:          label,
			EmbeddingModel: l.ModelName,
			PhotoDigest:    digest,
		}
		rec.SetEmbedding(embedding)
		if err := l.Repo.Upsert(rec); err != nil {
			// the in-memory enrollment stands, only the cache is stale
			log.Printf("enrollment: failed to cache %s: %v", p.ID, err)
		}
	}
	return OutcomeEnrolled, nil
}

func (l *Loader) cached(id string) *models.EnrolledIdentity {
	if l.Repo == nil {
		return nil
	}
	rec, err := l.Repo.GetByKey(id)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("enrollment: cache lookup for %s failed: %v", id, err)
		}
		return nil
	}
	return rec
}

// embedPhoto detects the largest face in a reference photo and embeds it
func (l *Loader) embedPhoto(img image.Image) ([]float32, error) {
	mat, err := media.ImageToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	dets, err := l.Detector.Detect(mat)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if len(dets) == 0 {
		return nil, ErrNoFace
	}
	best := LargestFace(dets)

	aligned, err := l.Align(mat, best)
	if err != nil {
		return nil, fmt.Errorf("align: %w", err)
	}
	defer aligned.Close()

	embedding, err := l.Embedder.Embed(aligned)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return embedding, nil
}

// LargestFace picks the detection with the biggest box; reference photos
// sometimes catch a second face in the background.
func LargestFace(dets []media.FaceDetection) media.FaceDetection {
	best := dets[0]
	bestArea := best.Box.Dx() * best.Box.Dy()
	for _, d := range dets[1:] {
		if area := d.Box.Dx() * d.Box.Dy(); area > bestArea {
			best, bestArea = d, area
		}
	}
	return best
}

// PhotoDigest identifies a photo's content for the enrollment cache
func PhotoDigest(photo []byte) string {
	sum := blake2b.Sum256(photo)
	return hex.EncodeToString(sum[:])
}
