package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/camden-git/facewatch/events"
	"github.com/camden-git/facewatch/media"
	"github.com/camden-git/facewatch/models"
)

// RecognitionEvent is the wire form of a flushed recognition window
type RecognitionEvent struct {
	Type        string  `json:"type"`
	Timestamp   int64   `json:"timestamp"`
	IdentityKey string  `json:"identity_key"`
	Label       string  `json:"label"`
	Known       bool    `json:"known"`
	Camera      string  `json:"camera"`
	Similarity  float64 `json:"similarity"`
	Emotion     string  `json:"emotion,omitempty"`
	Gender      string  `json:"gender,omitempty"`
	Age         *int    `json:"age,omitempty"`
	SampleCount int     `json:"sample_count"`
	ImagePath   string  `json:"image_path,omitempty"`
}

const EventTypeRecognition = "recognition"

// FromLog builds the wire event, leaving sentinel attributes out
func FromLog(rec models.RecognitionLog) RecognitionEvent {
	ev := RecognitionEvent{
		Type:        EventTypeRecognition,
		Timestamp:   rec.Timestamp,
		IdentityKey: rec.IdentityKey,
		Label:       rec.Label,
		Known:       rec.Known,
		Camera:      rec.CameraName,
		Similarity:  rec.Similarity,
		SampleCount: rec.SampleCount,
		ImagePath:   rec.ImagePath,
	}
	if rec.Emotion != media.EmotionUnknown {
		ev.Emotion = rec.Emotion
	}
	if rec.Gender != media.GenderUnknown {
		ev.Gender = rec.Gender
	}
	if rec.Age >= 0 {
		age := rec.Age
		ev.Age = &age
	}
	return ev
}

func (e RecognitionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher forwards flushed recognition records to an external system
type Publisher interface {
	Publish(ctx context.Context, rec models.RecognitionLog) error
	Close() error
}

// Hook adapts a publisher into a debouncer flush hook. Publish failures are
// logged and never reach the debouncer.
func Hook(name string, p Publisher) events.FlushHook {
	return func(ctx context.Context, rec models.RecognitionLog) {
		if err := p.Publish(ctx, rec); err != nil {
			log.Printf("emitter: %s publish for %s failed: %v", name, rec.IdentityKey, err)
		}
	}
}

// Multi closes several publishers together
type Multi []Publisher

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// topicSegment makes a camera name safe for use as one MQTT topic level
func topicSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ' ':
			return '_'
		}
		return r
	}, s)
}
