package events

import (
	"math"

	"github.com/camden-git/facewatch/media"
	"github.com/camden-git/facewatch/models"
)

// Gender votes below this share of the window are ignored; at or above it the
// minority reading wins. Expressed as 1/minorityOverrideDivisor to keep the
// comparison in integers.
const minorityOverrideDivisor = 5

// MeanSimilarity averages the window's similarities, rounded to 2 decimals
func MeanSimilarity(values []float32) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return math.Round(sum/float64(len(values))*100) / 100
}

// ModeLabel returns the most frequent value, ties going to the one seen first.
// "Unknown" readings are ignored.
func ModeLabel(values []string) string {
	counts, order := tally(values, media.EmotionUnknown)
	if len(order) == 0 {
		return media.EmotionUnknown
	}
	best := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best
}

// VoteGender takes the majority reading unless the runner-up holds at least a
// fifth of the known readings, in which case the runner-up wins. [M M M M F] is F.
func VoteGender(values []string) string {
	counts, order := tally(values, media.GenderUnknown)
	if len(order) == 0 {
		return media.GenderUnknown
	}

	majority := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[majority] {
			majority = v
		}
	}

	total := 0
	minority := ""
	for _, v := range order {
		total += counts[v]
		if v != majority && (minority == "" || counts[v] > counts[minority]) {
			minority = v
		}
	}
	if minority != "" && counts[minority]*minorityOverrideDivisor >= total {
		return minority
	}
	return majority
}

// MinAge is the smallest valid age reading, or -1 when there is none
func MinAge(values []int) int {
	minAge := media.AgeUnknown
	for _, v := range values {
		if v < 0 {
			continue
		}
		if minAge < 0 || v < minAge {
			minAge = v
		}
	}
	return minAge
}

func tally(values []string, skip string) (map[string]int, []string) {
	counts := make(map[string]int)
	var order []string
	for _, v := range values {
		if v == "" || v == skip {
			continue
		}
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	return counts, order
}

// ToRecord converts a closed window into its persisted log record
func (ev *AggregatedEvent) ToRecord() models.RecognitionLog {
	return models.RecognitionLog{
		Timestamp:   ev.WindowStart.Unix(),
		Label:       ev.Label,
		IdentityKey: ev.IdentityKey,
		Similarity:  MeanSimilarity(ev.Similarities),
		Emotion:     ModeLabel(ev.Emotions),
		Gender:      VoteGender(ev.Genders),
		Age:         MinAge(ev.Ages),
		ImagePath:   ev.ImagePath,
		CameraName:  ev.CameraName,
		SampleCount: len(ev.Similarities),
		Known:       ev.Known,
	}
}
