package events

import (
	"testing"
	"time"
)

func TestVoteGender(t *testing.T) {
	tests := []struct {
		name    string
		samples []string
		want    string
	}{
		{"unanimous", []string{"Male", "Male", "Male"}, "Male"},
		{"exactly one fifth overrides", []string{"Male", "Male", "Male", "Male", "Female"}, "Female"},
		{"below one fifth keeps majority", []string{"Male", "Male", "Male", "Male", "Male", "Female"}, "Male"},
		{"female majority with male minority", []string{"Female", "Female", "Male"}, "Male"},
		{"unknown readings ignored", []string{"Male", "Unknown", "Unknown", "Unknown", "Unknown", "Male"}, "Male"},
		{"even split takes the runner-up", []string{"Female", "Male"}, "Male"},
		{"all unknown", []string{"Unknown", "Unknown"}, "Unknown"},
		{"empty", nil, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VoteGender(tt.samples); got != tt.want {
				t.Errorf("VoteGender(%v) = %q, want %q", tt.samples, got, tt.want)
			}
		})
	}
}

func TestModeLabel(t *testing.T) {
	tests := []struct {
		samples []string
		want    string
	}{
		{[]string{"Happy", "Sad", "Happy"}, "Happy"},
		{[]string{"Sad", "Happy"}, "Sad"},
		{[]string{"Unknown", "Unknown", "Neutral"}, "Neutral"},
		{nil, "Unknown"},
	}
	for _, tt := range tests {
		if got := ModeLabel(tt.samples); got != tt.want {
			t.Errorf("ModeLabel(%v) = %q, want %q", tt.samples, got, tt.want)
		}
	}
}

func TestMinAge(t *testing.T) {
	if got := MinAge([]int{34, -1, 29, 40}); got != 29 {
		t.Errorf("MinAge = %d, want 29", got)
	}
	if got := MinAge([]int{-1, -1}); got != -1 {
		t.Errorf("MinAge of sentinels = %d, want -1", got)
	}
}

func TestMeanSimilarity(t *testing.T) {
	if got := MeanSimilarity([]float32{0.6, 0.6, 0.6}); got != 0.6 {
		t.Errorf("MeanSimilarity = %v, want 0.6", got)
	}
	if got := MeanSimilarity([]float32{0.5, 0.555}); got != 0.53 {
		t.Errorf("MeanSimilarity = %v, want 0.53", got)
	}
	if got := MeanSimilarity(nil); got != 0 {
		t.Errorf("MeanSimilarity(nil) = %v", got)
	}
}

func TestToRecord(t *testing.T) {
	start := time.Unix(1700000000, 0)
	ev := &AggregatedEvent{
		IdentityKey:  "7",
		Label:        "Ada Lovelace",
		CameraName:   "lobby",
		Known:        true,
		WindowStart:  start,
		ImagePath:    "known/Ada_Lovelace/x.jpg",
		Similarities: []float32{0.61, 0.63},
		Emotions:     []string{"Neutral", "Happy", "Happy"},
		Genders:      []string{"Female", "Female"},
		Ages:         []int{33, 31},
	}
	rec := ev.ToRecord()
	if rec.Timestamp != start.Unix() || rec.Similarity != 0.62 || rec.Emotion != "Happy" ||
		rec.Gender != "Female" || rec.Age != 31 || rec.SampleCount != 2 || !rec.Known {
		t.Errorf("unexpected record %+v", rec)
	}
}
