package stream

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"gocv.io/x/gocv"

	"github.com/camden-git/facewatch/media"
	"github.com/camden-git/facewatch/recognition"
)

var (
	knownColor   = color.RGBA{R: 0, G: 200, B: 0, A: 0}
	unknownColor = color.RGBA{R: 220, G: 0, B: 0, A: 0}
)

// DrawResults annotates frame in place with one box and caption per face
func DrawResults(frame *gocv.Mat, results []recognition.Result) {
	for _, res := range results {
		c := unknownColor
		if res.Known {
			c = knownColor
		}
		gocv.Rectangle(frame, res.Box, c, 2)

		y := res.Box.Min.Y - 8
		if y < 14 {
			y = res.Box.Max.Y + 18
		}
		gocv.PutText(frame, Caption(res), image.Pt(res.Box.Min.X, y), gocv.FontHersheySimplex, 0.5, c, 1)
	}
}

// Caption is the overlay text for one face. Attributes at their sentinel
// values are left out.
func Caption(res recognition.Result) string {
	label := res.Label
	if label == "" {
		label = recognition.ProvisionalKey
	}
	parts := []string{fmt.Sprintf("%s %.2f", label, res.Similarity)}
	if res.Emotion != "" && res.Emotion != media.EmotionUnknown {
		parts = append(parts, res.Emotion)
	}
	if res.Gender != "" && res.Gender != media.GenderUnknown {
		parts = append(parts, res.Gender)
	}
	if res.Age >= 0 {
		parts = append(parts, fmt.Sprintf("%d", res.Age))
	}
	return strings.Join(parts, " | ")
}
