package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

var ErrSourceUnavailable = errors.New("video source unavailable")

// Capture is a continuous frame source. Read returns false once the source is
// exhausted or broken.
type Capture interface {
	Read(frame *gocv.Mat) bool
	Close() error
}

// CaptureOpener opens a video source by URL, file path or device index
type CaptureOpener func(source string) (Capture, error)

var _ Capture = (*gocv.VideoCapture)(nil)

// OpenCapture opens a gocv capture. A source that parses as an integer is a
// local device index; anything else is handed to OpenCV as a URL or path.
func OpenCapture(source string) (Capture, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrSourceUnavailable)
	}

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if idx, convErr := strconv.Atoi(source); convErr == nil {
		vc, err = gocv.OpenVideoCapture(idx)
	} else {
		vc, err = gocv.OpenVideoCapture(source)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s: not opened", ErrSourceUnavailable, source)
	}
	return vc, nil
}
