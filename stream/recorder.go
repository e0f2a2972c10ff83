package stream

import (
	"fmt"

	"gocv.io/x/gocv"
)

// RecordCodec is the fourcc used for raw recordings before transcoding
const RecordCodec = "MJPG"

// Recorder receives annotated frames for a recording file
type Recorder interface {
	Write(frame gocv.Mat) error
	Close() error
}

// RecorderFactory creates a recorder sized to the first frame it will receive
type RecorderFactory func(path string, fps float64, width, height int) (Recorder, error)

var _ Recorder = (*gocv.VideoWriter)(nil)

func OpenVideoWriter(path string, fps float64, width, height int) (Recorder, error) {
	vw, err := gocv.VideoWriterFile(path, RecordCodec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("open video writer %s: %w", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("open video writer %s: not opened", path)
	}
	return vw, nil
}
