package stream

import (
	"context"
	"fmt"
	"io"
)

const (
	Boundary = "frame"
	// ContentType is the response header for a multipart JPEG stream
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
)

// WriteFrame writes one boundary-delimited JPEG part
func WriteFrame(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// WriteMultipart copies frames to w until the channel closes, ctx ends or a
// write fails. flush, when set, is called after every part.
func WriteMultipart(ctx context.Context, w io.Writer, frames <-chan []byte, flush func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case jpeg, ok := <-frames:
			if !ok {
				return nil
			}
			if err := WriteFrame(w, jpeg); err != nil {
				return err
			}
			if flush != nil {
				flush()
			}
		}
	}
}
