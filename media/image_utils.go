package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// EncodeJPEG returns an owned copy of the JPEG-encoded frame
func EncodeJPEG(frame gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()

	src := buf.GetBytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

// ImageToMat converts a decoded image into a BGR Mat through a lossless PNG round trip
func ImageToMat(img image.Image) (gocv.Mat, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return gocv.NewMat(), fmt.Errorf("encode image: %w", err)
	}
	mat, err := gocv.IMDecode(buf.Bytes(), gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode image: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("decode image: empty result")
	}
	return mat, nil
}

// CropImage returns the face region as an image.Image detached from the frame
func CropImage(frame gocv.Mat, box image.Rectangle) (image.Image, error) {
	crop, err := CropFace(frame, box, 1.0)
	if err != nil {
		return nil, err
	}
	defer crop.Close()
	return crop.ToImage()
}
