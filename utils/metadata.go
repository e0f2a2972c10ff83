package utils

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// PhotoMetadata is what enrollment needs to know about a reference photo
type PhotoMetadata struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Format      string `json:"format"`
	Orientation int    `json:"orientation"` // EXIF 1-8, 1 when absent
	TakenAt     *int64 `json:"taken_at,omitempty"`
}

// helper to safely get an integer tag
func getInt(exifData *exif.Exif, tagName exif.FieldName) (int, bool) {
	tag, err := exifData.Get(tagName)
	if err != nil || tag == nil {
		return 0, false
	}
	val, err := tag.Int(0)
	if err != nil {
		return 0, false
	}
	return val, true
}

// ReadPhotoMetadata reads dimensions and EXIF fields from an encoded photo.
// Missing EXIF is not an error.
func ReadPhotoMetadata(data []byte) (*PhotoMetadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("metadata: failed to decode image config: %w", err)
	}
	meta := &PhotoMetadata{Width: cfg.Width, Height: cfg.Height, Format: format, Orientation: 1}

	exifData, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		// most directory photos are stripped PNG/JPEG without EXIF
		return meta, nil
	}
	if o, ok := getInt(exifData, exif.Orientation); ok && o >= 1 && o <= 8 {
		meta.Orientation = o
	}
	if dt, err := exifData.DateTime(); err == nil {
		ts := dt.Unix()
		meta.TakenAt = &ts
	}
	return meta, nil
}

// DecodePhoto decodes an encoded photo and rotates it upright according to
// its EXIF orientation.
func DecodePhoto(data []byte) (image.Image, *PhotoMetadata, error) {
	meta, err := ReadPhotoMetadata(data)
	if err != nil {
		return nil, nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("metadata: failed to decode image: %w", err)
	}
	if meta.Orientation != 1 {
		log.Printf("metadata: applying EXIF orientation %d", meta.Orientation)
	}
	return ApplyOrientation(img, meta.Orientation), meta, nil
}

// ApplyOrientation maps an EXIF orientation value onto imaging transforms
func ApplyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
