package media

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

const ArcFaceInputSize = 112

// reference landmark positions for a 112x112 ArcFace crop
var arcFaceTemplate = []gocv.Point2f{
	{X: 38.2946, Y: 51.6963},
	{X: 73.5318, Y: 51.5014},
	{X: 56.0252, Y: 71.7366},
	{X: 41.5493, Y: 92.3655},
	{X: 70.7299, Y: 92.2041},
}

// AlignFace warps the detected face onto the ArcFace landmark template. Without
// five landmarks it falls back to a plain crop and resize. Caller closes the result.
func AlignFace(frame gocv.Mat, det FaceDetection) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("align: empty frame")
	}
	if len(det.Landmarks) != len(arcFaceTemplate) {
		return resizedCrop(frame, det.Box, 1.0, ArcFaceInputSize)
	}

	src := make([]gocv.Point2f, len(det.Landmarks))
	for i, p := range det.Landmarks {
		src[i] = gocv.Point2f{X: p.X, Y: p.Y}
	}
	from := gocv.NewPoint2fVectorFromPoints(src)
	defer from.Close()
	to := gocv.NewPoint2fVectorFromPoints(arcFaceTemplate)
	defer to.Close()

	m := gocv.EstimateAffinePartial2D(from, to)
	defer m.Close()
	if m.Empty() {
		return resizedCrop(frame, det.Box, 1.0, ArcFaceInputSize)
	}

	aligned := gocv.NewMat()
	gocv.WarpAffine(frame, &aligned, m, image.Pt(ArcFaceInputSize, ArcFaceInputSize))
	if aligned.Empty() {
		aligned.Close()
		return gocv.NewMat(), fmt.Errorf("align: warp produced empty image")
	}
	return aligned, nil
}

// ExpandBox scales a box around its center and clamps it to bounds
func ExpandBox(box image.Rectangle, scale float64, bounds image.Rectangle) image.Rectangle {
	cx := float64(box.Min.X+box.Max.X) / 2
	cy := float64(box.Min.Y+box.Max.Y) / 2
	halfW := float64(box.Dx()) * scale / 2
	halfH := float64(box.Dy()) * scale / 2
	r := image.Rect(int(cx-halfW), int(cy-halfH), int(cx+halfW), int(cy+halfH))
	return r.Intersect(bounds)
}

// CropFace returns an owned copy of the (optionally expanded) face region.
func CropFace(frame gocv.Mat, box image.Rectangle, scale float64) (gocv.Mat, error) {
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	r := ExpandBox(box, scale, bounds)
	if r.Empty() {
		return gocv.NewMat(), fmt.Errorf("crop: box %v outside frame %v", box, bounds)
	}
	region := frame.Region(r)
	defer region.Close()
	return region.Clone(), nil
}

func resizedCrop(frame gocv.Mat, box image.Rectangle, scale float64, size int) (gocv.Mat, error) {
	crop, err := CropFace(frame, box, scale)
	if err != nil {
		return crop, err
	}
	defer crop.Close()

	resized := gocv.NewMat()
	gocv.Resize(crop, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationLinear)
	return resized, nil
}
