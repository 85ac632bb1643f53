package vision

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/chen-vision/facewatch/pkg/frame"
	"gocv.io/x/gocv"
)

// Classifier is the opaque detection capability a detector stage runs:
// input buffer in, set of rectangles out. Implementations are configured per
// variant and are independent of each other.
type Classifier interface {
	Detect(img gocv.Mat) ([]frame.Rect, error)
	Close() error
}

// CascadeDetector runs one Haar cascade with a fixed display tag and color.
type CascadeDetector struct {
	cc    gocv.CascadeClassifier
	tag   string
	color color.RGBA
}

// NewCascadeDetector loads the cascade description from file. The tag and
// color travel with every rectangle the detector produces.
func NewCascadeDetector(file, tag string, c color.RGBA) (*CascadeDetector, error) {
	cc := gocv.NewCascadeClassifier()
	if !cc.Load(file) {
		cc.Close()
		return nil, fmt.Errorf("NewCascadeDetector: could not load cascade file '%s'", file)
	}
	return &CascadeDetector{cc: cc, tag: tag, color: c}, nil
}

// Detect runs the cascade over the preprocessed image. Detection windows are
// bounded between a twentieth and a half of the image size. An empty result
// is valid; it means nothing was found.
func (d *CascadeDetector) Detect(img gocv.Mat) ([]frame.Rect, error) {
	if img.Empty() {
		return nil, errors.New("CascadeDetector: empty input image")
	}
	minSize := image.Pt(img.Cols()/20, img.Rows()/20)
	maxSize := image.Pt(img.Cols()/2, img.Rows()/2)
	found := d.cc.DetectMultiScaleWithParams(img, 1.3, 3, 0, minSize, maxSize)

	rects := make([]frame.Rect, 0, len(found))
	for _, r := range found {
		rects = append(rects, frame.Rect{
			X:     r.Min.X,
			Y:     r.Min.Y,
			W:     r.Dx(),
			H:     r.Dy(),
			Tag:   d.tag,
			Color: d.color,
		})
	}
	return rects, nil
}

func (d *CascadeDetector) Close() error {
	return d.cc.Close()
}
