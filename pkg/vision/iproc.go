package vision

import (
	"errors"
	"image"
	"image/color"
	"sort"
	"time"

	"gocv.io/x/gocv"
)

var (
	contourColor = color.RGBA{R: 255, G: 255, B: 0, A: 0} // yellow
	boxColor     = color.RGBA{R: 0, G: 255, B: 0, A: 0}   // green
)

// Preprocess writes the equalized grayscale version of src into dst,
// allocating dst on first use.
func Preprocess(src gocv.Mat, dst *gocv.Mat) error {
	if src.Empty() {
		return errors.New("Preprocess: empty input image")
	}
	gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
	gocv.EqualizeHist(*dst, dst)
	return nil
}

// Alpha returns an accumulation weight derived from the time elapsed since
// prev, halved, plus the new reference instant. Used to blend a frame into a
// running-average background. The first call (zero prev) weighs fully.
func Alpha(prev time.Time) (float64, time.Time) {
	now := time.Now()
	alpha := 1.0
	if !prev.IsZero() {
		alpha = now.Sub(prev).Seconds() * 0.5
	}
	if alpha > 1.0 {
		alpha = 1.0
	}
	return alpha, now
}

// AugmentContours thresholds the given difference image, extracts its
// external contours, filters them by an area threshold scaled to the image
// resolution and draws the survivors and their bounding boxes onto out.
func AugmentContours(diff gocv.Mat, out *gocv.Mat) error {
	if diff.Empty() {
		return errors.New("AugmentContours: empty difference image")
	}

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, 35, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()

	areaThreshold := float64(thresh.Rows()*thresh.Cols()) * 0.000025

	idx := make([]int, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool {
		return gocv.ContourArea(contours.At(idx[a])) > gocv.ContourArea(contours.At(idx[b]))
	})

	filtered := make([]int, 0, len(idx))
	for _, i := range idx {
		// Sorted descending, so everything after the first miss is below
		// the threshold too.
		if gocv.ContourArea(contours.At(i)) < areaThreshold {
			break
		}
		filtered = append(filtered, i)
	}

	for _, i := range filtered {
		gocv.DrawContours(out, contours, i, contourColor, 1)
		r := gocv.BoundingRect(contours.At(i))
		gocv.Rectangle(out, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Max.Y), boxColor, 1)
	}
	return nil
}
