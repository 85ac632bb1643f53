package vision

import (
	"image"

	"github.com/chen-vision/facewatch/pkg/frame"
	"gocv.io/x/gocv"
)

// DrawRects annotates img in place with the given rectangles, each in its
// variant color with the variant tag printed above the box.
func DrawRects(img *gocv.Mat, rects []frame.Rect) {
	for _, r := range rects {
		box := image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
		gocv.Rectangle(img, box, r.Color, 2)
		if r.Tag != "" {
			org := image.Pt(box.Min.X, box.Min.Y-5)
			gocv.PutText(img, r.Tag, org, gocv.FontHersheyPlain, 1, r.Color, 2)
		}
	}
}
