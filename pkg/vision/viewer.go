package vision

import (
	"errors"

	"gocv.io/x/gocv"
)

// Viewer displays annotated frames in a window. Side effect only; a failed
// render is logged by the caller and the loop continues.
type Viewer struct {
	win *gocv.Window
}

func NewViewer(title string) *Viewer {
	return &Viewer{win: gocv.NewWindow(title)}
}

// Show renders img and pumps the window event loop once.
func (v *Viewer) Show(img gocv.Mat) error {
	if img.Empty() {
		return errors.New("Viewer: empty image")
	}
	v.win.IMShow(img)
	v.win.WaitKey(1)
	return nil
}

func (v *Viewer) Close() error {
	return v.win.Close()
}
