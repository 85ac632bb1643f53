package vision

import (
	"errors"
	"time"

	"gocv.io/x/gocv"
)

// MotionView is the motion display variant: it keeps a running-average
// background of the preprocessed frames, diffs each new frame against it and
// shows the raw frame augmented with the resulting motion contours in its own
// window. Stateful; must be driven by a single worker.
type MotionView struct {
	viewer *Viewer
	avg    gocv.Mat
	prev   time.Time
}

func NewMotionView(title string) *MotionView {
	return &MotionView{viewer: NewViewer(title), avg: gocv.NewMat()}
}

// Show blends pre into the background, extracts the motion contours and
// renders them over a copy of input.
func (m *MotionView) Show(input, pre gocv.Mat) error {
	if input.Empty() || pre.Empty() {
		return errors.New("MotionView: empty frame")
	}

	alpha, now := Alpha(m.prev)
	m.prev = now
	if m.avg.Empty() {
		m.avg = pre.Clone()
	} else {
		gocv.AddWeighted(m.avg, 1.0-alpha, pre, alpha, 0, &m.avg)
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(pre, m.avg, &diff)

	out := input.Clone()
	defer out.Close()
	if err := AugmentContours(diff, &out); err != nil {
		return err
	}
	return m.viewer.Show(out)
}

func (m *MotionView) Close() error {
	if err := m.avg.Close(); err != nil {
		return err
	}
	return m.viewer.Close()
}
