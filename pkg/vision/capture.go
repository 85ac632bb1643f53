// Package vision wraps the OpenCV collaborators the pipeline consumes through
// narrow contracts: device capture, raster preprocessing, cascade
// classification, annotation and on-screen display.
package vision

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Capture produces raw frames from a video device on demand.
type Capture struct {
	vc *gocv.VideoCapture
}

// OpenCapture opens the numbered capture device and configures its frame
// size. Inability to open the device is fatal to the process; the caller
// decides that.
func OpenCapture(device, width, height int) (*Capture, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("OpenCapture: could not open device %d, got '%w'", device, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	return &Capture{vc: vc}, nil
}

// Read grabs the next frame into dst. Returns false on a failed grab or an
// empty frame; the capture loop skips those.
func (c *Capture) Read(dst *gocv.Mat) bool {
	if !c.vc.Read(dst) {
		return false
	}
	return !dst.Empty()
}

func (c *Capture) Close() error {
	return c.vc.Close()
}
