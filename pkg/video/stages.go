// Package video wires the capture loop, the per-frame stages and the shutdown
// cascade into a running pipeline. The stages consume the OpenCV collaborators
// through narrow function contracts so their sequencing logic stays
// independent of the raster layer.
package video

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chen-vision/facewatch/pkg/frame"
	"github.com/chen-vision/facewatch/pkg/mpipe"
	"github.com/chen-vision/facewatch/pkg/utils"
)

// lookup fetches a record, treating a miss as fatal: the reclaim stage is the
// only deleter and it runs strictly after every referencing stage, so a miss
// can only mean the frame lifecycle is broken.
func lookup(store *frame.Store, stage string, stamp time.Time) *frame.Record {
	rec, err := store.Get(stamp)
	if err != nil {
		log.Panicf("%s: lifecycle broken for frame %d, got '%v'", stage, stamp.UnixNano(), err)
	}
	return rec
}

// Preprocessor writes the derived (grayscale, equalized) buffer of a frame.
type Preprocessor struct {
	Store *frame.Store
	Prep  func(rec *frame.Record) error
}

func (p *Preprocessor) Do(t mpipe.Task) (mpipe.Task, error) {
	rec := lookup(p.Store, "Preprocessor", t.Stamp)
	if err := p.Prep(rec); err != nil {
		return mpipe.Task{}, fmt.Errorf("Preprocessor: %w", err)
	}
	return mpipe.Task{Stamp: t.Stamp}, nil
}

// Detector runs one classifier variant against a frame's derived buffer.
// A failed detection is logged and contributes an empty set; the detector
// never withholds its result, since the fan-out join counts on one result per
// accepted task.
type Detector struct {
	Name   string
	Store  *frame.Store
	Detect func(rec *frame.Record) ([]frame.Rect, error)
}

func (d *Detector) Do(t mpipe.Task) (mpipe.Task, error) {
	rec := lookup(d.Store, "Detector", t.Stamp)
	rects, err := d.Detect(rec)
	if err != nil {
		log.Printf("Detector '%s': no detections for frame %d, got '%v'", d.Name, t.Stamp.UnixNano(), err)
		rects = nil
	}
	return mpipe.Task{Stamp: t.Stamp, Value: rects}, nil
}

// Postprocessor merges the per-variant detection results for a timestamp into
// one rectangle collection and draws it onto the frame's raw buffer. When the
// collection is empty it substitutes the previous frame's rectangles, so
// sporadic misses reuse the last real result instead of rendering nothing.
// Stateful; must run as an ordered stage with a single worker.
type Postprocessor struct {
	Store *frame.Store
	Draw  func(rec *frame.Record, rects []frame.Rect) error

	prev []frame.Rect
}

func (p *Postprocessor) Do(t mpipe.Task) (mpipe.Task, error) {
	var rects []frame.Rect
	if groups, ok := t.Value.([]interface{}); ok {
		for _, g := range groups {
			if rs, ok := g.([]frame.Rect); ok {
				rects = append(rects, rs...)
			}
		}
	}
	if len(rects) == 0 {
		rects = p.prev
	}
	p.prev = rects

	rec := lookup(p.Store, "Postprocessor", t.Stamp)
	rec.Rects = rects
	if p.Draw != nil {
		if err := p.Draw(rec, rects); err != nil {
			log.Printf("Postprocessor: could not draw frame %d, got '%v'", t.Stamp.UnixNano(), err)
		}
	}
	return mpipe.Task{Stamp: t.Stamp}, nil
}

// ViewerStage hands an annotated frame to a display variant. Render failures
// are logged and the loop continues; the stage still emits so the display
// fan-out join completes.
type ViewerStage struct {
	Name  string
	Store *frame.Store
	Show  func(rec *frame.Record) error
}

func (v *ViewerStage) Do(t mpipe.Task) (mpipe.Task, error) {
	rec := lookup(v.Store, "ViewerStage", t.Stamp)
	if err := v.Show(rec); err != nil {
		log.Printf("ViewerStage '%s': could not render frame %d, got '%v'", v.Name, t.Stamp.UnixNano(), err)
	}
	return mpipe.Task{Stamp: t.Stamp}, nil
}

// Staller withholds a task until its capture timestamp is at least MinAge
// old, pacing the downstream consumer independently of how fast upstream
// stages finished. In steady state this adds a constant lag, not a rate cap:
// tasks age while queued, so later frames need little or no extra sleep.
type Staller struct {
	MinAge time.Duration
}

func (s *Staller) Do(t mpipe.Task) (mpipe.Task, error) {
	if d := s.MinAge - time.Since(t.Stamp); d > 0 {
		time.Sleep(d)
	}
	return mpipe.Task{Stamp: t.Stamp}, nil
}

// Printer writes one status line per processed frame: the measured throughput
// of each monitoring window, fixed precision, comma separated. It owns the
// RateTicker; Rates exposes the last measurement to the diagnostics API.
type Printer struct {
	Ticker *utils.RateTicker
	Out    io.Writer

	mu   sync.Mutex
	last []float64
}

func (p *Printer) Do(t mpipe.Task) (mpipe.Task, error) {
	rates := p.Ticker.Tick()

	parts := make([]string, len(rates))
	for i, r := range rates {
		parts[i] = fmt.Sprintf("%05.3f", r)
	}
	fmt.Fprintln(p.Out, strings.Join(parts, ", "))

	p.mu.Lock()
	p.last = append(p.last[:0], rates...)
	p.mu.Unlock()
	return mpipe.Task{Stamp: t.Stamp}, nil
}

// Rates returns a copy of the most recent per-window measurement.
func (p *Printer) Rates() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.last...)
}
