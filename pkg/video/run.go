package video

import (
	"fmt"
	"image/color"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/chen-vision/facewatch/pkg/frame"
	"github.com/chen-vision/facewatch/pkg/mpipe"
	"github.com/chen-vision/facewatch/pkg/utils"
	"github.com/chen-vision/facewatch/pkg/vision"
	"gocv.io/x/gocv"
)

// Variant is one immutable classifier configuration: the cascade to run plus
// the tag and color its detections are displayed with. The number of variants
// determines the fan-out width of the detector filter.
type Variant struct {
	Name    string
	Cascade string
	Color   color.RGBA
}

// Config collects everything the capture run needs. Device, Width, Height and
// Duration come from the command line; the rest from the config file.
type Config struct {
	Device   int
	Width    int
	Height   int
	Duration time.Duration

	Variants       []Variant
	MaxTasks       int // outstanding tasks per detector variant
	ViewerMaxTasks int // outstanding tasks per display variant
	MinAge         time.Duration
	RateWindows    []time.Duration

	ViewerEnabled bool
	MotionEnabled bool
}

// Stats is the diagnostics snapshot served by the API while the run is live.
type Stats struct {
	Frames        uint64    `json:"frames"`
	StoreSize     int       `json:"store_size"`
	Rates         []float64 `json:"rates"`
	DetectorDrops []uint64  `json:"detector_drops"`
	DisplayDrops  []uint64  `json:"display_drops"`
}

// Runner owns the capture loop: it allocates per-frame buffers into the
// store, feeds the pipeline and drives the shutdown sequence when the
// configured duration elapses.
type Runner struct {
	cfg   Config
	store *frame.Store

	capture     *vision.Capture
	classifiers []vision.Classifier
	closers     []func() error

	pipe           *mpipe.Pipeline
	detectorPipes  []*mpipe.Pipeline
	displayPipes   []*mpipe.Pipeline
	detectorFilter *mpipe.FilterStage
	displayFilter  *mpipe.FilterStage
	printer        *Printer

	frames uint64
}

// NewRunner opens the capture device and the classifier variants and builds
// the stage graph:
//
//	            detector pipes (one per variant)       display pipes
//	                  ||                                    ||
//	 preproc --> detector filter --> postproc --+--> display filter --> staller
//	                                            |
//	                                            +--> printer
//
// The pipelines are live on return; Run starts feeding them.
func NewRunner(cfg Config) (*Runner, error) {
	if len(cfg.Variants) == 0 {
		return nil, fmt.Errorf("NewRunner: no classifier variants configured")
	}

	r := &Runner{cfg: cfg, store: frame.NewStore()}

	capture, err := vision.OpenCapture(cfg.Device, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	r.capture = capture
	r.closers = append(r.closers, capture.Close)

	// One single-worker ordered pipeline per classifier variant.
	for _, v := range cfg.Variants {
		cls, err := vision.NewCascadeDetector(v.Cascade, v.Name, v.Color)
		if err != nil {
			r.closeAll()
			return nil, err
		}
		r.classifiers = append(r.classifiers, cls)
		r.closers = append(r.closers, cls.Close)

		det := &Detector{
			Name:  v.Name,
			Store: r.store,
			Detect: func(cls vision.Classifier) func(*frame.Record) ([]frame.Rect, error) {
				return func(rec *frame.Record) ([]frame.Rect, error) {
					return cls.Detect(rec.Pre)
				}
			}(cls),
		}
		stage := mpipe.NewOrderedStage("detector-"+v.Name, 1, det.Do)
		r.detectorPipes = append(r.detectorPipes, mpipe.NewPipeline(stage))
	}

	// Display variants behind their own bounded fan-out; a slow window sheds
	// frames instead of backing up the chain.
	if cfg.ViewerEnabled {
		viewer := vision.NewViewer("face detection")
		r.closers = append(r.closers, viewer.Close)
		vs := &ViewerStage{
			Name:  "window",
			Store: r.store,
			Show: func(rec *frame.Record) error {
				return viewer.Show(rec.Input)
			},
		}
		stage := mpipe.NewOrderedStage("viewer", 1, vs.Do)
		r.displayPipes = append(r.displayPipes, mpipe.NewPipeline(stage))
	}
	if cfg.MotionEnabled {
		motion := vision.NewMotionView("motion")
		r.closers = append(r.closers, motion.Close)
		vs := &ViewerStage{
			Name:  "motion",
			Store: r.store,
			Show: func(rec *frame.Record) error {
				return motion.Show(rec.Input, rec.Pre)
			},
		}
		stage := mpipe.NewOrderedStage("motion", 1, vs.Do)
		r.displayPipes = append(r.displayPipes, mpipe.NewPipeline(stage))
	}

	prep := &Preprocessor{
		Store: r.store,
		Prep: func(rec *frame.Record) error {
			return vision.Preprocess(rec.Input, &rec.Pre)
		},
	}
	post := &Postprocessor{
		Store: r.store,
		Draw: func(rec *frame.Record, rects []frame.Rect) error {
			vision.DrawRects(&rec.Input, rects)
			return nil
		},
	}
	r.printer = &Printer{
		Ticker: utils.NewRateTicker(cfg.RateWindows...),
		Out:    os.Stdout,
	}

	preproc := mpipe.NewOrderedStage("preprocess", 1, prep.Do)
	r.detectorFilter = mpipe.NewFilterStage("detect", r.detectorPipes, cfg.MaxTasks)
	postproc := mpipe.NewOrderedStage("postprocess", 1, post.Do)
	r.displayFilter = mpipe.NewFilterStage("display", r.displayPipes, cfg.ViewerMaxTasks)
	printer := mpipe.NewOrderedStage("status", 1, r.printer.Do)
	staller := mpipe.NewOrderedStage("stall", 1, (&Staller{MinAge: cfg.MinAge}).Do)

	preproc.Link(r.detectorFilter)
	r.detectorFilter.Link(postproc)
	postproc.Link(r.displayFilter) // first link: the terminal chain
	postproc.Link(printer)
	r.displayFilter.Link(staller)

	r.pipe = mpipe.NewPipeline(preproc)
	return r, nil
}

// Run captures frames until the configured duration elapses, then performs
// the shutdown cascade: sentinel into the entry pipeline, wait for the
// reclaim drain, then stop and drain every fan-out member pipeline.
func (r *Runner) Run() error {
	defer r.closeAll()

	// Reclaim: consume the terminal result stream and destroy each frame's
	// record once nothing downstream can reference it anymore.
	reclaimed := make(chan struct{})
	go func() {
		defer close(reclaimed)
		for t := range r.pipe.Results() {
			rec, err := r.store.Get(t.Stamp)
			if err != nil {
				log.Panicf("reclaim: lifecycle broken for frame %d, got '%v'", t.Stamp.UnixNano(), err)
			}
			if err := rec.Close(); err != nil {
				log.Printf("reclaim: could not release buffers of frame %d, got '%v'", t.Stamp.UnixNano(), err)
			}
			if err := r.store.Delete(t.Stamp); err != nil {
				log.Panicf("reclaim: lifecycle broken for frame %d, got '%v'", t.Stamp.UnixNano(), err)
			}
		}
	}()

	img := gocv.NewMat()
	defer img.Close()

	deadline := time.Now().Add(r.cfg.Duration)
	for time.Now().Before(deadline) {
		now := time.Now()
		if !r.capture.Read(&img) {
			log.Printf("Run: skipped a failed capture read")
			continue
		}

		rec := &frame.Record{Input: img.Clone(), Pre: gocv.NewMat()}
		if err := r.store.Put(now, rec); err != nil {
			rec.Close()
			return fmt.Errorf("Run: could not register frame %d, got '%w'", now.UnixNano(), err)
		}
		r.pipe.Put(mpipe.Task{Stamp: now})
		atomic.AddUint64(&r.frames, 1)
	}

	// Reverse-topological shutdown: main chain first, then the fan-out
	// members nobody will feed again. Draining each member fully keeps any
	// stage from blocking forever on output no one reads.
	r.pipe.Close()
	<-reclaimed

	for _, p := range r.detectorPipes {
		p.Close()
		for range p.Results() {
		}
	}
	for _, p := range r.displayPipes {
		p.Close()
		for range p.Results() {
		}
	}
	return nil
}

// Stats snapshots the live diagnostics counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Frames:        atomic.LoadUint64(&r.frames),
		StoreSize:     r.store.Size(),
		Rates:         r.printer.Rates(),
		DetectorDrops: r.detectorFilter.Drops(),
		DisplayDrops:  r.displayFilter.Drops(),
	}
}

func (r *Runner) closeAll() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			log.Printf("Runner: close failed, got '%v'", err)
		}
	}
	r.closers = nil
}
