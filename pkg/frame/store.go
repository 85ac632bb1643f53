// Package frame holds the shared per-frame buffer table and the rectangle
// value type that flows between detection and display.
package frame

import (
	"errors"
	"image/color"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrNotFound is returned by Get and Delete for an unknown timestamp.
	ErrNotFound = errors.New("frame: record not found")
	// ErrDuplicateKey is returned by Put when the timestamp already has a
	// live record. Capture timestamps increase monotonically, so hitting
	// this means the frame lifecycle is broken.
	ErrDuplicateKey = errors.New("frame: duplicate timestamp")
)

// Rect is one detection rectangle plus the display tag and color of the
// classifier variant that produced it. An empty slice of Rects is a valid
// outcome, distinct from "result not yet available".
type Rect struct {
	X, Y, W, H int
	Tag        string
	Color      color.RGBA
}

// Record holds everything the pipeline accumulates for one captured frame.
// Input is written once at capture and annotated in place by the aggregator;
// Pre is written once by the preprocess stage and read by every detector
// variant; Rects is written by the aggregator and read by display variants.
// These mutations never overlap because the stage chain observes each
// timestamp in order.
type Record struct {
	Input gocv.Mat
	Pre   gocv.Mat
	Rects []Rect
}

// Close releases both buffers. The reclaim stage calls this exactly once,
// after every other stage has finished with the timestamp.
func (r *Record) Close() error {
	if err := r.Input.Close(); err != nil {
		return err
	}
	return r.Pre.Close()
}

// Store maps capture timestamps to live frame records. Safe for concurrent
// Put/Get/Delete from arbitrary stage workers; no stage owns the table, only
// the one entry keyed by the timestamp it is currently processing. There is
// no capacity bound here: the pipeline's bounded in-flight depth caps how
// many records can be live at once.
type Store struct {
	mu      sync.RWMutex
	records map[int64]*Record
}

func NewStore() *Store {
	return &Store{records: make(map[int64]*Record)}
}

// Put inserts a new record. Fails with ErrDuplicateKey if the timestamp
// already has a live record.
func (s *Store) Put(stamp time.Time, rec *Record) error {
	key := stamp.UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return ErrDuplicateKey
	}
	s.records[key] = rec
	return nil
}

// Get returns the live record for stamp or ErrNotFound.
func (s *Store) Get(stamp time.Time) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[stamp.UnixNano()]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Delete removes the record for stamp. The caller is responsible for closing
// the record's buffers; only the reclaim stage may delete.
func (s *Store) Delete(stamp time.Time) error {
	key := stamp.UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return ErrNotFound
	}
	delete(s.records, key)
	return nil
}

// Size reports how many records are live, for diagnostics and tests.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
