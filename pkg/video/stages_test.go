package video

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/chen-vision/facewatch/pkg/frame"
	"github.com/chen-vision/facewatch/pkg/mpipe"
	"github.com/chen-vision/facewatch/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeWith(t *testing.T, stamps ...time.Time) *frame.Store {
	t.Helper()
	s := frame.NewStore()
	for _, stamp := range stamps {
		require.NoError(t, s.Put(stamp, &frame.Record{}))
	}
	return s
}

func groups(sets ...[]frame.Rect) interface{} {
	g := make([]interface{}, 0, len(sets))
	for _, s := range sets {
		g = append(g, s)
	}
	return g
}

func TestPostprocessorCarriesForwardPreviousRects(t *testing.T) {
	base := time.Now()
	stamps := []time.Time{base, base.Add(1), base.Add(2), base.Add(3)}
	store := storeWith(t, stamps...)

	rectsA := []frame.Rect{{X: 1, Y: 2, W: 3, H: 4, Tag: "a"}}
	rectsB := []frame.Rect{{X: 5, Y: 6, W: 7, H: 8, Tag: "b"}}
	inputs := []interface{}{
		groups(rectsA),
		groups(nil),
		groups(nil),
		groups(rectsB),
	}
	want := [][]frame.Rect{rectsA, rectsA, rectsA, rectsB}

	p := &Postprocessor{Store: store}
	for i, stamp := range stamps {
		res, err := p.Do(mpipe.Task{Stamp: stamp, Value: inputs[i]})
		require.NoError(t, err)
		assert.True(t, res.Stamp.Equal(stamp))

		rec, err := store.Get(stamp)
		require.NoError(t, err)
		assert.Equal(t, want[i], rec.Rects, "frame %d", i)
	}
}

func TestPostprocessorFlattensVariantResults(t *testing.T) {
	stamp := time.Now()
	store := storeWith(t, stamp)

	one := []frame.Rect{{X: 1, Tag: "face"}}
	two := []frame.Rect{{X: 2, Tag: "profile"}, {X: 3, Tag: "profile"}}

	drawn := 0
	p := &Postprocessor{
		Store: store,
		Draw: func(rec *frame.Record, rects []frame.Rect) error {
			drawn = len(rects)
			return nil
		},
	}
	_, err := p.Do(mpipe.Task{Stamp: stamp, Value: groups(one, two)})
	require.NoError(t, err)

	rec, err := store.Get(stamp)
	require.NoError(t, err)
	assert.Len(t, rec.Rects, 3)
	assert.Equal(t, 3, drawn)
}

func TestPostprocessorDrawFailureIsNotFatal(t *testing.T) {
	stamp := time.Now()
	store := storeWith(t, stamp)

	p := &Postprocessor{
		Store: store,
		Draw: func(rec *frame.Record, rects []frame.Rect) error {
			return errors.New("render broke")
		},
	}
	res, err := p.Do(mpipe.Task{Stamp: stamp, Value: groups([]frame.Rect{{X: 1}})})
	require.NoError(t, err)
	assert.True(t, res.Stamp.Equal(stamp))
}

func TestDetectorFailureContributesEmptySet(t *testing.T) {
	stamp := time.Now()
	store := storeWith(t, stamp)

	d := &Detector{
		Name:  "flaky",
		Store: store,
		Detect: func(rec *frame.Record) ([]frame.Rect, error) {
			return nil, errors.New("classifier broke")
		},
	}
	res, err := d.Do(mpipe.Task{Stamp: stamp})
	require.NoError(t, err, "a failed detection must not abort the worker pool")
	assert.Empty(t, res.Value)
	assert.True(t, res.Stamp.Equal(stamp))
}

func TestStageLookupPanicsOnMissingRecord(t *testing.T) {
	d := &Detector{
		Name:  "any",
		Store: frame.NewStore(),
		Detect: func(rec *frame.Record) ([]frame.Rect, error) {
			return nil, nil
		},
	}
	assert.Panics(t, func() {
		d.Do(mpipe.Task{Stamp: time.Now()})
	}, "a store miss means the frame lifecycle broke")
}

func TestStallerHoldsYoungTasks(t *testing.T) {
	s := &Staller{MinAge: 200 * time.Millisecond}

	stamp := time.Now()
	start := time.Now()
	res, err := s.Do(mpipe.Task{Stamp: stamp})
	require.NoError(t, err)
	assert.True(t, res.Stamp.Equal(stamp))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond,
		"a fresh task must be withheld until it reaches the minimum age")
}

func TestStallerForwardsAgedTasksImmediately(t *testing.T) {
	s := &Staller{MinAge: 200 * time.Millisecond}

	start := time.Now()
	_, err := s.Do(mpipe.Task{Stamp: time.Now().Add(-time.Second)})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"an already-aged task must not be delayed")
}

func TestPrinterFormatsOneLinePerFrame(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{
		Ticker: utils.NewRateTicker(time.Second, 5*time.Second, 10*time.Second),
		Out:    &buf,
	}

	_, err := p.Do(mpipe.Task{Stamp: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, "1.000, 0.200, 0.100\n", buf.String())
	assert.InDeltaSlice(t, []float64{1.0, 0.2, 0.1}, p.Rates(), 1e-9)
}
