package mpipe

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stamps(n int) []time.Time {
	base := time.Now()
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.Add(time.Duration(i) * time.Millisecond)
	}
	return out
}

func TestOrderedStagePreservesOrder(t *testing.T) {
	stage := NewOrderedStage("jitter", 4, func(task Task) (Task, error) {
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		return task, nil
	})
	p := NewPipeline(stage)

	in := stamps(50)
	go func() {
		for _, s := range in {
			p.Put(Task{Stamp: s})
		}
		p.Close()
	}()

	var out []time.Time
	for res := range p.Results() {
		out = append(out, res.Stamp)
	}
	require.Len(t, out, len(in))
	for i := range in {
		assert.True(t, out[i].Equal(in[i]), "position %d emitted out of order", i)
	}
}

func TestUnorderedStageNoLossNoDuplication(t *testing.T) {
	stage := NewUnorderedStage("jitter", 4, func(task Task) (Task, error) {
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		return task, nil
	})
	p := NewPipeline(stage)

	in := stamps(50)
	go func() {
		for _, s := range in {
			p.Put(Task{Stamp: s})
		}
		p.Close()
	}()

	got := make(map[int64]int)
	for res := range p.Results() {
		got[res.Stamp.UnixNano()]++
	}
	require.Len(t, got, len(in))
	for _, s := range in {
		assert.Equal(t, 1, got[s.UnixNano()], "task %d lost or duplicated", s.UnixNano())
	}
}

func TestFailedTaskIsDroppedNotFatal(t *testing.T) {
	in := stamps(10)
	poison := in[4]
	stage := NewOrderedStage("flaky", 2, func(task Task) (Task, error) {
		if task.Stamp.Equal(poison) {
			return Task{}, errors.New("boom")
		}
		return task, nil
	})
	p := NewPipeline(stage)

	go func() {
		for _, s := range in {
			p.Put(Task{Stamp: s})
		}
		p.Close()
	}()

	var out []time.Time
	for res := range p.Results() {
		out = append(out, res.Stamp)
	}
	require.Len(t, out, len(in)-1)
	want := append(append([]time.Time{}, in[:4]...), in[5:]...)
	for i := range want {
		assert.True(t, out[i].Equal(want[i]), "position %d emitted out of order", i)
	}
}

func TestLinkedStagesForwardAndTerminate(t *testing.T) {
	a := NewOrderedStage("a", 2, func(task Task) (Task, error) { return task, nil })
	b := NewOrderedStage("b", 2, func(task Task) (Task, error) { return task, nil })
	c := NewOrderedStage("c", 1, func(task Task) (Task, error) { return task, nil })
	a.Link(b)
	b.Link(c)
	p := NewPipeline(a)

	in := stamps(20)
	go func() {
		for _, s := range in {
			p.Put(Task{Stamp: s})
		}
		p.Close()
	}()

	var out []time.Time
	for res := range p.Results() {
		out = append(out, res.Stamp)
	}
	require.Len(t, out, len(in), "results must terminate after the sentinel drains the chain")
}

func TestFanOutFeedsEverySideSink(t *testing.T) {
	var mu sync.Mutex
	var side []time.Time

	a := NewOrderedStage("a", 1, func(task Task) (Task, error) { return task, nil })
	main := NewOrderedStage("main", 1, func(task Task) (Task, error) { return task, nil })
	sink := NewOrderedStage("sink", 1, func(task Task) (Task, error) {
		mu.Lock()
		side = append(side, task.Stamp)
		mu.Unlock()
		return task, nil
	})
	a.Link(main) // first link: terminal chain
	a.Link(sink)
	p := NewPipeline(a)

	in := stamps(15)
	go func() {
		for _, s := range in {
			p.Put(Task{Stamp: s})
		}
		p.Close()
	}()

	var out []time.Time
	for res := range p.Results() {
		out = append(out, res.Stamp)
	}
	require.Len(t, out, len(in))

	// The side sink saw every task too; give its worker a beat to drain.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(side) == len(in)
	}, time.Second, 10*time.Millisecond)
}

func TestSentinelTerminatesIdlePipeline(t *testing.T) {
	stage := NewOrderedStage("idle", 3, func(task Task) (Task, error) { return task, nil })
	p := NewPipeline(stage)
	p.Close()

	select {
	case _, open := <-p.Results():
		assert.False(t, open, "results must close without any input")
	case <-time.After(time.Second):
		t.Fatal("results did not terminate after the sentinel")
	}
}
