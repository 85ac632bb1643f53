package mpipe

import (
	"log"
	"sync"
)

// Node is a linkable unit of the stage graph: a Stage or a FilterStage.
// A node expects a single upstream feeder (the pipeline entry or one linked
// upstream node); fan-in is not supported.
type Node interface {
	// Link attaches a downstream node; every result emitted by this node
	// becomes a task for n. Must be called before the node joins a Pipeline.
	Link(n Node)

	accept(e envelope)
	run()
	linked() []Node
	openOut() <-chan Task
}

// Stage wraps a pool of workers executing one DoFunc.
//
// In ordered mode results are emitted in submission order regardless of which
// worker finishes first. In unordered mode results are emitted in completion
// order. Either way the stage forwards exactly one stop sentinel downstream
// after draining its in-flight work.
type Stage struct {
	name    string
	workers int
	ordered bool
	do      DoFunc

	in      chan envelope
	next    []Node
	out     chan Task
	started bool
}

// NewOrderedStage creates a stage whose output order equals its input order.
func NewOrderedStage(name string, workers int, do DoFunc) *Stage {
	return newStage(name, workers, do, true)
}

// NewUnorderedStage creates a stage that emits results as soon as any worker
// finishes, in completion order.
func NewUnorderedStage(name string, workers int, do DoFunc) *Stage {
	return newStage(name, workers, do, false)
}

func newStage(name string, workers int, do DoFunc, ordered bool) *Stage {
	if workers < 1 {
		workers = 1
	}
	return &Stage{
		name:    name,
		workers: workers,
		ordered: ordered,
		do:      do,
		in:      make(chan envelope, queueDepth),
	}
}

func (s *Stage) Link(n Node) {
	if s.started {
		panic("mpipe: Link after pipeline start on stage '" + s.name + "'")
	}
	s.next = append(s.next, n)
}

func (s *Stage) accept(e envelope) { s.in <- e }

func (s *Stage) linked() []Node { return s.next }

func (s *Stage) openOut() <-chan Task {
	s.out = make(chan Task, queueDepth)
	return s.out
}

func (s *Stage) run() {
	if s.started {
		panic("mpipe: stage '" + s.name + "' joined two pipelines")
	}
	s.started = true
	if s.ordered {
		go s.runOrdered()
	} else {
		go s.runUnordered()
	}
}

// job pairs a task with the slot its emission must be delivered to.
type job struct {
	task Task
	done chan emission
}

// runOrdered dispatches tasks to the worker pool while queueing one emission
// slot per task in FIFO order. The emitter waits on each slot in turn, so a
// worker that finishes task k+1 early cannot emit before task k.
func (s *Stage) runOrdered() {
	work := make(chan job)
	order := make(chan chan emission, queueDepth)

	for i := 0; i < s.workers; i++ {
		go s.worker(work)
	}

	go func() {
		for done := range order {
			e := <-done
			if e.ok {
				s.emit(e.task)
			}
		}
		s.finish()
	}()

	for {
		env := <-s.in
		if env.stop {
			break
		}
		done := make(chan emission, 1)
		order <- done
		work <- job{task: env.task, done: done}
	}
	close(work)
	close(order)
}

// runUnordered lets workers push straight to a shared result channel; a single
// forwarder serializes emission downstream.
func (s *Stage) runUnordered() {
	work := make(chan Task)
	results := make(chan emission, queueDepth)

	var wg sync.WaitGroup
	wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go func() {
			defer wg.Done()
			for t := range work {
				res, err := s.do(t)
				if err != nil {
					log.Printf("mpipe: stage '%s': dropped task %d, got '%v'", s.name, t.Stamp.UnixNano(), err)
					continue
				}
				results <- emission{task: res, ok: true}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	go func() {
		for e := range results {
			s.emit(e.task)
		}
		s.finish()
	}()

	for {
		env := <-s.in
		if env.stop {
			break
		}
		work <- env.task
	}
	close(work)
}

func (s *Stage) worker(work <-chan job) {
	for j := range work {
		res, err := s.do(j.task)
		if err != nil {
			log.Printf("mpipe: stage '%s': dropped task %d, got '%v'", s.name, j.task.Stamp.UnixNano(), err)
			j.done <- emission{}
			continue
		}
		j.done <- emission{task: res, ok: true}
	}
}

func (s *Stage) emit(t Task) {
	for _, n := range s.next {
		n.accept(envelope{task: t})
	}
	if s.out != nil {
		s.out <- t
	}
}

func (s *Stage) finish() {
	for _, n := range s.next {
		n.accept(envelope{stop: true})
	}
	if s.out != nil {
		close(s.out)
	}
}
