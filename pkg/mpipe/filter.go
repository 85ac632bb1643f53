package mpipe

import (
	"container/list"
	"log"
	"sync"
	"time"
)

// FilterStage fans each task out to a fixed set of member pipelines running in
// parallel, bounded by maxTasks concurrently outstanding tasks per member.
// A saturated member is skipped for that task, not waited on; the skip is
// deliberate load shedding and is counted in Drops. Results from the members
// that did accept a task are joined and forwarded downstream in input order as
// a Task whose Value is the []interface{} of member payloads. A task no member
// accepted still proceeds downstream with an empty join.
//
// Members must emit exactly one result per accepted task, otherwise the join
// slot and the member's outstanding token would leak. The stop sentinel is NOT
// forwarded into members; the orchestrator shuts members down after the main
// chain has drained, in reverse-topological order.
type FilterStage struct {
	name     string
	members  []*Pipeline
	maxTasks int

	in      chan envelope
	next    []Node
	out     chan Task
	started bool

	mu          sync.Mutex
	drained     *sync.Cond
	pending     *list.List // FIFO of *join awaiting completion
	byStamp     map[int64]*join
	outstanding []int
	drops       []uint64

	// emitMu serializes flush so joined results leave in FIFO order even when
	// several collectors complete joins concurrently.
	emitMu sync.Mutex
}

// join accumulates member results for one task. Complete when len(got)==want.
type join struct {
	stamp time.Time
	want  int
	got   []interface{}
}

// NewFilterStage builds a fan-out multiplexer over members with at most
// maxTasks outstanding tasks per member.
func NewFilterStage(name string, members []*Pipeline, maxTasks int) *FilterStage {
	if maxTasks < 1 {
		maxTasks = 1
	}
	f := &FilterStage{
		name:        name,
		members:     members,
		maxTasks:    maxTasks,
		in:          make(chan envelope, queueDepth),
		pending:     list.New(),
		byStamp:     make(map[int64]*join),
		outstanding: make([]int, len(members)),
		drops:       make([]uint64, len(members)),
	}
	f.drained = sync.NewCond(&f.mu)
	return f
}

func (f *FilterStage) Link(n Node) {
	if f.started {
		panic("mpipe: Link after pipeline start on filter '" + f.name + "'")
	}
	f.next = append(f.next, n)
}

func (f *FilterStage) accept(e envelope) { f.in <- e }

func (f *FilterStage) linked() []Node { return f.next }

func (f *FilterStage) openOut() <-chan Task {
	f.out = make(chan Task, queueDepth)
	return f.out
}

// Drops returns a snapshot of how many deliveries were skipped per member
// because the member was saturated.
func (f *FilterStage) Drops() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]uint64, len(f.drops))
	copy(cp, f.drops)
	return cp
}

func (f *FilterStage) run() {
	if f.started {
		panic("mpipe: filter '" + f.name + "' joined two pipelines")
	}
	f.started = true
	for i := range f.members {
		go f.collect(i)
	}
	go f.dispatch()
}

// dispatch admits each task to every member with a free slot and records the
// expected join size. On the sentinel it waits for every pending join to
// complete before forwarding the sentinel downstream.
func (f *FilterStage) dispatch() {
	for {
		env := <-f.in
		if env.stop {
			break
		}
		t := env.task

		j := &join{stamp: t.Stamp, got: make([]interface{}, 0, len(f.members))}
		var accepted []int
		f.mu.Lock()
		for i := range f.members {
			if f.outstanding[i] < f.maxTasks {
				f.outstanding[i]++
				j.want++
				accepted = append(accepted, i)
			} else {
				f.drops[i]++
			}
		}
		f.pending.PushBack(j)
		f.byStamp[t.Stamp.UnixNano()] = j
		f.mu.Unlock()

		for _, i := range accepted {
			f.members[i].Put(t)
		}
		if len(accepted) == 0 {
			f.flush()
		}
	}

	f.mu.Lock()
	for f.pending.Len() > 0 {
		f.drained.Wait()
	}
	f.mu.Unlock()

	for _, n := range f.next {
		n.accept(envelope{stop: true})
	}
	if f.out != nil {
		close(f.out)
	}
}

// collect consumes one member's result stream, releasing that member's slot
// and completing the matching join. Exits when the member pipeline is closed.
func (f *FilterStage) collect(i int) {
	for res := range f.members[i].Results() {
		f.mu.Lock()
		f.outstanding[i]--
		j, ok := f.byStamp[res.Stamp.UnixNano()]
		if ok {
			j.got = append(j.got, res.Value)
		}
		f.mu.Unlock()
		if !ok {
			log.Printf("mpipe: filter '%s': member %d result for unknown task %d", f.name, i, res.Stamp.UnixNano())
			continue
		}
		f.flush()
	}
}

// flush emits completed joins from the head of the FIFO. Head-of-line joins
// that still await a member hold back later ones, preserving input order.
func (f *FilterStage) flush() {
	f.emitMu.Lock()
	defer f.emitMu.Unlock()
	for {
		var t Task
		ready := false

		f.mu.Lock()
		if el := f.pending.Front(); el != nil {
			j := el.Value.(*join)
			if len(j.got) == j.want {
				f.pending.Remove(el)
				delete(f.byStamp, j.stamp.UnixNano())
				t = Task{Stamp: j.stamp, Value: j.got}
				ready = true
			}
		}
		empty := f.pending.Len() == 0
		f.mu.Unlock()

		if !ready {
			if empty {
				f.drained.Broadcast()
			}
			return
		}
		for _, n := range f.next {
			n.accept(envelope{task: t})
		}
		if f.out != nil {
			f.out <- t
		}
	}
}
