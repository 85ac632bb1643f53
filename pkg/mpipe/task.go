// Package mpipe turns a capture loop into a graph of worker stages: ordered
// or unordered stages linked into pipelines, plus a bounded fan-out filter
// over parallel member pipelines. Tasks carry a frame timestamp end to end;
// a reserved stop sentinel drains and terminates the graph deterministically.
package mpipe

import "time"

// Task is the unit of work flowing through a pipeline. Stamp is the ordering
// key (the frame's capture timestamp) and must be propagated by every stage so
// downstream stages can still address per-frame state. Value is a
// stage-specific payload, e.g. the rectangles produced by a detector.
type Task struct {
	Stamp time.Time
	Value interface{}
}

// DoFunc processes one task and returns its result. A non-nil error discards
// this task's contribution: the stage logs it and emits nothing for it, but
// keeps its worker pool running.
type DoFunc func(Task) (Task, error)

// envelope carries either a task or the stop sentinel through a node's input
// channel. The sentinel means "no more input": the node drains in-flight work,
// forwards exactly one sentinel downstream and terminates.
type envelope struct {
	task Task
	stop bool
}

// emission is the outcome of one DoFunc call. ok is false when the task was
// dropped and nothing should be emitted for it.
type emission struct {
	task Task
	ok   bool
}

// queueDepth bounds every node's input and result channels. Together with the
// capture loop this caps how many frames can be in flight at once.
const queueDepth = 128
