package mpipe

// Pipeline composes a graph of linked nodes into one addressable unit. Tasks
// enter at the entry node; Results is the lazy, blocking output sequence of
// the terminal node. The terminal node is the leaf reached by following first
// links from the entry; other leaves run for their side effects only and
// their emissions are discarded.
type Pipeline struct {
	entry Node
	out   <-chan Task
}

// NewPipeline activates every node reachable from entry and starts their
// worker pools. The graph must be fully linked before this call.
func NewPipeline(entry Node) *Pipeline {
	p := &Pipeline{entry: entry}

	seen := make(map[Node]bool)
	var walk func(Node)
	walk = func(n Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, d := range n.linked() {
			walk(d)
		}
	}
	walk(entry)

	term := entry
	for len(term.linked()) > 0 {
		term = term.linked()[0]
	}
	p.out = term.openOut()

	for n := range seen {
		n.run()
	}
	return p
}

// Put feeds one task to the entry node. Blocks when the entry queue is full,
// which is what bounds the number of frames in flight.
func (p *Pipeline) Put(t Task) {
	p.entry.accept(envelope{task: t})
}

// Close injects the stop sentinel. Every node drains its in-flight work and
// forwards the sentinel exactly once; Results terminates after the terminal
// node has drained. Put must not be called after Close.
func (p *Pipeline) Close() {
	p.entry.accept(envelope{stop: true})
}

// Results returns the terminal node's output sequence. The channel is closed
// once the sentinel has propagated through the whole graph.
func (p *Pipeline) Results() <-chan Task {
	return p.out
}
