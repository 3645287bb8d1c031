package encoder

import "sync/atomic"

// ReadyGate turns a push-style flow-control signal pair (need-data /
// enough-data) into a non-blocking readiness check. A gate starts open.
type ReadyGate struct {
	closed atomic.Bool
	flips  atomic.Int64
}

// Open marks the consumer as wanting more data.
func (g *ReadyGate) Open() {
	if g.closed.CompareAndSwap(true, false) {
		g.flips.Add(1)
	}
}

// Close marks the consumer as saturated.
func (g *ReadyGate) Close() {
	if g.closed.CompareAndSwap(false, true) {
		g.flips.Add(1)
	}
}

// Ready reports whether the next append would be accepted without waiting.
func (g *ReadyGate) Ready() bool {
	return !g.closed.Load()
}

// Flips returns how many times the gate changed state.
func (g *ReadyGate) Flips() int64 {
	return g.flips.Load()
}
