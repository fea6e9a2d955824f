package tsdb

import "sync"

// buffer is the ordered queue of encoded lines shared by the write path
// and the flush path. Insertion order is send order.
//
// Every method is a short critical section; none of them performs I/O.
type buffer struct {
	mu    sync.Mutex
	lines []string
	size  int
}

func newBuffer(size int) *buffer {
	return &buffer{
		lines: make([]string, 0, size),
		size:  size,
	}
}

// append adds a line at the tail and returns the new queue length.
func (b *buffer) append(line string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	return len(b.lines)
}

// drain removes and returns everything currently queued as one snapshot.
// Lines appended after drain returns belong to the next snapshot.
func (b *buffer) drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == 0 {
		return nil
	}
	snapshot := b.lines
	b.lines = make([]string, 0, b.size)
	return snapshot
}

// requeue puts an undelivered snapshot back at the head of the queue,
// ahead of anything appended while it was in flight.
func (b *buffer) requeue(snapshot []string) {
	if len(snapshot) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]string, 0, len(snapshot)+len(b.lines))
	merged = append(merged, snapshot...)
	merged = append(merged, b.lines...)
	b.lines = merged
}

// len returns the number of queued lines.
func (b *buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
