package tsdb

import (
	"reflect"
	"testing"
)

func TestBuffer_AppendAndDrain(t *testing.T) {
	b := newBuffer(4)

	if got := b.append("a"); got != 1 {
		t.Errorf("append() = %d, want 1", got)
	}
	if got := b.append("b"); got != 2 {
		t.Errorf("append() = %d, want 2", got)
	}

	snapshot := b.drain()
	if !reflect.DeepEqual(snapshot, []string{"a", "b"}) {
		t.Errorf("drain() = %v, want [a b]", snapshot)
	}
	if b.len() != 0 {
		t.Errorf("len() after drain = %d, want 0", b.len())
	}

	// Appends after the drain do not alias the snapshot
	b.append("c")
	if !reflect.DeepEqual(snapshot, []string{"a", "b"}) {
		t.Errorf("snapshot changed after append: %v", snapshot)
	}
}

func TestBuffer_DrainEmpty(t *testing.T) {
	b := newBuffer(4)
	if got := b.drain(); got != nil {
		t.Errorf("drain() on empty buffer = %v, want nil", got)
	}
}

func TestBuffer_RequeueGoesToHead(t *testing.T) {
	b := newBuffer(4)
	b.append("1")
	b.append("2")
	snapshot := b.drain()

	// Written while the snapshot was in flight
	b.append("3")

	b.requeue(snapshot)

	got := b.drain()
	want := []string{"1", "2", "3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("drain() after requeue = %v, want %v", got, want)
	}
}

func TestBuffer_RequeueEmpty(t *testing.T) {
	b := newBuffer(4)
	b.append("x")
	b.requeue(nil)
	if b.len() != 1 {
		t.Errorf("len() = %d, want 1", b.len())
	}
}
