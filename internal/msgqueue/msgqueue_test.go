package msgqueue

import "testing"

func TestFIFOOrderPerDestination(t *testing.T) {
	q := New(4)

	if !q.Send(1, 10, 1, 0) {
		t.Fatal("expected send to succeed")
	}
	if !q.Send(1, 11, 2, 0) {
		t.Fatal("expected send to succeed")
	}

	first := q.Get(1)
	second := q.Get(1)

	if first.ID != 10 || second.ID != 11 {
		t.Errorf("expected FIFO order 10,11; got %d,%d", first.ID, second.ID)
	}
}

func TestGetOnEmptyReturnsNoMsg(t *testing.T) {
	q := New(4)
	m := q.Get(5)
	if m.ID != NoMsg {
		t.Errorf("expected NoMsg sentinel, got %d", m.ID)
	}
}

func TestOverflowDropsNewest(t *testing.T) {
	q := New(2)

	if !q.Send(1, 1, 0, 0) || !q.Send(1, 2, 0, 0) {
		t.Fatal("expected first two sends to succeed")
	}
	if q.Send(1, 3, 0, 0) {
		t.Fatal("expected third send to overflow")
	}

	if q.Overflows(1) != 1 {
		t.Errorf("expected 1 overflow, got %d", q.Overflows(1))
	}

	// queue still holds the first two, in order
	first := q.Get(1)
	second := q.Get(1)
	if first.ID != 1 || second.ID != 2 {
		t.Errorf("expected 1,2 after overflow; got %d,%d", first.ID, second.ID)
	}
}

func TestQueuesAreIndependentPerTask(t *testing.T) {
	q := New(4)
	q.Send(1, 100, 0, 0)

	if m := q.Get(2); m.ID != NoMsg {
		t.Errorf("expected task 2's queue to be empty, got %d", m.ID)
	}
	if m := q.Get(1); m.ID != 100 {
		t.Errorf("expected task 1's message, got %d", m.ID)
	}
}
