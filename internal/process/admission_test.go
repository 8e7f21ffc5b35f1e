package process

import "testing"

func TestAdmissionQueue_PriorityThenFIFO(t *testing.T) {
	q := newAdmissionQueue(10)
	q.enqueue(SpawnConfig{}, 0, "low-1", 5)
	q.enqueue(SpawnConfig{}, 0, "high-1", 1)
	q.enqueue(SpawnConfig{}, 0, "low-2", 5)
	q.enqueue(SpawnConfig{}, 0, "high-2", 1)

	order := []string{}
	for e := q.dequeue(); e != nil; e = q.dequeue() {
		order = append(order, e.ownerUID)
	}
	want := []string{"high-1", "high-2", "low-1", "low-2"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestAdmissionQueue_FullRejectsEnqueue(t *testing.T) {
	q := newAdmissionQueue(1)
	if q.full() {
		t.Fatal("empty queue should not be full")
	}
	q.enqueue(SpawnConfig{}, 0, "u", 3)
	if !q.full() {
		t.Fatal("queue at capacity should report full")
	}
}

func TestAdmissionQueue_DequeueEmptyReturnsNil(t *testing.T) {
	q := newAdmissionQueue(10)
	if e := q.dequeue(); e != nil {
		t.Fatalf("dequeue on empty queue = %+v, want nil", e)
	}
}
