package task

import "testing"

func TestQueue_PushPopOrder(t *testing.T) {
	q := NewQueue(Task{ID: 1, Name: "first"})
	q.Push(Task{ID: 2, Name: "second"})
	q.Push(Task{ID: 3, Name: "third"})

	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop()
		if !ok || got.ID != want {
			t.Fatalf("Pop = %+v, %v; want id %d", got, ok, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop on empty queue should report !ok")
	}
}

func TestQueue_NamesAndSnapshotAreCopies(t *testing.T) {
	q := NewQueue(Task{ID: 1, Name: "a"}, Task{ID: 2, Name: "b"})

	names := q.Names()
	names[0] = "mutated"
	snap := q.Snapshot()
	snap[1].Name = "mutated"

	if got := q.Names(); got[0] != "a" || got[1] != "b" {
		t.Errorf("queue mutated through copies: %v", got)
	}
}

func TestQueue_Replace(t *testing.T) {
	q := NewQueue(Task{ID: 1, Name: "a"}, Task{ID: 2, Name: "b"})
	repl := []Task{{ID: 5, Name: "b"}, {ID: 6, Name: "a"}, {ID: 7, Name: "a"}}
	q.Replace(repl)
	repl[0].Name = "mutated"

	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	if got := q.Names(); got[0] != "b" || got[2] != "a" {
		t.Errorf("Names = %v", got)
	}
	if q.MaxID() != 7 {
		t.Errorf("MaxID = %d, want 7", q.MaxID())
	}
	q.Replace(nil)
	if q.Len() != 0 || q.MaxID() != 0 {
		t.Errorf("after Replace(nil): Len=%d MaxID=%d", q.Len(), q.MaxID())
	}
}
