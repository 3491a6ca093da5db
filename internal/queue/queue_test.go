package queue

import (
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

func newTestQueue() *TaskQueue {
	return New(0, log.New(io.Discard, "", 0))
}

func waitForStatus(t *testing.T, q *TaskQueue, resourceKey string, status Status) Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tasks := q.List(Filter{ResourceKey: resourceKey, Status: status})
		if len(tasks) > 0 {
			return tasks[0]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task for %s did not reach status %s", resourceKey, status)
	return Task{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEnqueueReturnsImmediately(t *testing.T) {
	q := newTestQueue()
	release := make(chan struct{})

	id := q.Enqueue(func() error {
		<-release
		return nil
	}, "generate-embeddings", "doc-1")
	if id == "" {
		t.Fatal("expected non-empty task id")
	}

	tasks := q.List(Filter{ResourceKey: "doc-1"})
	if len(tasks) != 1 {
		t.Fatalf("unexpected task count: %d", len(tasks))
	}
	if tasks[0].Status != StatusPending && tasks[0].Status != StatusRunning {
		t.Fatalf("unexpected status before completion: %s", tasks[0].Status)
	}

	close(release)
	waitForStatus(t, q, "doc-1", StatusDone)
}

func TestLifecycleTransitions(t *testing.T) {
	q := newTestQueue()

	var mu sync.Mutex
	var seen []Status
	unsubscribe := q.Subscribe(func(task Task) {
		mu.Lock()
		seen = append(seen, task.Status)
		mu.Unlock()
	})
	defer unsubscribe()

	q.Enqueue(func() error { return nil }, "generate-embeddings", "doc-1")
	waitFor(t, "all notifications", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	expected := []Status{StatusPending, StatusRunning, StatusDone}
	for i, s := range expected {
		if seen[i] != s {
			t.Fatalf("notification[%d] = %s, want %s", i, seen[i], s)
		}
	}
}

func TestSingleFlight(t *testing.T) {
	q := newTestQueue()

	var mu sync.Mutex
	running := 0
	maxRunning := 0

	work := func() error {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}

	for i := 0; i < 5; i++ {
		q.Enqueue(work, "generate-embeddings", "doc-1")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(q.List(Filter{Status: StatusDone})) == 5 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if got := len(q.List(Filter{Status: StatusDone})); got != 5 {
		t.Fatalf("done count = %d, want 5", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if maxRunning != 1 {
		t.Fatalf("max concurrent running = %d, want 1", maxRunning)
	}
}

func TestFIFOPerResourceKey(t *testing.T) {
	q := newTestQueue()

	var mu sync.Mutex
	var order []string

	record := func(label string) func() error {
		return func() error {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return nil
		}
	}

	q.Enqueue(record("A"), "generate-embeddings", "doc-1")
	q.Enqueue(record("B"), "generate-embeddings", "doc-1")
	q.Enqueue(record("C"), "generate-embeddings", "doc-2")
	waitForStatus(t, q, "doc-2", StatusDone)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(q.List(Filter{Status: StatusDone})) == 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Fatalf("unexpected execution order: %#v", order)
	}
}

func TestFailureIsolation(t *testing.T) {
	q := newTestQueue()

	q.Enqueue(func() error { return errors.New("boom") }, "generate-embeddings", "doc-1")
	q.Enqueue(func() error { return nil }, "generate-embeddings", "doc-1")

	failed := waitForStatus(t, q, "doc-1", StatusFailed)
	if failed.Error == "" {
		t.Fatal("expected non-empty error on failed task")
	}
	waitForStatus(t, q, "doc-1", StatusDone)

	tasks := q.List(Filter{ResourceKey: "doc-1"})
	if len(tasks) != 2 {
		t.Fatalf("unexpected task count: %d", len(tasks))
	}
	if tasks[0].Status != StatusFailed || tasks[1].Status != StatusDone {
		t.Fatalf("unexpected statuses: %s, %s", tasks[0].Status, tasks[1].Status)
	}
}

func TestPanicIsCapturedAsFailure(t *testing.T) {
	q := newTestQueue()

	q.Enqueue(func() error { panic("kaboom") }, "generate-embeddings", "doc-1")

	task := waitForStatus(t, q, "doc-1", StatusFailed)
	if task.Error == "" {
		t.Fatal("expected panic to be recorded as task error")
	}
}

func TestNilWorkFailsAtRunTime(t *testing.T) {
	q := newTestQueue()

	id := q.Enqueue(nil, "generate-embeddings", "doc-1")
	if id == "" {
		t.Fatal("enqueue of nil work must still return an id")
	}

	task := waitForStatus(t, q, "doc-1", StatusFailed)
	if task.Error == "" {
		t.Fatal("expected error describing missing work function")
	}
}

func TestListFilter(t *testing.T) {
	q := newTestQueue()

	q.Enqueue(func() error { return nil }, "generate-embeddings", "doc-1")
	q.Enqueue(func() error { return nil }, "generate-embeddings", "doc-2")
	q.Enqueue(func() error { return nil }, "reindex", "doc-1")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(q.List(Filter{Status: StatusDone})) == 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	byKey := q.List(Filter{ResourceKey: "doc-1"})
	if len(byKey) != 2 {
		t.Fatalf("resourceKey filter returned %d tasks, want 2", len(byKey))
	}
	for _, task := range byKey {
		if task.ResourceKey != "doc-1" {
			t.Fatalf("unexpected resourceKey: %s", task.ResourceKey)
		}
	}
	if byKey[0].Name != "generate-embeddings" || byKey[1].Name != "reindex" {
		t.Fatalf("tasks not in enqueue order: %s, %s", byKey[0].Name, byKey[1].Name)
	}

	conjunctive := q.List(Filter{ResourceKey: "doc-1", Name: "reindex"})
	if len(conjunctive) != 1 || conjunctive[0].Name != "reindex" {
		t.Fatalf("conjunctive filter failed: %#v", conjunctive)
	}

	if got := len(q.List(Filter{})); got != 3 {
		t.Fatalf("empty filter returned %d tasks, want 3", got)
	}
}

func TestUnsubscribeStopsOnlyThatObserver(t *testing.T) {
	q := newTestQueue()

	var mu sync.Mutex
	firstCount := 0
	secondCount := 0

	unsubscribe := q.Subscribe(func(Task) {
		mu.Lock()
		firstCount++
		mu.Unlock()
	})
	q.Subscribe(func(Task) {
		mu.Lock()
		secondCount++
		mu.Unlock()
	})

	q.Enqueue(func() error { return nil }, "generate-embeddings", "doc-1")
	waitFor(t, "first round of notifications", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstCount == 3 && secondCount == 3
	})

	unsubscribe()
	unsubscribe() // 2回呼んでも安全

	q.Enqueue(func() error { return nil }, "generate-embeddings", "doc-2")
	waitFor(t, "second round of notifications", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return secondCount == 6
	})

	mu.Lock()
	defer mu.Unlock()
	if firstCount != 3 {
		t.Fatalf("unsubscribed observer still notified: count = %d", firstCount)
	}
}

func TestSubscriberPanicIsIsolated(t *testing.T) {
	q := newTestQueue()

	var mu sync.Mutex
	var seen []Status

	q.Subscribe(func(Task) { panic("observer bug") })
	q.Subscribe(func(task Task) {
		mu.Lock()
		seen = append(seen, task.Status)
		mu.Unlock()
	})

	q.Enqueue(func() error { return nil }, "generate-embeddings", "doc-1")
	waitFor(t, "notifications despite panicking observer", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})
}

func TestTwoSubscribersSeeSameOrder(t *testing.T) {
	q := newTestQueue()

	var mu sync.Mutex
	var first []Status
	var second []Status

	q.Subscribe(func(task Task) {
		mu.Lock()
		first = append(first, task.Status)
		mu.Unlock()
	})
	q.Subscribe(func(task Task) {
		mu.Lock()
		second = append(second, task.Status)
		mu.Unlock()
	})

	q.Enqueue(func() error { return nil }, "generate-embeddings", "doc-1")
	waitFor(t, "both subscribers fully notified", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 3 && len(second) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	expected := []Status{StatusPending, StatusRunning, StatusDone}
	for name, seen := range map[string][]Status{"first": first, "second": second} {
		if len(seen) != len(expected) {
			t.Fatalf("%s subscriber saw %#v", name, seen)
		}
		for i, s := range expected {
			if seen[i] != s {
				t.Fatalf("%s subscriber order mismatch at %d: %s", name, i, seen[i])
			}
		}
	}
}

func TestHistoryEviction(t *testing.T) {
	q := New(2, log.New(io.Discard, "", 0))

	for i := 0; i < 5; i++ {
		q.Enqueue(func() error { return nil }, "generate-embeddings", "doc-1")
		waitForStatus(t, q, "doc-1", StatusDone)
	}

	tasks := q.List(Filter{ResourceKey: "doc-1"})
	if len(tasks) > 3 {
		t.Fatalf("history not bounded: %d tasks retained", len(tasks))
	}
	for _, task := range tasks {
		if !task.Status.Terminal() && task.Status != StatusPending && task.Status != StatusRunning {
			t.Fatalf("unexpected status in history: %s", task.Status)
		}
	}
}
