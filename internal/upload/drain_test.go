package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mtiwari1/stylesync/internal/registry"
	"github.com/mtiwari1/stylesync/internal/store"
	"github.com/mtiwari1/stylesync/internal/wake"
)

type fakeTransfer struct {
	results map[string]string // source uri -> url; missing means failure
	calls   []string
}

func (f *fakeTransfer) Upload(_ context.Context, u PendingUpload) (string, error) {
	f.calls = append(f.calls, u.SourceURI)
	if url, ok := f.results[u.SourceURI]; ok {
		return url, nil
	}
	return "", errors.New("network unreachable")
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestQueue(t *testing.T) (*Queue, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return NewQueue(store.New(mem, testLogger()), nil), mem
}

func TestDrainer_EmptyQueueReportsNoData(t *testing.T) {
	q, _ := newTestQueue(t)
	tr := &fakeTransfer{}
	d := NewDrainer(q, tr, registry.New(registry.WithLogger(testLogger())), testLogger())

	if got := d.Run(context.Background()); got != wake.NoData {
		t.Fatalf("Run() = %s, want %s", got, wake.NoData)
	}
	if len(tr.calls) != 0 {
		t.Fatalf("transfer called %d times on empty queue", len(tr.calls))
	}
}

func TestDrainer_SuccessNotifiesAndRemoves(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	reg := registry.New(registry.WithLogger(testLogger()))

	u1, err := q.Enqueue(ctx, "/tmp/a.jpg", "msg-1")
	if err != nil {
		t.Fatal(err)
	}

	var notified []any
	reg.AddListener("msg-1", func(v any) { notified = append(notified, v) }, "")

	tr := &fakeTransfer{results: map[string]string{"/tmp/a.jpg": "https://x/a.jpg"}}
	d := NewDrainer(q, tr, reg, testLogger())

	if got := d.Run(ctx); got != wake.NewData {
		t.Fatalf("Run() = %s, want %s", got, wake.NewData)
	}
	if len(notified) != 1 || notified[0] != "https://x/a.jpg" {
		t.Fatalf("notifications = %#v, want one with the url", notified)
	}
	for _, u := range q.List(ctx) {
		if u.ID == u1.ID {
			t.Fatal("drained upload still queued")
		}
	}
}

func TestDrainer_ListenerSeesUploadRemovedFromQueue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	reg := registry.New(registry.WithLogger(testLogger()))

	u1, err := q.Enqueue(ctx, "/tmp/a.jpg", "msg-1")
	if err != nil {
		t.Fatal(err)
	}

	fired := false
	stillQueued := false
	reg.AddListener("msg-1", func(any) {
		fired = true
		for _, u := range q.List(ctx) {
			if u.ID == u1.ID {
				stillQueued = true
			}
		}
	}, "")

	tr := &fakeTransfer{results: map[string]string{"/tmp/a.jpg": "https://x/a.jpg"}}
	if got := NewDrainer(q, tr, reg, testLogger()).Run(ctx); got != wake.NewData {
		t.Fatalf("Run() = %s, want %s", got, wake.NewData)
	}
	if !fired {
		t.Fatal("listener not notified")
	}
	if stillQueued {
		t.Fatal("listener observed the delivered upload still in the durable queue")
	}
}

// blockingTransfer holds every upload until release is closed.
type blockingTransfer struct {
	started chan struct{}
	release chan struct{}

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (b *blockingTransfer) Upload(_ context.Context, u PendingUpload) (string, error) {
	b.mu.Lock()
	b.inFlight++
	if b.inFlight > b.peak {
		b.peak = b.inFlight
	}
	b.mu.Unlock()

	b.started <- struct{}{}
	<-b.release

	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
	return "https://x/" + u.MessageID, nil
}

func TestDrainer_OverlappingRunIsSkipped(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	if _, err := q.Enqueue(ctx, "/tmp/a.jpg", "msg-1"); err != nil {
		t.Fatal(err)
	}

	tr := &blockingTransfer{started: make(chan struct{}, 2), release: make(chan struct{})}
	d := NewDrainer(q, tr, registry.New(registry.WithLogger(testLogger())), testLogger())

	first := make(chan wake.Result, 1)
	go func() { first <- d.Run(ctx) }()

	select {
	case <-tr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first drain never reached the transfer")
	}

	if got := d.Run(ctx); got != wake.NoData {
		t.Fatalf("overlapping Run() = %s, want %s", got, wake.NoData)
	}

	close(tr.release)
	if got := <-first; got != wake.NewData {
		t.Fatalf("first Run() = %s, want %s", got, wake.NewData)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.peak != 1 {
		t.Fatalf("peak concurrent transfers = %d, want 1", tr.peak)
	}
	if len(q.List(ctx)) != 0 {
		t.Fatal("queue not emptied by the first drain")
	}
}

func TestDrainer_FailureStaysQueuedForNextWake(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	reg := registry.New(registry.WithLogger(testLogger()))

	q.Enqueue(ctx, "/tmp/ok.jpg", "m-ok")
	bad, _ := q.Enqueue(ctx, "/tmp/bad.jpg", "m-bad")

	tr := &fakeTransfer{results: map[string]string{"/tmp/ok.jpg": "https://x/ok.jpg"}}
	d := NewDrainer(q, tr, reg, testLogger())

	if got := d.Run(ctx); got != wake.Failed {
		t.Fatalf("Run() = %s, want %s", got, wake.Failed)
	}
	left := q.List(ctx)
	if len(left) != 1 || left[0].ID != bad.ID {
		t.Fatalf("queue after drain = %#v, want only the failed entry", left)
	}

	// The next wake retries it.
	tr.results["/tmp/bad.jpg"] = "https://x/bad.jpg"
	if got := d.Run(ctx); got != wake.NewData {
		t.Fatalf("second Run() = %s, want %s", got, wake.NewData)
	}
	if len(q.List(ctx)) != 0 {
		t.Fatal("queue should be empty after the retry wake")
	}
}

func TestDrainer_NeverInvokedLeavesQueueIntact(t *testing.T) {
	ctx := context.Background()
	q, mem := newTestQueue(t)
	q.Enqueue(ctx, "/tmp/a.jpg", "msg-1")

	var sched wake.Manual
	sched.Register(15*time.Minute, NewDrainer(q, &fakeTransfer{}, registry.New(), testLogger()))

	// Process restarts without the host ever waking the task.
	reopened := NewQueue(store.New(mem, testLogger()), nil)
	if got := reopened.List(ctx); len(got) != 1 || got[0].MessageID != "msg-1" {
		t.Fatalf("queue after restart = %#v", got)
	}
}

func TestDrainer_KeepsEntriesEnqueuedDuringDrain(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	q.Enqueue(ctx, "/tmp/a.jpg", "msg-1")

	tr := &enqueueingTransfer{q: q}
	d := NewDrainer(q, tr, registry.New(registry.WithLogger(testLogger())), testLogger())
	d.Run(ctx)

	left := q.List(ctx)
	if len(left) != 1 || left[0].MessageID != "msg-late" {
		t.Fatalf("queue = %#v, want only the late entry", left)
	}
}

type enqueueingTransfer struct{ q *Queue }

func (e *enqueueingTransfer) Upload(ctx context.Context, u PendingUpload) (string, error) {
	if u.MessageID == "msg-1" {
		if _, err := e.q.Enqueue(ctx, "/tmp/late.jpg", "msg-late"); err != nil {
			return "", err
		}
	}
	return "https://x/" + u.MessageID, nil
}

func TestQueue_EnqueueValidatesAndOrders(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if _, err := q.Enqueue(ctx, "", "m"); !errors.Is(err, ErrInvalidUpload) {
		t.Fatalf("Enqueue without uri error = %v", err)
	}
	a, _ := q.Enqueue(ctx, "/tmp/a.jpg", "m1")
	b, _ := q.Enqueue(ctx, "/tmp/a.jpg", "m2")

	list := q.List(ctx)
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
		t.Fatalf("List() = %#v", list)
	}
	if a.ID >= b.ID {
		t.Fatalf("ids not in creation order: %s >= %s", a.ID, b.ID)
	}
}

func TestProfileSlot(t *testing.T) {
	ctx := context.Background()
	slot := NewProfileSlot(store.New(store.NewMemory(), testLogger()))

	if _, ok := slot.Get(ctx); ok {
		t.Fatal("empty slot reported an upload")
	}
	u := PendingUpload{ID: "p1", SourceURI: "/tmp/me.jpg", MessageID: "profile"}
	if err := slot.Set(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := slot.Clear(ctx, "other"); err != nil {
		t.Fatal(err)
	}
	if got, ok := slot.Get(ctx); !ok || got.ID != "p1" {
		t.Fatalf("Clear(other) removed the slot: %#v %v", got, ok)
	}
	if err := slot.Clear(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := slot.Get(ctx); ok {
		t.Fatal("slot still set after Clear")
	}
}
