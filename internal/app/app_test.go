package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mtiwari1/stylesync/internal/clock/clocktest"
	"github.com/mtiwari1/stylesync/internal/config"
	"github.com/mtiwari1/stylesync/internal/lifecycle"
	"github.com/mtiwari1/stylesync/internal/registry"
	"github.com/mtiwari1/stylesync/internal/remote"
	"github.com/mtiwari1/stylesync/internal/store"
	"github.com/mtiwari1/stylesync/internal/upload"
	"github.com/mtiwari1/stylesync/internal/wake"
)

// gatedTransfer blocks each upload until release is closed.
type gatedTransfer struct {
	release chan struct{}
	fail    bool

	mu   sync.Mutex
	seen []upload.PendingUpload
}

func (g *gatedTransfer) Upload(ctx context.Context, u upload.PendingUpload) (string, error) {
	g.mu.Lock()
	g.seen = append(g.seen, u)
	g.mu.Unlock()
	if g.release != nil {
		<-g.release
	}
	if g.fail {
		return "", errors.New("storage unavailable")
	}
	return "https://cdn.example" + u.SourceURI, nil
}

func (g *gatedTransfer) uploads() []upload.PendingUpload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]upload.PendingUpload(nil), g.seen...)
}

type fakeRemote struct {
	statuses []remote.StatusResponse
	calls    int
}

func (f *fakeRemote) Submit(context.Context, string, json.RawMessage) (string, error) {
	return "task-1", nil
}

func (f *fakeRemote) Status(context.Context, string, string) (remote.StatusResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.statuses) {
		return f.statuses[i], nil
	}
	return remote.StatusResponse{Status: remote.StatusProcessing}, nil
}

func (f *fakeRemote) Invoke(context.Context, remote.RequestType, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

var epoch = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Poller:   config.PollerConfig{Interval: 3 * time.Second, TaskMaxAge: time.Hour},
		Requests: config.RequestsConfig{MaxAge: 24 * time.Hour, MaxRetries: 3},
		Uploads:  config.UploadsConfig{DrainInterval: 15 * time.Minute, Workers: 1},
	}
}

func newApp(t *testing.T, mem *store.Memory, tr upload.Transfer, rem Remote, clk *clocktest.Fake) *App {
	t.Helper()
	if rem == nil {
		rem = &fakeRemote{}
	}
	if clk == nil {
		clk = clocktest.New(epoch)
	}
	a := New(testConfig(), Deps{
		Backend:  mem,
		Remote:   rem,
		Transfer: tr,
		Clock:    clk,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	a.Start()
	return a
}

// collector records registry deliveries per correlation id.
type collector struct {
	mu  sync.Mutex
	got map[string][]any
}

func (c *collector) listen(r *registry.Registry, id string) {
	r.AddListener(registry.CorrelationID(id), func(v any) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.got == nil {
			c.got = make(map[string][]any)
		}
		c.got[id] = append(c.got[id], v)
	}, "test")
}

func (c *collector) values(id string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.got[id]
}

func TestBeginUpload_StartedDeliversURL(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	a := newApp(t, mem, &gatedTransfer{}, nil, nil)

	var c collector
	c.listen(a.Registry, "msg-1")

	tk, err := a.BeginUpload(ctx, "/photos/a.jpg", "msg-1")
	if err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}
	if tk.Disposition != Started || tk.ID == "" {
		t.Fatalf("ticket = %+v", tk)
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	got := c.values("msg-1")
	if len(got) != 1 || got[0] != "https://cdn.example/photos/a.jpg" {
		t.Fatalf("delivered = %v", got)
	}
	if st := a.Guard.State(); st.IsUploading || len(st.Queue) != 0 {
		t.Fatalf("guard not idle: %+v", st)
	}
	if _, ok := a.Profile.Get(ctx); ok {
		t.Fatal("profile slot not cleared after success")
	}
	if q := a.Queue.List(ctx); len(q) != 0 {
		t.Fatalf("queue = %v, want empty", q)
	}
}

func TestBeginUpload_AttachAndQueue(t *testing.T) {
	ctx := context.Background()
	tr := &gatedTransfer{release: make(chan struct{})}
	a := newApp(t, store.NewMemory(), tr, nil, nil)

	var c collector
	c.listen(a.Registry, "first")
	c.listen(a.Registry, "second")

	first, err := a.BeginUpload(ctx, "/photos/a.jpg", "first")
	if err != nil || first.Disposition != Started {
		t.Fatalf("first = %+v, %v", first, err)
	}
	if p, ok := a.Profile.Get(ctx); !ok || p.ID != first.ID {
		t.Fatalf("profile slot = %+v, %v", p, ok)
	}

	second, err := a.BeginUpload(ctx, "/photos/a.jpg", "second")
	if err != nil || second.Disposition != Attached || second.ID != first.ID {
		t.Fatalf("second = %+v, %v", second, err)
	}

	other, err := a.BeginUpload(ctx, "/photos/b.jpg", "other")
	if err != nil || other.Disposition != Queued {
		t.Fatalf("other = %+v, %v", other, err)
	}
	q := a.Queue.List(ctx)
	if len(q) != 1 || q[0].SourceURI != "/photos/b.jpg" || q[0].MessageID != "other" {
		t.Fatalf("queue = %+v", q)
	}

	close(tr.release)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"first", "second"} {
		if got := c.values(id); len(got) != 1 || got[0] != "https://cdn.example/photos/a.jpg" {
			t.Fatalf("%s delivered = %v", id, got)
		}
	}
	if n := len(tr.uploads()); n != 1 {
		t.Fatalf("transfers = %d, want 1", n)
	}
}

func TestBeginUpload_FailureMovesToQueue(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, store.NewMemory(), &gatedTransfer{fail: true}, nil, nil)

	var c collector
	c.listen(a.Registry, "msg-1")

	if _, err := a.BeginUpload(ctx, "/photos/a.jpg", "msg-1"); err != nil {
		t.Fatal(err)
	}
	a.Close()

	if got := c.values("msg-1"); len(got) != 0 {
		t.Fatalf("failure delivered %v", got)
	}
	q := a.Queue.List(ctx)
	if len(q) != 1 || q[0].MessageID != "msg-1" {
		t.Fatalf("queue = %+v", q)
	}
	if _, ok := a.Profile.Get(ctx); ok {
		t.Fatal("profile slot kept after requeue")
	}
	if a.Guard.State().IsUploading {
		t.Fatal("guard still locked")
	}
}

func TestBeginUpload_Invalid(t *testing.T) {
	a := newApp(t, store.NewMemory(), &gatedTransfer{}, nil, nil)
	defer a.Close()

	if _, err := a.BeginUpload(context.Background(), "", "m"); !errors.Is(err, upload.ErrInvalidUpload) {
		t.Fatalf("err = %v, want ErrInvalidUpload", err)
	}
}

func TestResumeProfileUpload(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	interrupted, err := upload.NewPendingUpload("/photos/profile.jpg", "onboarding", epoch)
	if err != nil {
		t.Fatal(err)
	}
	if err := upload.NewProfileSlot(store.New(mem, logger)).Set(ctx, interrupted); err != nil {
		t.Fatal(err)
	}

	tr := &gatedTransfer{}
	a := newApp(t, mem, tr, nil, nil)
	var c collector
	c.listen(a.Registry, "onboarding")

	tk, ok, err := a.ResumeProfileUpload(ctx)
	if err != nil || !ok || tk.Disposition != Started || tk.ID != interrupted.ID {
		t.Fatalf("ResumeProfileUpload = %+v, %v, %v", tk, ok, err)
	}
	a.Close()

	if got := tr.uploads(); len(got) != 1 || got[0].ID != interrupted.ID {
		t.Fatalf("transfers = %+v", got)
	}
	if len(c.values("onboarding")) != 1 {
		t.Fatal("resumed upload not delivered")
	}

	if _, ok, _ := a.ResumeProfileUpload(ctx); ok {
		t.Fatal("second resume found an upload")
	}
}

func TestDrainViaWake(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, store.NewMemory(), &gatedTransfer{}, nil, nil)
	defer a.Close()

	var c collector
	c.listen(a.Registry, "queued-msg")
	if _, err := a.Queue.Enqueue(ctx, "/photos/q.jpg", "queued-msg"); err != nil {
		t.Fatal(err)
	}

	var m wake.Manual
	if err := a.RegisterWake(&m); err != nil {
		t.Fatal(err)
	}
	if res := m.Fire(ctx); len(res) != 1 || res[0] != wake.NewData {
		t.Fatalf("Fire = %v", res)
	}
	if got := c.values("queued-msg"); len(got) != 1 || got[0] != "https://cdn.example/photos/q.jpg" {
		t.Fatalf("delivered = %v", got)
	}
	if len(a.Queue.List(ctx)) != 0 {
		t.Fatal("queue not drained")
	}
}

func TestSubmitLongTask_DeliversOutcome(t *testing.T) {
	ctx := context.Background()
	clk := clocktest.New(epoch)
	rem := &fakeRemote{statuses: []remote.StatusResponse{
		{Status: remote.StatusCompleted, Progress: 100, Result: json.RawMessage(`["look-1"]`)},
	}}
	a := newApp(t, store.NewMemory(), &gatedTransfer{}, rem, clk)
	defer a.Close()

	var c collector
	c.listen(a.Registry, "task-1")

	id, err := a.SubmitLongTask(ctx, remote.TypeLookbook, json.RawMessage(`{}`), "/api/lookbooks", "/api/lookbooks/status")
	if err != nil || id != "task-1" {
		t.Fatalf("SubmitLongTask = %q, %v", id, err)
	}
	clk.Advance(0)

	got := c.values("task-1")
	if len(got) != 1 {
		t.Fatalf("delivered = %v", got)
	}
	out, ok := got[0].(TaskOutcome)
	if !ok || out.Err != nil || string(out.Result) != `["look-1"]` {
		t.Fatalf("outcome = %#v", got[0])
	}
}

func TestForegroundResumesPersistedTask(t *testing.T) {
	ctx := context.Background()
	clk := clocktest.New(epoch)
	rem := &fakeRemote{statuses: []remote.StatusResponse{
		{Status: remote.StatusProcessing, Progress: 10},
		{Status: remote.StatusCompleted, Progress: 100, Result: json.RawMessage(`"ok"`)},
	}}
	a := newApp(t, store.NewMemory(), &gatedTransfer{}, rem, clk)
	defer a.Close()

	var c collector
	c.listen(a.Registry, "task-1")

	if _, err := a.SubmitLongTask(ctx, remote.TypeChat, nil, "/api/chat", "/api/chat/status"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(0)
	a.Transition(lifecycle.Background)
	clk.Advance(time.Minute)
	if rem.calls != 1 {
		t.Fatalf("status calls while backgrounded = %d, want 1", rem.calls)
	}

	a.Transition(lifecycle.Active)
	clk.Advance(0)
	if got := c.values("task-1"); len(got) != 1 {
		t.Fatalf("delivered after resume = %v", got)
	}
}

// stuckTransfer never finishes on its own; it returns when ctx is cancelled.
type stuckTransfer struct {
	started chan string
}

func (s *stuckTransfer) Upload(ctx context.Context, u upload.PendingUpload) (string, error) {
	s.started <- u.SourceURI
	<-ctx.Done()
	return "", ctx.Err()
}

func TestShutdown_DeadlineAbortsAndRequeues(t *testing.T) {
	mem := store.NewMemory()
	tr := &stuckTransfer{started: make(chan string, 1)}
	a := newApp(t, mem, tr, nil, nil)

	if _, err := a.BeginUpload(context.Background(), "/photos/a.jpg", "msg-1"); err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}
	select {
	case <-tr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("transfer never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if st := a.Guard.State(); st.IsUploading || len(st.Queue) != 0 {
		t.Fatalf("guard still held after abort: %+v", st)
	}
	queued := a.Queue.List(context.Background())
	if len(queued) != 1 || queued[0].SourceURI != "/photos/a.jpg" || queued[0].MessageID != "msg-1" {
		t.Fatalf("durable queue = %#v, want the aborted upload", queued)
	}
	if _, ok := a.Profile.Get(context.Background()); ok {
		t.Fatal("profile slot still holds the aborted upload")
	}
}
