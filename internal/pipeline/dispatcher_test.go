package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/queue"
	"github.com/ppiankov/provenant/internal/runstate"
)

const testPrefix = "results/campaign/demo/2026/03/01/run-1/"

// stubHandler returns err for every message and records what it saw
type stubHandler struct {
	mu   sync.Mutex
	err  error
	seen []queue.Message
}

func (s *stubHandler) Handle(ctx context.Context, msg queue.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, msg)
	return s.err
}

func (s *stubHandler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newDispatcherFixture(t *testing.T, h Handler) (*Dispatcher, *queue.MemoryQueue, *runstate.Store, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := queue.NewMemoryQueue()
	q.SetClock(clk.Now)
	status := runstate.New(objstore.NewMemoryStore(), nil)
	_, err := status.Patch(context.Background(), testPrefix, runstate.Patch{RunID: "run-1", State: model.StageOutline}, nil)
	require.NoError(t, err)

	cfg := testConfig().Queue
	cfg.MaxAttempts = 2
	cfg.Lease = time.Minute
	d := NewDispatcher(q, status, cfg, 2, nil)
	d.Route("outline", h)
	return d, q, status, clk
}

func send(t *testing.T, q *queue.MemoryQueue) {
	t.Helper()
	require.NoError(t, q.Send(context.Background(), "outline", queue.NewRunStage("run-1", testPrefix, model.StageOutline)))
}

func TestDispatcher_AcksSuccess(t *testing.T) {
	h := &stubHandler{}
	d, q, _, _ := newDispatcherFixture(t, h)
	send(t, q)

	n, err := d.Poll(context.Background(), "outline")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, q.Pending("outline"))
	require.Len(t, h.seen, 1)
	assert.Equal(t, 1, h.seen[0].Attempt)
}

func TestDispatcher_SettlesByError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		pending int
	}{
		{"permanent stage error", model.Failf(model.CodeOutlineMissing, "gone"), 0},
		{"rejected", fmt.Errorf("%w: out of order", queue.ErrRejected), 0},
		{"unknown kind", fmt.Errorf("%w: %q", queue.ErrUnknownKind, "x"), 0},
		{"transient", errors.New("store busy"), 1},
		{"non-permanent stage error", &model.StageError{Code: model.CodeStorageError, Message: "busy"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, q, status, _ := newDispatcherFixture(t, &stubHandler{err: tt.err})
			send(t, q)

			_, err := d.Poll(context.Background(), "outline")
			require.NoError(t, err)
			assert.Equal(t, tt.pending, q.Pending("outline"))

			st, err := status.Get(context.Background(), testPrefix)
			require.NoError(t, err)
			assert.Equal(t, model.StageOutline, st.State, "the dispatcher itself records nothing here")
		})
	}
}

func TestDispatcher_RedeliversAfterLease(t *testing.T) {
	h := &stubHandler{err: errors.New("flaky")}
	d, q, _, clk := newDispatcherFixture(t, h)
	send(t, q)
	ctx := context.Background()

	_, err := d.Poll(ctx, "outline")
	require.NoError(t, err)

	// Still leased.
	n, err := d.Poll(ctx, "outline")
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(2 * time.Minute)
	h.err = nil
	n, err = d.Poll(ctx, "outline")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, h.seen[1].Attempt)
	assert.Zero(t, q.Pending("outline"))
}

func TestDispatcher_ExhaustedAttemptsFailRun(t *testing.T) {
	h := &stubHandler{err: errors.New("flaky")}
	d, q, status, clk := newDispatcherFixture(t, h)
	send(t, q)
	ctx := context.Background()

	_, err := d.Poll(ctx, "outline")
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	_, err = d.Poll(ctx, "outline")
	require.NoError(t, err)

	assert.Equal(t, 2, h.count())
	assert.Zero(t, q.Pending("outline"))

	st, err := status.Get(ctx, testPrefix)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, st.State)
	require.NotNil(t, st.Error)
	assert.Equal(t, model.CodeRetriesExhausted, st.Error.Code)
	assert.Equal(t, model.StageOutline, st.Error.Stage)
}

func TestDispatcher_ExhaustedSignalNamesFinishedStage(t *testing.T) {
	h := &stubHandler{err: errors.New("flaky")}
	d, q, status, clk := newDispatcherFixture(t, h)
	ctx := context.Background()
	msg, err := queue.NewAfter("run-1", testPrefix, model.StagePillarsSynth)
	require.NoError(t, err)
	require.NoError(t, q.Send(ctx, "outline", msg))

	_, err = d.Poll(ctx, "outline")
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	_, err = d.Poll(ctx, "outline")
	require.NoError(t, err)

	st, err := status.Get(ctx, testPrefix)
	require.NoError(t, err)
	assert.Equal(t, model.StagePillarsSynth, st.Error.Stage)
}

func TestDispatcher_DropsUndecodable(t *testing.T) {
	h := &stubHandler{}
	d, q, _, _ := newDispatcherFixture(t, h)
	q.SendRaw("outline", []byte(`{"kind":"after_lunch","prefix":"x/"}`))

	n, err := d.Poll(context.Background(), "outline")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, q.Pending("outline"))
	assert.Zero(t, h.count())
}

func TestDispatcher_UnroutedQueue(t *testing.T) {
	d, _, _, _ := newDispatcherFixture(t, &stubHandler{})
	_, err := d.Poll(context.Background(), "nowhere")
	assert.Error(t, err)
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &stubHandler{}
	d, q, _, _ := newDispatcherFixture(t, h)
	send(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
