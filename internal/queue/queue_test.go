package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/provenant/internal/model"
)

func TestDecode_RejectsUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"id":"1","kind":"after_lunch","run_id":"r","prefix":"p/"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestDecode_RunStageNeedsWorkingStage(t *testing.T) {
	_, err := Decode([]byte(`{"id":"1","kind":"run_stage","run_id":"r","prefix":"p/","stage":"Completed"}`))
	assert.Error(t, err)

	m, err := Decode([]byte(`{"id":"1","kind":"run_stage","run_id":"r","prefix":"p/","stage":"Outline"}`))
	require.NoError(t, err)
	assert.Equal(t, model.StageOutline, m.Stage)
}

func TestAfterKind_RoundTrip(t *testing.T) {
	for _, s := range model.Stages() {
		k, ok := AfterKind(s)
		require.True(t, ok, "stage %s", s)
		got, ok := k.FinishedStage()
		require.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := AfterKind(model.StageCompleted)
	assert.False(t, ok)
	_, ok = KindRunStage.FinishedStage()
	assert.False(t, ok)
}

func TestNewAfter(t *testing.T) {
	m, err := NewAfter("run-1", "p/", model.StagePillarsSynth)
	require.NoError(t, err)
	assert.Equal(t, KindAfterPillars, m.Kind)
	assert.NotEmpty(t, m.ID)

	_, err = NewAfter("run-1", "p/", model.StageFailed)
	assert.Error(t, err)
}

// queueContract exercises lease, redelivery and ack on any backend
func queueContract(t *testing.T, q Queue, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "outline", NewRunStage("r1", "p/r1/", model.StageOutline)))
	require.NoError(t, q.Send(ctx, "outline", NewRunStage("r2", "p/r2/", model.StageOutline)))

	got, err := q.Receive(ctx, "outline", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].Message.RunID)
	assert.Equal(t, 1, got[0].Attempt)

	// Leased messages are invisible.
	again, err := q.Receive(ctx, "outline", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, q.Ack(ctx, "outline", got[0].Receipt))

	// Unacked message is redelivered after the lease expires.
	advance(2 * time.Minute)
	redelivered, err := q.Receive(ctx, "outline", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, "r2", redelivered[0].Message.RunID)
	assert.Equal(t, 2, redelivered[0].Attempt)

	// The stale receipt no longer acknowledges.
	assert.Error(t, q.Ack(ctx, "outline", got[1].Receipt))
	require.NoError(t, q.Ack(ctx, "outline", redelivered[0].Receipt))

	empty, err := q.Receive(ctx, "other", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryQueue_Contract(t *testing.T) {
	q := NewMemoryQueue()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return now })
	queueContract(t, q, func(d time.Duration) { now = now.Add(d) })
	assert.Len(t, q.Sent("outline"), 2)
	assert.Equal(t, 0, q.Pending("outline"))
}

func TestSQLiteQueue_Contract(t *testing.T) {
	q, err := NewSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	queueContract(t, q, func(d time.Duration) { now = now.Add(d) })

	depth, err := q.Depth(context.Background(), "outline")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestMemoryQueue_UndecodableDelivery(t *testing.T) {
	q := NewMemoryQueue()
	q.SendRaw("router", []byte(`{"id":"x","kind":"bogus","prefix":"p/"}`))

	got, err := q.Receive(context.Background(), "router", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, errors.Is(got[0].Err, ErrUnknownKind))
}
