package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type indexResult struct {
	index int
	err   error
}

func (r indexResult) GetError() error {
	return r.err
}

// sleepJob reports its index after an optional delay
type sleepJob struct {
	index int
	delay time.Duration
	fail  bool
}

func (j sleepJob) Execute(ctx context.Context) Result {
	if j.delay > 0 {
		select {
		case <-time.After(j.delay):
		case <-ctx.Done():
			return indexResult{index: j.index, err: ctx.Err()}
		}
	}
	if j.fail {
		return indexResult{index: j.index, err: errors.New("section failed")}
	}
	return indexResult{index: j.index}
}

func TestNewPool_Workers(t *testing.T) {
	for in, want := range map[int]int{5: 5, 0: 1, -3: 1} {
		p := NewPool(context.Background(), in)
		if p.workers != want {
			t.Errorf("NewPool(%d) workers = %d, want %d", in, p.workers, want)
		}
		p.Shutdown()
	}
}

func TestPool_ResultsInSubmissionOrder(t *testing.T) {
	p := NewPool(context.Background(), 4)

	// Earlier jobs sleep longer so they finish last
	for i := 0; i < 8; i++ {
		if !p.Submit(sleepJob{index: i, delay: time.Duration(8-i) * 2 * time.Millisecond}) {
			t.Fatalf("submit %d rejected", i)
		}
	}

	results := p.Wait()
	if len(results) != 8 {
		t.Fatalf("expected 8 results, got %d", len(results))
	}
	for i, r := range results {
		if got := r.(indexResult).index; got != i {
			t.Errorf("results[%d] came from job %d", i, got)
		}
	}
}

func TestPool_ManyMoreJobsThanWorkers(t *testing.T) {
	p := NewPool(context.Background(), 2)
	for i := 0; i < 200; i++ {
		p.Submit(sleepJob{index: i})
	}
	if n := len(p.Wait()); n != 200 {
		t.Errorf("expected 200 results, got %d", n)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	p := NewPool(context.Background(), workers)

	var running, peak int32
	for i := 0; i < 30; i++ {
		p.Submit(JobFunc(func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}))
	}
	p.Wait()

	if got := atomic.LoadInt32(&peak); got > workers {
		t.Errorf("peak concurrency %d exceeds %d workers", got, workers)
	}
}

func TestPool_Errors(t *testing.T) {
	p := NewPool(context.Background(), 2)
	p.Submit(sleepJob{index: 0, fail: true})
	p.Submit(sleepJob{index: 1})
	p.Submit(sleepJob{index: 2, fail: true})

	errs := Errors(p.Wait())
	if len(errs) != 2 {
		t.Errorf("expected 2 errors, got %d", len(errs))
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool(context.Background(), 2)
	p.Wait()
	if p.Submit(sleepJob{}) {
		t.Error("Submit after Wait must report false")
	}

	p = NewPool(context.Background(), 2)
	p.Shutdown()
	if p.Submit(sleepJob{}) {
		t.Error("Submit after Shutdown must report false")
	}
}

func TestPool_ShutdownCancelsRunningJobs(t *testing.T) {
	p := NewPool(context.Background(), 1)

	started := make(chan struct{})
	p.Submit(JobFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return")
	}
}

func TestPool_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(ctx, 1)

	started := make(chan struct{})
	p.Submit(JobFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started
	cancel()

	if p.Submit(sleepJob{}) {
		t.Error("Submit after parent cancellation must report false")
	}
	results := p.Wait()
	if len(results) != 1 || !errors.Is(results[0].GetError(), context.Canceled) {
		t.Errorf("expected one cancelled result, got %v", results)
	}
}
