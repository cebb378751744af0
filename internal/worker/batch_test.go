package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunAll(t *testing.T) {
	var ran int32
	jobs := make([]Job, 0, 20)
	for i := 0; i < 20; i++ {
		i := i
		jobs = append(jobs, JobFunc(func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			if i%5 == 0 {
				return errors.New("boom")
			}
			return nil
		}))
	}

	results := RunAll(context.Background(), 4, jobs)
	if len(results) != 20 {
		t.Fatalf("expected 20 results, got %d", len(results))
	}
	if atomic.LoadInt32(&ran) != 20 {
		t.Errorf("expected 20 executions, got %d", ran)
	}
	if errs := Errors(results); len(errs) != 4 {
		t.Errorf("expected 4 errors, got %d", len(errs))
	}
}

func TestRunAll_Empty(t *testing.T) {
	results := RunAll(context.Background(), 4, nil)
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestRunAll_MoreWorkersThanJobs(t *testing.T) {
	jobs := []Job{JobFunc(func(ctx context.Context) error { return nil })}
	if results := RunAll(context.Background(), 16, jobs); len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestRunAll_CancelledReportsEveryJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := make([]Job, 5)
	for i := range jobs {
		jobs[i] = JobFunc(func(ctx context.Context) error { return nil })
	}

	results := RunAll(ctx, 2, jobs)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if !errors.Is(r.GetError(), context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", r.GetError())
		}
	}
}
