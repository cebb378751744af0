package worker

import "context"

// JobFunc adapts a function to the Job interface
type JobFunc func(ctx context.Context) error

// Execute runs the function
func (f JobFunc) Execute(ctx context.Context) Result {
	return errResult{err: f(ctx)}
}

type errResult struct {
	err error
}

func (r errResult) GetError() error {
	return r.err
}

// RunAll executes jobs on a fresh pool of the given size and waits for them.
// Results line up with jobs; jobs left unsubmitted after cancellation are
// reported with the context error.
func RunAll(ctx context.Context, workers int, jobs []Job) []Result {
	if len(jobs) == 0 {
		return []Result{}
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	pool := NewPool(ctx, workers)
	submitted := 0
	for _, job := range jobs {
		if !pool.Submit(job) {
			break
		}
		submitted++
	}

	results := pool.Wait()
	for range jobs[submitted:] {
		results = append(results, errResult{err: context.Cause(ctx)})
	}
	return results
}

// Errors returns the non-nil errors among results
func Errors(results []Result) []error {
	var errs []error
	for _, r := range results {
		if err := r.GetError(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
