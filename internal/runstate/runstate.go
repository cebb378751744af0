// Package runstate reads and patches the per-run status.json record.
//
// Patches are merged, never replaced: markers are only added or overwritten,
// history is only appended, and a non-empty input field is never clobbered
// by an empty incoming value.
package runstate

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
)

// StatusFile is the status record path relative to a run prefix
const StatusFile = "status.json"

// Patch is a partial status update. Zero-valued fields leave the record unchanged.
type Patch struct {
	RunID   string
	State   model.Stage
	Markers map[string]any
	Input   map[string]any
	Error   *model.RunError
}

// Store patches status records in an object store
type Store struct {
	objects  objstore.Store
	logger   *zap.Logger
	attempts int
	initial  time.Duration
	now      func() time.Time

	locks sync.Map // prefix -> *sync.Mutex
}

// Option configures a Store
type Option func(*Store)

// WithClock sets the time source used for history and error timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetry sets the read-merge-write attempts and initial backoff
func WithRetry(attempts int, initial time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if initial > 0 {
			s.initial = initial
		}
	}
}

// New creates a status store
func New(objects objstore.Store, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		objects:  objects,
		logger:   logger,
		attempts: 3,
		initial:  50 * time.Millisecond,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the status record at prefix, or objstore.ErrNotFound
func (s *Store) Get(ctx context.Context, prefix string) (*model.Status, error) {
	st, err := objstore.Load[model.Status](ctx, s.objects, objstore.Join(prefix, StatusFile))
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Patch merges p into the status record and appends entry when given.
// The whole read-merge-write is retried on transient store errors.
// Patches to one prefix are serialized within a process only; this is not a
// compare-and-swap across processes.
func (s *Store) Patch(ctx context.Context, prefix string, p Patch, entry *model.HistoryEntry) (*model.Status, error) {
	path := objstore.Join(prefix, StatusFile)

	mu := s.lock(prefix)
	mu.Lock()
	defer mu.Unlock()

	var merged *model.Status
	attempt := 0
	op := func() error {
		attempt++
		current, err := s.Get(ctx, prefix)
		switch {
		case err == nil:
		case objstore.IsNotFound(err):
			current = &model.Status{}
		case objstore.IsTransient(err):
			return err
		default:
			return backoff.Permanent(fmt.Errorf("read status %s: %w", path, err))
		}

		merged = Merge(current, p, entry, s.now())
		if err := objstore.PutJSON(ctx, s.objects, path, merged); err != nil {
			if objstore.IsTransient(err) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("write status %s: %w", path, err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		s.logger.Warn("status patch retry",
			zap.String("prefix", prefix),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(op, objstore.NewBackOff(ctx, s.attempts, s.initial), notify); err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *Store) lock(prefix string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(prefix, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// SetMarkers is a Patch that only touches markers
func (s *Store) SetMarkers(ctx context.Context, prefix string, markers map[string]any, phase, note string) (*model.Status, error) {
	var entry *model.HistoryEntry
	if phase != "" {
		entry = &model.HistoryEntry{Phase: phase, Note: note}
	}
	return s.Patch(ctx, prefix, Patch{Markers: markers}, entry)
}

// Fail records err as the reason the run stopped at stage and moves it to Failed.
// A *model.StageError keeps its code and ids; anything else is a storage or
// internal error.
func (s *Store) Fail(ctx context.Context, prefix string, stage model.Stage, err error) (*model.Status, error) {
	runErr := s.RunError(stage, err)
	return s.Patch(ctx, prefix,
		Patch{State: model.StageFailed, Error: runErr},
		&model.HistoryEntry{Phase: string(stage), Note: "failed: " + runErr.Code})
}

// RunError converts err into the persisted error shape
func (s *Store) RunError(stage model.Stage, err error) *model.RunError {
	re := &model.RunError{Stage: stage, At: s.now()}
	if se, ok := model.AsStageError(err); ok {
		re.Code = se.Code
		re.Message = se.Error()
		re.IDs = model.CapIDs(se.IDs, 50)
		re.Details = model.CapIDs(se.Details, 50)
		return re
	}
	re.Message = err.Error()
	if objstore.IsTransient(err) || objstore.IsMalformed(err) {
		re.Code = model.CodeStorageError
	} else {
		re.Code = model.CodeInternalError
	}
	return re
}

// Merge applies p and entry to current without mutating it
func Merge(current *model.Status, p Patch, entry *model.HistoryEntry, now time.Time) *model.Status {
	out := &model.Status{}
	if current != nil {
		*out = *current
	}

	if p.RunID != "" {
		out.RunID = p.RunID
	}
	if p.State != "" {
		out.State = p.State
	}
	if p.Error != nil {
		e := *p.Error
		out.Error = &e
	}

	markers := make(map[string]any, len(out.Markers)+len(p.Markers))
	for k, v := range out.Markers {
		markers[k] = v
	}
	for k, v := range p.Markers {
		markers[k] = v
	}
	out.Markers = markers

	input := make(map[string]any, len(out.Input)+len(p.Input))
	for k, v := range out.Input {
		input[k] = v
	}
	for k, v := range p.Input {
		if existing, ok := input[k]; ok && !IsEmpty(existing) && IsEmpty(v) {
			continue
		}
		input[k] = v
	}
	out.Input = input

	history := make([]model.HistoryEntry, len(out.History), len(out.History)+1)
	copy(history, out.History)
	if entry != nil {
		stamped := *entry
		stamped.At = now
		history = append(history, stamped)
	}
	out.History = history

	ts := now
	out.Updated = &ts
	return out
}

// IsEmpty reports whether an input value counts as empty: nil, "", a zero
// number, or an empty slice or map
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case bool:
		return false
	case float64:
		return t == 0
	case int:
		return t == 0
	case int64:
		return t == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// FailClosed records a permanent *model.StageError on the run and returns it.
// Other errors are returned untouched so the message is redelivered.
func (s *Store) FailClosed(ctx context.Context, prefix string, stage model.Stage, err error) error {
	se, ok := model.AsStageError(err)
	if !ok || !se.Permanent {
		return err
	}
	if _, perr := s.Fail(ctx, prefix, stage, err); perr != nil {
		return fmt.Errorf("record failure %s: %w", se.Code, perr)
	}
	s.logger.Warn("stage failed closed",
		zap.String("prefix", prefix),
		zap.String("stage", string(stage)),
		zap.String("code", se.Code),
		zap.Strings("ids", model.CapIDs(se.IDs, 10)))
	return err
}
