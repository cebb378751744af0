package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	body      []byte
	visibleAt time.Time
	attempts  int
	receipt   string
}

// MemoryQueue is an in-process at-least-once queue
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string][]*memoryEntry
	sent   map[string][]Message
	now    func() time.Time
	notify chan struct{}
}

// NewMemoryQueue creates an empty memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		queues: make(map[string][]*memoryEntry),
		sent:   make(map[string][]Message),
		now:    time.Now,
		notify: make(chan struct{}, 1),
	}
}

// SetClock replaces the time source
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Send enqueues m
func (q *MemoryQueue) Send(ctx context.Context, queue string, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := Encode(m)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.queues[queue] = append(q.queues[queue], &memoryEntry{body: body, visibleAt: q.now()})
	q.sent[queue] = append(q.sent[queue], m)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// SendRaw enqueues an undecoded body
func (q *MemoryQueue) SendRaw(queue string, body []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[queue] = append(q.queues[queue], &memoryEntry{body: append([]byte(nil), body...), visibleAt: q.now()})
}

// Receive leases up to max visible messages
func (q *MemoryQueue) Receive(ctx context.Context, queue string, max int, lease time.Duration) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Delivery
	for _, e := range q.queues[queue] {
		if len(out) >= max {
			break
		}
		if e.visibleAt.After(now) {
			continue
		}
		e.attempts++
		e.visibleAt = now.Add(lease)
		e.receipt = uuid.NewString()

		d := Delivery{Receipt: e.receipt, Attempt: e.attempts}
		d.Message, d.Err = Decode(e.body)
		d.Message.Attempt = e.attempts
		out = append(out, d)
	}
	return out, nil
}

// Ack removes the message leased under receipt
func (q *MemoryQueue) Ack(ctx context.Context, queue string, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.queues[queue]
	for i, e := range entries {
		if e.receipt == receipt {
			q.queues[queue] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("ack %s: unknown or expired receipt", queue)
}

// Sent returns every message ever sent to queue, in send order
func (q *MemoryQueue) Sent(queue string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.sent[queue]...)
}

// Pending returns the number of unacknowledged messages in queue
func (q *MemoryQueue) Pending(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[queue])
}

// Depth is Pending with the signature of the durable backend
func (q *MemoryQueue) Depth(ctx context.Context, queue string) (int, error) {
	return q.Pending(queue), nil
}

// Notify signals after every Send. Consumers may use it instead of polling.
func (q *MemoryQueue) Notify() <-chan struct{} {
	return q.notify
}
