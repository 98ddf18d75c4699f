package realtime

import (
	"encoding/json"
	"sync"
)

// eventQueue holds control messages issued before the data channel is open.
// Flush sends them strictly in issuance order; nothing is dropped or
// reordered.
type eventQueue struct {
	mu      sync.Mutex
	pending [][]byte
}

// Enqueue marshals the event and appends it to the queue.
func (q *eventQueue) Enqueue(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.pending = append(q.pending, data)
	q.mu.Unlock()
	return nil
}

// Flush drains the queue through send, in order. A send failure stops the
// flush and requeues the remaining messages at the front.
func (q *eventQueue) Flush(send func([]byte) error) error {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for i, msg := range pending {
		if err := send(msg); err != nil {
			q.mu.Lock()
			q.pending = append(pending[i:], q.pending...)
			q.mu.Unlock()
			return err
		}
	}
	return nil
}

// Len returns the number of queued messages.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
