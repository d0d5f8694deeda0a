package daemon

import (
	"sync"

	"github.com/intercom-mesh/intercom/internal/domain"
)

// feedbackQueueCapacity bounds how many pending FeedbackItems may sit between
// the stdout producer and the mission log writer before backpressure kicks
// in (spec §9 Design Notes).
const feedbackQueueCapacity = 256

// feedbackQueue is a thread-safe, bounded queue of domain.FeedbackItem
// sitting between the child's stdout producer and the mission log writer,
// grounded on the teacher's process.ringBuffer (same mutex-protected,
// bounded-with-eviction shape, applied to structured items instead of
// bytes). On overflow it drops the oldest "text" entry but never a
// "tool_use" or "turn" entry, since those anchor the mission timeline; if
// the queue is full of only anchor entries it grows rather than dropping one.
type feedbackQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []domain.FeedbackItem
	closed bool
}

func newFeedbackQueue() *feedbackQueue {
	q := &feedbackQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues item, evicting the oldest droppable entry first if the
// queue is at capacity.
func (q *feedbackQueue) Push(item domain.FeedbackItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= feedbackQueueCapacity {
		if i := q.oldestDroppableLocked(); i >= 0 {
			q.items = append(q.items[:i], q.items[i+1:]...)
		}
	}
	q.items = append(q.items, item)
	q.cond.Signal()
}

func (q *feedbackQueue) oldestDroppableLocked() int {
	for i, it := range q.items {
		if it.Kind == domain.FeedbackText {
			return i
		}
	}
	return -1
}

// Close signals that no more items will be pushed; Drain returns once the
// queue has been emptied after Close.
func (q *feedbackQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Signal()
}

// Drain calls sink for each item in FIFO order, blocking when the queue is
// empty, until Close has been called and the queue is drained dry.
func (q *feedbackQueue) Drain(sink func(domain.FeedbackItem)) {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		sink(item)
	}
}
