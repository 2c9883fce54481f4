package streams

import (
	"sync"
	"time"

	"github.com/ozontech/h2mux/frame"
)

type retireItem struct {
	id       frame.StreamID
	deadline time.Time
}

// RetireQueue держит id закрытых стримов до конца грейс-периода. Порядок
// вставки совпадает с порядком дедлайнов, поэтому хватает простого среза.
type RetireQueue struct {
	grace time.Duration
	queue []retireItem
	cond  *sync.Cond
	done  chan struct{}
	once  sync.Once
}

func NewRetireQueue(grace time.Duration) *RetireQueue {
	return &RetireQueue{
		grace: grace,
		queue: make([]retireItem, 0, 16),
		cond:  sync.NewCond(&sync.Mutex{}),
		done:  make(chan struct{}),
	}
}

func (q *RetireQueue) Add(id frame.StreamID) {
	q.cond.L.Lock()
	q.queue = append(q.queue, retireItem{id, time.Now().Add(q.grace)})
	q.cond.L.Unlock()
	q.cond.Signal()
}

// Next отдает очередной id, дождавшись его дедлайна.
// ok == false - очередь закрыта.
func (q *RetireQueue) Next() (frame.StreamID, bool) {
	q.cond.L.Lock()
	for len(q.queue) == 0 {
		select {
		case <-q.done:
			q.cond.L.Unlock()
			return 0, false
		default:
			q.cond.Wait()
		}
	}
	next := q.queue[0]
	q.queue = q.queue[1:]
	q.cond.L.Unlock()

	select {
	case <-q.done:
		return 0, false
	case <-time.After(time.Until(next.deadline)):
		return next.id, true
	}
}

func (q *RetireQueue) Close() {
	q.once.Do(func() {
		close(q.done)
	})
	q.cond.Broadcast()
}
