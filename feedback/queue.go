// Package feedback holds the user-facing message queue.
//
// Producers (the protocol layer and the run controller) append human-readable
// strings; the embedding UI drains them. Put never blocks.
package feedback

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Sink accepts user-facing messages.
type Sink interface {
	Put(msg string)
}

// Queue is an unbounded, ordered message queue.
type Queue struct {
	mx     sync.Mutex
	items  []string
	notify chan struct{}
}

var _ Sink = &Queue{}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Put appends msg to the queue.
func (q *Queue) Put(msg string) {
	q.mx.Lock()
	q.items = append(q.items, msg)
	q.mx.Unlock()

	log.Debug().Str("msg", msg).Msg("feedback")

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.items)
}

// Drain removes and returns every queued message, oldest first.
func (q *Queue) Drain() []string {
	q.mx.Lock()
	items := q.items
	q.items = nil
	q.mx.Unlock()
	return items
}

// Latest drains the queue and returns only the most recently added message.
// Intermediate messages are discarded.
func (q *Queue) Latest() (string, bool) {
	items := q.Drain()
	if len(items) == 0 {
		return "", false
	}
	return items[len(items)-1], true
}

// Notify returns a channel that receives a value after one or more Put calls.
// Multiple puts between receives are coalesced.
func (q *Queue) Notify() <-chan struct{} { return q.notify }

// Discard is a Sink that drops every message.
var Discard Sink = discard{}

type discard struct{}

func (discard) Put(string) {}
