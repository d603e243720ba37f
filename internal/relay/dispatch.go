package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// sendResult is what a queued job reports back to its caller.
type sendResult struct {
	messageID string
	err       error
}

type job struct {
	ctx  context.Context
	work func(context.Context) (string, error)
	done chan sendResult
}

// dispatchQueue serializes work per destination key (so two sends to the
// same peer/group can never interleave their ratchet advances or
// stanza ordering) while letting distinct destinations proceed fully
// concurrently — §4.9's dispatch queue. It is the synchronous-request
// analogue of the teacher's outbox.Sender poll loop: instead of a
// ticker draining a persisted table, each destination gets its own
// worker goroutine draining an in-memory channel, started lazily on
// first use and torn down when its queue empties.
type dispatchQueue struct {
	logger *zap.Logger

	mu      sync.Mutex
	workers map[string]chan *job
}

func newDispatchQueue(logger *zap.Logger) *dispatchQueue {
	return &dispatchQueue{logger: logger, workers: make(map[string]chan *job)}
}

// Submit enqueues work under destKey and blocks until it has run (or the
// context is cancelled first).
func (q *dispatchQueue) Submit(ctx context.Context, destKey string, work func(context.Context) (string, error)) (string, error) {
	j := &job{ctx: ctx, work: work, done: make(chan sendResult, 1)}
	q.enqueue(destKey, j)

	select {
	case res := <-j.done:
		return res.messageID, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// enqueue creates destKey's worker goroutine on first use and hands it
// j. The channel send happens under the same lock a draining worker
// uses to decide whether it's safe to retire, so a worker can never be
// torn down between a caller observing it exists and the send landing.
func (q *dispatchQueue) enqueue(destKey string, j *job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.workers[destKey]
	if !ok {
		ch = make(chan *job, 64)
		q.workers[destKey] = ch
		go q.drain(destKey, ch)
	}
	ch <- j
}

func (q *dispatchQueue) drain(destKey string, ch chan *job) {
	for {
		q.mu.Lock()
		select {
		case j := <-ch:
			q.mu.Unlock()
			id, err := j.work(j.ctx)
			j.done <- sendResult{messageID: id, err: err}
		default:
			delete(q.workers, destKey)
			q.mu.Unlock()
			return
		}
	}
}
