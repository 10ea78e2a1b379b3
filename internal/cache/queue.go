package cache

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
)

const defaultQueueDepth = 256

// serialQueue 是一个串行执行上下文：单个 goroutine 按入队顺序逐个执行任务。
// 任务 panic 会被捕获并记录，不会终止队列。
type serialQueue struct {
	name   string
	logger *logrus.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan func()
	done   chan struct{}
}

func newSerialQueue(name string, depth int, logger *logrus.Logger) *serialQueue {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	q := &serialQueue{
		name:   name,
		logger: logger,
		jobs:   make(chan func(), depth),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *serialQueue) run() {
	defer close(q.done)
	for job := range q.jobs {
		q.exec(job)
	}
}

func (q *serialQueue) exec(job func()) {
	var pc panics.Catcher
	pc.Try(job)
	if recovered := pc.Recovered(); recovered != nil {
		q.logger.WithFields(logrus.Fields{
			"action": "queue_panic",
			"queue":  q.name,
		}).Error(recovered.AsError())
	}
}

// Go 以 fire-and-forget 方式入队；队列已关闭时丢弃任务并返回 false。
func (q *serialQueue) Go(job func()) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.WithFields(logrus.Fields{
			"action": "queue_drop",
			"queue":  q.name,
		}).Debug("queue closed, job dropped")
		return false
	}
	q.jobs <- job
	return true
}

// Do 入队并等待任务执行完成。ctx 只约束等待本身，已入队的任务仍会执行。
func (q *serialQueue) Do(ctx context.Context, job func()) error {
	finished := make(chan struct{})
	if !q.Go(func() {
		defer close(finished)
		job()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新任务，并等待已入队任务全部执行完毕。
func (q *serialQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	<-q.done
}
