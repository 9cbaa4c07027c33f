package invalidation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// auditJob is one observed broker event waiting to be written to the
// audit log.
type auditJob struct {
	log AuditLog
}

// writePool decouples audit-log persistence from the signalbroker's
// synchronous Publish call: observe() enqueues and returns immediately,
// so a slow Postgres write never blocks whichever goroutine published
// the originating event. Adapted from the teacher's warming worker
// pool, with warming-specific task/strategy fields dropped.
type writePool struct {
	auditLogger AuditLoggerInterface
	metrics     *Metrics

	queue    chan auditJob
	stopChan chan struct{}
	wg       sync.WaitGroup

	queued  atomic.Int64
	dropped atomic.Int64
}

// newWritePool starts numWorkers goroutines draining a bounded queue of
// audit-log writes.
func newWritePool(auditLogger AuditLoggerInterface, metrics *Metrics, numWorkers, queueSize int) *writePool {
	p := &writePool{
		auditLogger: auditLogger,
		metrics:     metrics,
		queue:       make(chan auditJob, queueSize),
		stopChan:    make(chan struct{}),
	}

	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}

	return p
}

// Submit enqueues a write, dropping it if the queue is full rather than
// blocking the broker's publisher.
func (p *writePool) Submit(job auditJob) {
	select {
	case <-p.stopChan:
		p.dropped.Add(1)
		return
	default:
	}
	select {
	case p.queue <- job:
		p.queued.Add(1)
	default:
		p.dropped.Add(1)
	}
}

func (p *writePool) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case job := <-p.queue:
			p.writeWithRetry(job)
		}
	}
}

// writeWithRetry retries a failed insert with exponential backoff
// before giving up and counting it as an error.
func (p *writePool) writeWithRetry(job auditJob) {
	const maxAttempts = 3
	backoff := 50 * time.Millisecond

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = p.auditLogger.Insert(ctx, job.log)
		cancel()
		if err == nil {
			p.metrics.AuditWrites.Add(1)
			return
		}
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	p.metrics.Errors.Add(1)
}

// Shutdown stops accepting new work and waits for in-flight writes.
func (p *writePool) Shutdown() {
	close(p.stopChan)
	p.wg.Wait()
}

// QueueDepth reports the number of writes waiting to be drained.
func (p *writePool) QueueDepth() int {
	return len(p.queue)
}
