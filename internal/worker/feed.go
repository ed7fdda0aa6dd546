// Package worker holds the service's background jobs. Each is started and
// stopped explicitly by its owner.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/order-verification/internal/core/service"
	"github.com/rl1809/order-verification/internal/metrics"
)

var (
	ErrQueueFull = errors.New("feed queue is full")
	ErrStopped   = errors.New("feed processor stopped")
)

const jobTimeout = time.Minute

type DispatchIngester interface {
	Ingest(ctx context.Context, rows []service.DispatchRow) (service.IngestResult, error)
}

type StockApplier interface {
	Apply(ctx context.Context, levels []service.StockLevel) (service.StockSyncResult, error)
}

type feedJob struct {
	dispatch []service.DispatchRow
	stock    []service.StockLevel
}

// FeedProcessor drains inbound feed batches on a fixed pool of workers.
type FeedProcessor struct {
	dispatch DispatchIngester
	stock    StockApplier
	metrics  *metrics.Registry
	workers  int

	mu      sync.RWMutex
	queue   chan feedJob
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func NewFeedProcessor(dispatch DispatchIngester, stock StockApplier, workers, queueSize int, m *metrics.Registry) *FeedProcessor {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &FeedProcessor{
		dispatch: dispatch,
		stock:    stock,
		metrics:  m,
		workers:  workers,
		queue:    make(chan feedJob, queueSize),
	}
}

// Start launches the workers. Jobs run with a context derived from ctx.
func (p *FeedProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	log.Info().Int("workers", p.workers).Msg("feed processor started")
}

// Stop rejects new batches and waits for queued ones to finish.
func (p *FeedProcessor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	log.Info().Msg("feed processor stopped")
}

func (p *FeedProcessor) SubmitDispatch(rows []service.DispatchRow) error {
	return p.submit(feedJob{dispatch: rows})
}

func (p *FeedProcessor) SubmitStock(levels []service.StockLevel) error {
	return p.submit(feedJob{stock: levels})
}

func (p *FeedProcessor) submit(job feedJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- job:
		p.metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *FeedProcessor) workerLoop(ctx context.Context, id int) {
	for job := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)

		if job.dispatch != nil {
			if res, err := p.dispatch.Ingest(jobCtx, job.dispatch); err != nil {
				log.Error().Err(err).Int("worker", id).Int("inserted", res.Inserted).Msg("dispatch batch interrupted")
			}
		}
		if job.stock != nil {
			if res, err := p.stock.Apply(jobCtx, job.stock); err != nil {
				log.Error().Err(err).Int("worker", id).Int("updated", res.Updated).Msg("stock batch interrupted")
			}
		}

		cancel()
	}
}
