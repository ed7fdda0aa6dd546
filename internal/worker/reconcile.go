package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/order-verification/internal/core/service"
)

type Recomputer interface {
	RecomputeAll(ctx context.Context) (service.RecomputeResult, error)
}

// Reconciler periodically recomputes every product's virtual stock to repair
// drift. Each product is handled under its own row lock.
type Reconciler struct {
	recomputer Recomputer
	interval   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewReconciler(r Recomputer, interval time.Duration) *Reconciler {
	return &Reconciler{recomputer: r, interval: interval}
}

// Start runs the job until Stop is called or ctx ends. A non-positive
// interval disables it.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.interval <= 0 || r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runOnce(ctx)
			}
		}
	}()
	log.Info().Dur("interval", r.interval).Msg("reconciler started")
}

func (r *Reconciler) runOnce(ctx context.Context) {
	res, err := r.recomputer.RecomputeAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reconcile pass failed")
		return
	}
	if res.Updated > 0 {
		log.Warn().Int("total", res.Total).Int("updated", res.Updated).Msg("reconcile repaired virtual stock")
	}
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
