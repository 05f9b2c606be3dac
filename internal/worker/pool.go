// Package worker runs the pool of queue consumers.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/user/error-pipeline/internal/domain"
	"github.com/user/error-pipeline/internal/usecase"
)

// consumeRetryDelay paces the consume loop after a broker error so an
// outage does not hot-spin the pool.
const consumeRetryDelay = time.Second

// Pool runs N independent consumers. Each consumer processes one message
// at a time; consumers run in parallel across tenants and fingerprints.
// Workers are stateless between messages.
type Pool struct {
	queue      domain.Queue
	processor  *usecase.Processor
	size       int
	logger     *slog.Logger
	retryDelay time.Duration
}

func NewPool(queue domain.Queue, processor *usecase.Processor, size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		size:       size,
		logger:     logger,
		retryDelay: consumeRetryDelay,
	}
}

// Run blocks until ctx is cancelled and every consumer has drained its
// in-flight message to a terminal ack or nack.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go func(id int) {
			defer wg.Done()
			p.consume(ctx, id)
		}(i)
	}
	wg.Wait()
	p.logger.Info("worker pool drained")
}

func (p *Pool) consume(ctx context.Context, id int) {
	logger := p.logger.With("consumer", id)
	for {
		msg, err := p.queue.Consume(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logger.Error("consume failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
			continue
		}
		if msg == nil {
			continue
		}

		// Settle with a fresh context so shutdown does not strand the
		// in-flight message between ack and nack.
		if err := p.processor.Handle(context.WithoutCancel(ctx), msg); err != nil {
			logger.Error("failed to settle message", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
