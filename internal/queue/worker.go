package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tradeclash/marginbot/internal/domain"
)

// Settler performs the actual settlement of a dequeued trade against the
// external position and wallet stores. It may block on I/O.
type Settler interface {
	Settle(ctx context.Context, t domain.QueuedTrade) error
}

// Worker drains the execution queue. Multiple workers may run concurrently:
// Dequeue claims each trade into the processing set, so exactly one worker
// owns a trade until it is completed or requeued.
type Worker struct {
	q        domain.TradeQueue
	settler  Settler
	idleWait time.Duration
	logger   *slog.Logger
}

// NewWorker creates a settlement worker. idleWait is how long the worker
// sleeps when the queue is empty before polling again.
func NewWorker(q domain.TradeQueue, settler Settler, idleWait time.Duration, logger *slog.Logger) *Worker {
	if idleWait <= 0 {
		idleWait = 250 * time.Millisecond
	}
	return &Worker{
		q:        q,
		settler:  settler,
		idleWait: idleWait,
		logger:   logger.With(slog.String("component", "queue_worker")),
	}
}

// Run processes trades until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("queue worker started")
	defer w.logger.Info("queue worker stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t, err := w.q.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrQueueEmpty) {
				w.logger.WarnContext(ctx, "dequeue failed",
					slog.String("error", err.Error()),
				)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.idleWait):
			}
			continue
		}

		w.settleOne(ctx, t)
	}
}

// settleOne runs one trade through settlement and resolves its queue state.
func (w *Worker) settleOne(ctx context.Context, t domain.QueuedTrade) {
	log := w.logger.With(
		slog.String("trade_id", t.ID),
		slog.String("position_id", t.PositionID),
		slog.String("action", string(t.Action)),
		slog.Int("retries", t.Retries),
	)

	if err := w.settler.Settle(ctx, t); err != nil {
		log.WarnContext(ctx, "settlement failed, requeueing",
			slog.String("error", err.Error()),
		)
		if rqErr := w.q.Requeue(ctx, t); rqErr != nil {
			log.ErrorContext(ctx, "requeue failed",
				slog.String("error", rqErr.Error()),
			)
		}
		return
	}

	if err := w.q.Complete(ctx, t); err != nil {
		log.WarnContext(ctx, "complete failed",
			slog.String("error", err.Error()),
		)
		return
	}
	log.InfoContext(ctx, "trade settled")
}
