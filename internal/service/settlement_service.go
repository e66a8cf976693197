package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradeclash/marginbot/internal/domain"
	"github.com/tradeclash/marginbot/internal/notify"
	"github.com/tradeclash/marginbot/internal/risk"
)

// SettlementService executes dequeued trades against the system of record.
// It is the only writer of position closures: the trigger path and the
// reconciliation sweep both funnel through the queue into Settle.
type SettlementService struct {
	positions    domain.PositionStore
	ledger       domain.LedgerStore
	notifier     *notify.Notifier
	contractSize float64
	logger       *slog.Logger
}

// NewSettlementService creates a SettlementService. ledger and notifier may
// be nil in reduced modes; settlement then skips those steps.
func NewSettlementService(
	positions domain.PositionStore,
	ledger domain.LedgerStore,
	notifier *notify.Notifier,
	contractSize float64,
	logger *slog.Logger,
) *SettlementService {
	if contractSize <= 0 {
		contractSize = domain.DefaultContractSize
	}
	return &SettlementService{
		positions:    positions,
		ledger:       ledger,
		notifier:     notifier,
		contractSize: contractSize,
		logger:       logger.With(slog.String("component", "settlement")),
	}
}

// Settle applies one queued trade. A nil return completes the trade; an error
// sends it back through the queue's retry path.
func (s *SettlementService) Settle(ctx context.Context, t domain.QueuedTrade) error {
	switch t.Action {
	case domain.TradeActionClose:
		return s.settleClose(ctx, t)
	default:
		// Nothing enqueues other actions today; dropping them silently would
		// hide a producer bug.
		s.logger.WarnContext(ctx, "discarding trade with unsupported action",
			slog.String("trade_id", t.ID),
			slog.String("action", string(t.Action)),
		)
		return nil
	}
}

func (s *SettlementService) settleClose(ctx context.Context, t domain.QueuedTrade) error {
	p, err := s.positions.GetByID(ctx, t.PositionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Already closed by an earlier trade or a manual action; the
			// close is idempotent from the queue's point of view.
			s.logger.InfoContext(ctx, "position already closed, completing trade",
				slog.String("trade_id", t.ID),
				slog.String("position_id", t.PositionID),
			)
			return nil
		}
		return fmt.Errorf("settlement: load position: %w", err)
	}

	realized := risk.UnrealizedPnL(p.Side, p.EntryPrice, t.Payload.ExitPrice, p.Quantity, s.contractSize)

	if err := s.positions.Close(ctx, p.PositionID, t.Payload.ExitPrice, t.Payload.Reason, realized); err != nil {
		return fmt.Errorf("settlement: close position: %w", err)
	}

	s.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", p.PositionID),
		slog.String("symbol", p.Symbol),
		slog.String("reason", string(t.Payload.Reason)),
		slog.Float64("exit_price", t.Payload.ExitPrice),
		slog.Float64("realized_pnl", realized),
	)

	s.recordClosure(ctx, p, t, realized)
	s.notifyClosed(ctx, p, t, realized)
	return nil
}

// recordClosure writes the ledger row. The position is already closed, so a
// ledger failure must not fail the trade; it is logged and left to the
// archiver's next pass over the store.
func (s *SettlementService) recordClosure(ctx context.Context, p domain.TrackedPosition, t domain.QueuedTrade, realized float64) {
	if s.ledger == nil {
		return
	}
	c := domain.Closure{
		ID:          uuid.New().String(),
		PositionID:  p.PositionID,
		UserID:      p.UserID,
		ContextID:   p.ContextID,
		Symbol:      p.Symbol,
		ExitPrice:   t.Payload.ExitPrice,
		RealizedPnL: realized,
		Reason:      t.Payload.Reason,
		ClosedAt:    time.Now().UTC(),
	}
	if err := s.ledger.RecordClosure(ctx, c); err != nil {
		s.logger.ErrorContext(ctx, "ledger write failed",
			slog.String("position_id", p.PositionID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) notifyClosed(ctx context.Context, p domain.TrackedPosition, t domain.QueuedTrade, realized float64) {
	if s.notifier == nil {
		return
	}
	title := fmt.Sprintf("Position closed: %s", p.Symbol)
	msg := fmt.Sprintf("%s %s closed (%s) at %.5f, realized P&L %.2f",
		p.Side, p.Symbol, t.Payload.Reason, t.Payload.ExitPrice, realized)
	if err := s.notifier.Notify(ctx, notify.EventPositionClosed, title, msg); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("error", err.Error()),
		)
	}
}
