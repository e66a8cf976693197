// Package reconcile implements the periodic correctness backstop: it rebuilds
// the trigger index from the system of record, re-checks triggers against
// cached prices, and re-evaluates every active margin book. The real-time
// path may miss ticks, restart, or race an external position edit; the sweep
// heals all of it on the next interval.
package reconcile

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
	"github.com/tradeclash/marginbot/internal/service"
	"github.com/tradeclash/marginbot/internal/trigger"
)

const sweepLockKey = "sweep:leader"

// Config holds the sweeper's tunables.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration

	// ContractSize is the units-per-lot multiplier for P&L math.
	ContractSize float64
}

// Sweeper runs the reconciliation loop. accounts, locks, and notifier are
// optional: without accounts the margin sweep is skipped (monitor mode),
// without locks every instance sweeps (single-instance deployments), and
// without a notifier margin calls are only logged.
type Sweeper struct {
	cfg       Config
	positions domain.PositionStore
	accounts  domain.AccountStore
	settings  domain.RiskSettingsStore
	prices    *service.PriceService
	index     *trigger.Index
	queue     domain.TradeQueue
	locks     domain.LockManager
	notifier  *notify.Notifier
	logger    *slog.Logger
}

// New creates a Sweeper.
func New(
	cfg Config,
	positions domain.PositionStore,
	accounts domain.AccountStore,
	settings domain.RiskSettingsStore,
	prices *service.PriceService,
	index *trigger.Index,
	queue domain.TradeQueue,
	locks domain.LockManager,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ContractSize <= 0 {
		cfg.ContractSize = domain.DefaultContractSize
	}
	return &Sweeper{
		cfg:       cfg,
		positions: positions,
		accounts:  accounts,
		settings:  settings,
		prices:    prices,
		index:     index,
		queue:     queue,
		locks:     locks,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "sweeper")),
	}
}

// Run sweeps on the configured interval until the context is cancelled. An
// initial sweep runs immediately so a fresh process starts with a populated
// trigger index instead of waiting a full interval.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper started", slog.Duration("interval", s.cfg.Interval))
	defer s.logger.Info("sweeper stopped")

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one pass under the distributed leader lock when one is
// configured. Losing the lock race is the normal case for followers.
func (s *Sweeper) sweep(ctx context.Context) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, sweepLockKey, s.cfg.Interval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.DebugContext(ctx, "sweep lock held elsewhere, skipping")
				return
			}
			s.logger.WarnContext(ctx, "sweep lock unavailable, sweeping anyway",
				slog.String("error", err.Error()),
			)
		} else {
			defer unlock()
		}
	}

	start := time.Now()
	fired, err := s.resyncTriggers(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "trigger resync failed",
			slog.String("error", err.Error()),
		)
		return
	}

	liquidated := 0
	if s.accounts != nil {
		liquidated = s.sweepMargins(ctx)
	}

	s.logger.InfoContext(ctx, "sweep complete",
		slog.Int("index_size", s.index.Len()),
		slog.Int("triggers_fired", fired),
		slog.Int("liquidation_closes", liquidated),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// resyncTriggers rebuilds the trigger index wholesale from the position store
// and re-checks every symbol against the best cached price. This is the
// authoritative resync point: positions modified or closed externally drop
// out, and crossings missed by the tick path fire here.
func (s *Sweeper) resyncTriggers(ctx context.Context) (fired int, err error) {
	positions, err := s.positions.ListOpenWithTriggers(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile: list open positions: %w", err)
	}
	s.index.ReplaceAll(positions)

	seen := make(map[string]struct{}, len(positions))
	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		symbols = append(symbols, p.Symbol)
	}

	quotes := s.prices.GetPrices(ctx, symbols)
	for symbol, q := range quotes {
		for _, f := range s.index.Check(symbol, q.Bid, q.Ask) {
			s.enqueueClose(ctx, f.Position, f.ExitPrice, f.Reason)
			fired++
		}
	}
	return fired, nil
}

// sweepMargins re-derives the margin level for every active account and
// cascade-liquidates books below the liquidation threshold. It returns the
// number of liquidation closes enqueued.
func (s *Sweeper) sweepMargins(ctx context.Context) int {
	accounts, err := s.accounts.ListActiveAccounts(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "list active accounts failed",
			slog.String("error", err.Error()),
		)
		return 0
	}

	closes := 0
	for _, acct := range accounts {
		n, err := s.sweepAccount(ctx, acct)
		if err != nil {
			s.logger.ErrorContext(ctx, "margin sweep failed for account",
				slog.String("user_id", acct.UserID),
				slog.String("error", err.Error()),
			)
			continue
		}
		closes += n
	}
	return closes
}

func (s *Sweeper) sweepAccount(ctx context.Context, acct domain.MarginAccount) (int, error) {
	positions, err := s.positions.ListOpenByUser(ctx, acct.UserID)
	if err != nil {
		return 0, fmt.Errorf("reconcile: list positions: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	thresholds, err := s.settings.Thresholds(ctx, acct.ContextID)
	if err != nil {
		return 0, fmt.Errorf("reconcile: load thresholds: %w", err)
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	quotes := s.prices.GetPrices(ctx, symbols)

	marks := make(map[string]float64, len(quotes))
	var floating float64
	for _, p := range positions {
		q, ok := quotes[p.Symbol]
		if !ok {
			continue
		}
		mark := q.Bid
		if p.Side == domain.SideShort {
			mark = q.Ask
		}
		marks[p.Symbol] = mark
		floating += risk.UnrealizedPnL(p.Side, p.EntryPrice, mark, p.Quantity, s.cfg.ContractSize)
	}

	equity := risk.Equity(acct.Capital, floating)
	level := risk.MarginLevel(equity, acct.UsedMargin)
	status := risk.StatusFor(level, thresholds)

	switch status {
	case domain.MarginStatusLiquidation:
		return s.liquidate(ctx, acct, positions, marks, equity, thresholds), nil
	case domain.MarginStatusDanger:
		s.logger.WarnContext(ctx, "margin call",
			slog.String("user_id", acct.UserID),
			slog.Float64("margin_level", level),
		)
		s.notify(ctx, notify.EventMarginCall,
			fmt.Sprintf("Margin call: user %s", acct.UserID),
			fmt.Sprintf("Margin level %.1f%% is below the margin-call threshold %.1f%%", level, thresholds.MarginCall),
		)
	}
	return 0, nil
}

// liquidate closes positions largest-unrealized-loss-first until the margin
// level recovers above the liquidation threshold. Freed margin per closure is
// estimated proportionally to position notional; the store recomputes exact
// figures at settlement, and the next sweep re-evaluates from those.
func (s *Sweeper) liquidate(
	ctx context.Context,
	acct domain.MarginAccount,
	positions []domain.TrackedPosition,
	marks map[string]float64,
	equity float64,
	thresholds domain.RiskThresholds,
) int {
	ordered := risk.LiquidationOrder(positions, marks, s.cfg.ContractSize)

	var totalNotional float64
	for _, p := range ordered {
		totalNotional += p.EntryPrice * p.Quantity * s.cfg.ContractSize
	}

	usedMargin := acct.UsedMargin
	closes := 0
	for _, p := range ordered {
		if risk.MarginLevel(equity, usedMargin) >= thresholds.Liquidation {
			break
		}
		mark, ok := marks[p.Symbol]
		if !ok {
			// No price, no realizable exit. Leave it for a later sweep.
			continue
		}

		s.index.Remove(p.PositionID)
		s.enqueueClose(ctx, p, mark, domain.CloseReasonLiquidation)
		closes++

		if totalNotional > 0 {
			usedMargin -= usedMargin * (p.EntryPrice * p.Quantity * s.cfg.ContractSize / totalNotional)
		}
	}

	s.logger.ErrorContext(ctx, "liquidating account",
		slog.String("user_id", acct.UserID),
		slog.Int("positions_closed", closes),
		slog.Float64("equity", equity),
	)
	s.notify(ctx, notify.EventMarginCall,
		fmt.Sprintf("Liquidation: user %s", acct.UserID),
		fmt.Sprintf("Equity %.2f fell below the liquidation threshold; closing %d position(s)", equity, closes),
	)
	return closes
}

func (s *Sweeper) enqueueClose(ctx context.Context, p domain.TrackedPosition, exitPrice float64, reason domain.CloseReason) {
	t := domain.QueuedTrade{
		ID:         uuid.New().String(),
		UserID:     p.UserID,
		PositionID: p.PositionID,
		Action:     domain.TradeActionClose,
		Payload: domain.TradePayload{
			ExitPrice: exitPrice,
			Reason:    reason,
		},
		Timestamp: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, t); err != nil {
		s.logger.ErrorContext(ctx, "enqueue failed, will retry next sweep",
			slog.String("position_id", p.PositionID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Sweeper) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("error", err.Error()),
		)
	}
}
