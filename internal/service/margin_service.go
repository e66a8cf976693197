package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tradeclash/marginbot/internal/domain"
	"github.com/tradeclash/marginbot/internal/risk"
)

// MarginService derives margin state for accounts and validates prospective
// orders. All arithmetic lives in the risk package; this service supplies the
// inputs: open positions from the store, marks from the price service, and
// per-context thresholds from the settings store.
type MarginService struct {
	positions    domain.PositionStore
	settings     domain.RiskSettingsStore
	prices       *PriceService
	contractSize float64
	logger       *slog.Logger
}

// NewMarginService creates a MarginService. contractSize <= 0 falls back to
// the standard lot size.
func NewMarginService(
	positions domain.PositionStore,
	settings domain.RiskSettingsStore,
	prices *PriceService,
	contractSize float64,
	logger *slog.Logger,
) *MarginService {
	if contractSize <= 0 {
		contractSize = domain.DefaultContractSize
	}
	return &MarginService{
		positions:    positions,
		settings:     settings,
		prices:       prices,
		contractSize: contractSize,
		logger:       logger.With(slog.String("component", "margin_service")),
	}
}

// Status computes the margin snapshot from already-known figures. It is a
// thin pass-through kept on the service so callers outside the engine never
// import the risk package directly.
func (s *MarginService) Status(capital, unrealizedPnL, usedMargin float64, t *domain.RiskThresholds) domain.MarginSnapshot {
	thresholds := domain.DefaultRiskThresholds()
	if t != nil {
		thresholds = *t
	}
	return risk.Snapshot(capital, unrealizedPnL, usedMargin, thresholds)
}

// StatusForUser derives the full snapshot for one user: marks every open
// position at the best available price and aggregates floating P&L.
// Positions with no available mark contribute zero, which overstates equity
// for at most the cache-staleness window.
func (s *MarginService) StatusForUser(ctx context.Context, userID, contextID string, capital, usedMargin float64) (domain.MarginSnapshot, error) {
	positions, err := s.positions.ListOpenByUser(ctx, userID)
	if err != nil {
		return domain.MarginSnapshot{}, fmt.Errorf("margin_service: list open positions: %w", err)
	}

	thresholds, err := s.thresholds(ctx, contextID)
	if err != nil {
		return domain.MarginSnapshot{}, err
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	marks := s.prices.GetPrices(ctx, symbols)

	var floating float64
	for _, p := range positions {
		mark, ok := marks[p.Symbol]
		if !ok {
			s.logger.WarnContext(ctx, "no mark price for open position",
				slog.String("position_id", p.PositionID),
				slog.String("symbol", p.Symbol),
			)
			continue
		}
		floating += risk.UnrealizedPnL(p.Side, p.EntryPrice, markPrice(p.Side, mark), p.Quantity, s.contractSize)
	}

	return risk.Snapshot(capital, floating, usedMargin, thresholds), nil
}

// ValidateNewOrder checks a prospective order against the context's risk
// limits. A nil return means the order is acceptable; otherwise the error
// wraps domain.ErrOrderRejected with the specific reason.
func (s *MarginService) ValidateNewOrder(ctx context.Context, contextID string, req domain.OrderRequest) error {
	thresholds, err := s.thresholds(ctx, contextID)
	if err != nil {
		return err
	}
	if err := risk.ValidateNewOrder(req, thresholds); err != nil {
		s.logger.InfoContext(ctx, "order rejected",
			slog.String("context_id", contextID),
			slog.String("symbol", req.Symbol),
			slog.String("reason", err.Error()),
		)
		return err
	}
	return nil
}

func (s *MarginService) thresholds(ctx context.Context, contextID string) (domain.RiskThresholds, error) {
	t, err := s.settings.Thresholds(ctx, contextID)
	if err != nil {
		return domain.RiskThresholds{}, fmt.Errorf("margin_service: load thresholds: %w", err)
	}
	return t, nil
}

// markPrice picks the realizable side of the quote: longs close at the bid,
// shorts at the ask.
func markPrice(side domain.PositionSide, q domain.PriceQuote) float64 {
	if side == domain.SideLong {
		return q.Bid
	}
	return q.Ask
}
