package domain

// DefaultContractSize is the units-per-lot multiplier applied when a
// competition context does not override it (one standard FX lot).
const DefaultContractSize = 100_000.0

// MarginStatus classifies a margin level against the configured thresholds.
type MarginStatus string

const (
	MarginStatusSafe        MarginStatus = "safe"
	MarginStatusWarning     MarginStatus = "warning"
	MarginStatusDanger      MarginStatus = "danger"
	MarginStatusLiquidation MarginStatus = "liquidation"
)

// RiskThresholds holds the margin-level cutoffs and order limits for one
// competition context. Margin levels are percentages.
type RiskThresholds struct {
	Liquidation  float64
	MarginCall   float64
	Warning      float64
	MaxPositions int
	MaxLeverage  float64
	MaxLotSize   float64
}

// DefaultRiskThresholds are applied when a context has no stored settings.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{
		Liquidation:  50,
		MarginCall:   100,
		Warning:      150,
		MaxPositions: 10,
		MaxLeverage:  500,
		MaxLotSize:   100,
	}
}

// MarginSnapshot is a derived view of one account's margin state. It is
// computed on demand and never persisted.
type MarginSnapshot struct {
	Equity      float64
	UsedMargin  float64
	MarginLevel float64
	Status      MarginStatus
}

// MarginAccount is one user's margin book inside a competition context, as
// read from the system of record for margin sweeps.
type MarginAccount struct {
	UserID     string
	ContextID  string
	Capital    float64
	UsedMargin float64
}

// OrderRequest carries the parameters of a prospective new order for
// validation against risk limits.
type OrderRequest struct {
	Symbol           string
	Quantity         float64
	Leverage         float64
	RequiredMargin   float64
	AvailableCapital float64
	OpenPositions    int
}
