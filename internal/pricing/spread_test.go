package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySymbol(t *testing.T) {
	assert.Equal(t, ClassMajor, ClassifySymbol("EURUSD"))
	assert.Equal(t, ClassMajor, ClassifySymbol("eur/usd"))
	assert.Equal(t, ClassCross, ClassifySymbol("EURGBP"))
	assert.Equal(t, ClassCross, ClassifySymbol("AUDJPY"))
	assert.Equal(t, ClassExotic, ClassifySymbol("USDTRY"))
	assert.Equal(t, ClassExotic, ClassifySymbol("XAUUSD"))
}

func TestEstimateFallsBackToClassDefault(t *testing.T) {
	e := NewSpreadEstimator()

	assert.Equal(t, 0.0002, e.Estimate("EURUSD"))
	assert.Equal(t, 0.0005, e.Estimate("EURGBP"))
	assert.Equal(t, 0.0020, e.Estimate("USDTRY"))
}

func TestObserveSmoothsTowardObservation(t *testing.T) {
	e := NewSpreadEstimator()

	e.Observe("EURUSD", 0.0003) // first observation stored directly
	assert.Equal(t, 0.0003, e.Estimate("EURUSD"))

	e.Observe("EURUSD", 0.0005)
	assert.InDelta(t, 0.3*0.0005+0.7*0.0003, e.Estimate("EURUSD"), 1e-12)
}

func TestObserveDampensJumps(t *testing.T) {
	e := NewSpreadEstimator()
	e.Observe("EURUSD", 0.0003)

	// A 66x jump gets the dampened weight, not the normal one.
	e.Observe("EURUSD", 0.02)
	got := e.Estimate("EURUSD")
	assert.InDelta(t, 0.1*0.02+0.9*0.0003, got, 1e-12)

	// The estimate moved, but nowhere near the outlier.
	assert.Less(t, got, 0.003)
	assert.Greater(t, got, 0.0003)
}

func TestObserveIgnoresNonPositive(t *testing.T) {
	e := NewSpreadEstimator()
	e.Observe("EURUSD", 0.0003)
	e.Observe("EURUSD", 0)
	e.Observe("EURUSD", -0.1)
	assert.Equal(t, 0.0003, e.Estimate("EURUSD"))
}
