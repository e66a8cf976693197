package s3blob

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeclash/marginbot/internal/domain"
)

func TestExportPath(t *testing.T) {
	oldest := time.Date(2026, 7, 3, 9, 30, 0, 0, time.UTC)
	exported := time.Date(2026, 8, 27, 3, 15, 0, 0, time.UTC)

	assert.Equal(t, "ledger/2026-07/20260827T031500Z.jsonl", exportPath(oldest, exported))
}

func TestMarshalJSONL(t *testing.T) {
	closures := []domain.Closure{
		{
			ID:          "c1",
			PositionID:  "p1",
			UserID:      "u1",
			ContextID:   "ctx1",
			Symbol:      "EURUSD",
			ExitPrice:   1.0950,
			RealizedPnL: -500,
			Reason:      domain.CloseReasonStopLoss,
			ClosedAt:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:         "c2",
			PositionID: "p2",
			UserID:     "u2",
			Symbol:     "GBPUSD",
			Reason:     domain.CloseReasonLiquidation,
			ClosedAt:   time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC),
		},
	}

	buf, err := marshalJSONL(closures)
	require.NoError(t, err)

	// One JSON object per line, decodable back to the same records.
	sc := bufio.NewScanner(bytes.NewReader(buf))
	var decoded []domain.Closure
	for sc.Scan() {
		var c domain.Closure
		require.NoError(t, json.Unmarshal(sc.Bytes(), &c))
		decoded = append(decoded, c)
	}
	require.NoError(t, sc.Err())
	require.Len(t, decoded, 2)
	assert.Equal(t, closures[0], decoded[0])
	assert.Equal(t, closures[1], decoded[1])
}

func TestMarshalJSONLEmpty(t *testing.T) {
	buf, err := marshalJSONL([]domain.Closure{})
	require.NoError(t, err)
	assert.Empty(t, buf)
}
