package trading

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/basisgate/internal/model"
)

func TestNewStrategy(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		parseErr    bool
		unsupported bool
	}{
		{name: "基差策略", input: "basis"},
		{name: "大小写不敏感", input: " Basis "},
		{name: "永续策略未实现", input: "perpetual", unsupported: true},
		{name: "DEX策略未实现", input: "dex", unsupported: true},
		{name: "统计套利未实现", input: "statistical", unsupported: true},
		{name: "未知策略", input: "grid", parseErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := ParseStrategyKind(tt.input)
			if tt.parseErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			strategy, err := NewStrategy(kind)
			if tt.unsupported {
				assert.ErrorIs(t, err, model.ErrStrategyNotSupported)
				assert.Nil(t, strategy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StrategyBasis, strategy.Kind())
		})
	}
}

func TestBasisStrategy_SelectKeepsOrder(t *testing.T) {
	a := testOpportunity()
	b := testOpportunity()
	b.Token = "ETH"
	zero := testOpportunity()
	zero.Token = "SOL"
	zero.RequiredCapital = 0

	selected := basisStrategy{}.Select([]model.BasisOpportunity{b, zero, a})
	require.Len(t, selected, 2)
	assert.Equal(t, "ETH", selected[0].Token)
	assert.Equal(t, "BTC", selected[1].Token)
}

func TestPaperDispatcher_Execute(t *testing.T) {
	d := NewPaperDispatcher(0.001, zaptest.NewLogger(t))
	d.now = func() time.Time { return gateNow }

	result, err := d.Execute(context.Background(), testOpportunity(), testAccount("acct-1"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 9000.0, result.Profit)
	// 10 × 30000 × 0.1%
	assert.InDelta(t, 300.0, result.Commission, 1e-9)
	assert.Equal(t, gateNow, result.Timestamp)
}

func TestPaperDispatcher_CanceledContext(t *testing.T) {
	d := NewPaperDispatcher(0.001, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Execute(ctx, testOpportunity(), testAccount("acct-1"))
	assert.ErrorIs(t, err, context.Canceled)
}
