package trading

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/model"
)

// PaperDispatcher 模拟执行：按预估收益成交，按固定费率收取手续费
type PaperDispatcher struct {
	commissionRate decimal.Decimal
	logger         *zap.Logger
	now            func() time.Time
}

// NewPaperDispatcher 创建模拟执行方
func NewPaperDispatcher(commissionRate float64, logger *zap.Logger) *PaperDispatcher {
	return &PaperDispatcher{
		commissionRate: decimal.NewFromFloat(commissionRate),
		logger:         logger.With(zap.String("component", "paper_dispatcher")),
		now:            time.Now,
	}
}

// Execute 模拟成交
func (d *PaperDispatcher) Execute(ctx context.Context, opp model.BasisOpportunity, account model.AccountSnapshot) (model.TradeResult, error) {
	if err := ctx.Err(); err != nil {
		return model.TradeResult{}, err
	}

	notional := decimal.NewFromFloat(opp.RequiredCapital).Mul(decimal.NewFromFloat(opp.SpotPrice))
	commission := notional.Mul(d.commissionRate).Round(8)

	result := model.TradeResult{
		Success:    true,
		Profit:     opp.EstimatedProfit,
		Commission: commission.InexactFloat64(),
		Timestamp:  d.now(),
	}

	d.logger.Debug("模拟成交",
		zap.String("account_id", account.ID),
		zap.String("token", opp.Token),
		zap.String("spot_venue", opp.SourceVenue),
		zap.String("futures_venue", opp.TargetVenue),
		zap.Float64("amount", opp.RequiredCapital),
		zap.Float64("commission", result.Commission))

	return result, nil
}
