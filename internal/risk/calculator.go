package risk

import (
	"math"
	"strings"

	"github.com/life2you_mini/basisgate/internal/model"
)

// PositionFactors 持仓风险
type PositionFactors struct {
	Concentration      float64 // Herfindahl 指数
	LiquidityRatio     float64
	CrossVenueExposure float64 // 单一场所最大占比
	Correlation        float64 // 相邻持仓清算距离的相关系数
}

// LeverageFactors 杠杆风险
type LeverageFactors struct {
	AvgLeverage       float64
	MaxLeverage       float64
	MarginUtilization float64
	LiquidationRisk   float64
}

// ExecutionFactors 执行风险
type ExecutionFactors struct {
	Slippage    float64
	FillRate    float64
	LatencyMs   float64
	PriceImpact float64
}

// CounterpartyFactors 对手方风险
type CounterpartyFactors struct {
	VenueConcentration float64
	Rating             float64
	SettlementRisk     float64
	CustodyRisk        float64
}

// VenueRatings 场所可靠性评级表
type VenueRatings struct {
	table    map[string]float64
	fallback float64
}

// NewVenueRatings 创建评级表，未知场所使用 fallback
func NewVenueRatings(table map[string]float64, fallback float64) VenueRatings {
	normalized := make(map[string]float64, len(table))
	for venue, rating := range table {
		normalized[strings.ToLower(venue)] = rating
	}
	return VenueRatings{table: normalized, fallback: fallback}
}

// Rating 查询场所评级
func (r VenueRatings) Rating(venue string) float64 {
	if rating, ok := r.table[strings.ToLower(venue)]; ok {
		return rating
	}
	return r.fallback
}

// LiquidationDistance 当前价格距离清算价格的比例，上限为1
func LiquidationDistance(currentPrice, liquidationPrice float64) float64 {
	if currentPrice <= 0 {
		return 0
	}
	return math.Min(math.Abs(currentPrice-liquidationPrice)/currentPrice, 1)
}

// PositionRisk 计算持仓集中度、流动性、跨场所敞口和相关性
func PositionRisk(positions []model.PositionSnapshot, depthMultiple float64) PositionFactors {
	var f PositionFactors
	totalSize := 0.0
	for _, p := range positions {
		totalSize += math.Abs(p.Size)
	}
	if totalSize == 0 {
		return f
	}

	byVenue := make(map[string]float64)
	for _, p := range positions {
		share := math.Abs(p.Size) / totalSize
		f.Concentration += share * share
		byVenue[strings.ToLower(p.Venue)] += math.Abs(p.Size)
	}
	f.CrossVenueExposure = maxShare(byVenue, totalSize)

	if depthMultiple > 0 {
		f.LiquidityRatio = math.Min(totalSize/(totalSize*depthMultiple), 1)
	}

	distances := make([]float64, 0, len(positions))
	for _, p := range positions {
		if p.CurrentPrice <= 0 {
			continue
		}
		distances = append(distances, (p.CurrentPrice-p.LiquidationPrice)/p.CurrentPrice)
	}
	if len(distances) >= 3 {
		f.Correlation = math.Abs(pearson(distances[:len(distances)-1], distances[1:]))
	}
	return f
}

// LeverageRisk 计算平均/最大杠杆、保证金使用率和清算风险
func LeverageRisk(positions []model.PositionSnapshot) LeverageFactors {
	var f LeverageFactors
	if len(positions) == 0 {
		return f
	}

	var totalLeverage, totalMargin, totalNotional, liqRisk float64
	var priced int
	for _, p := range positions {
		lev := p.EffectiveLeverage()
		totalLeverage += lev
		f.MaxLeverage = math.Max(f.MaxLeverage, lev)
		totalMargin += p.Margin
		totalNotional += math.Abs(p.Notional())

		if p.CurrentPrice > 0 {
			liqRisk += 1 - LiquidationDistance(p.CurrentPrice, p.LiquidationPrice)
			priced++
		}
	}

	f.AvgLeverage = totalLeverage / float64(len(positions))
	if totalNotional > 0 {
		f.MarginUtilization = totalMargin / totalNotional
	}
	if priced > 0 {
		f.LiquidationRisk = liqRisk / float64(priced)
	}
	return f
}

// ExecutionRisk 计算滑点、成交率、延迟和价格冲击
func ExecutionRisk(trades []model.TradeRecord) ExecutionFactors {
	var f ExecutionFactors
	if len(trades) == 0 {
		return f
	}

	var slippage, latency, impact float64
	var closed, impacted int
	for _, t := range trades {
		slippage += t.Slippage
		latency += float64(t.ExecutionLatency.Milliseconds())
		if t.Status == model.TradeStatusClosed {
			closed++
		}
		if t.ExitPrice != nil && t.EntryPrice > 0 {
			impact += math.Abs(*t.ExitPrice-t.EntryPrice) / t.EntryPrice
			impacted++
		}
	}

	n := float64(len(trades))
	f.Slippage = slippage / n
	f.FillRate = float64(closed) / n
	f.LatencyMs = latency / n
	if impacted > 0 {
		f.PriceImpact = impact / float64(impacted)
	}
	return f
}

// CounterpartyRisk 计算场所集中度和按名义价值加权的对手方评级
func CounterpartyRisk(positions []model.PositionSnapshot, ratings VenueRatings) CounterpartyFactors {
	var f CounterpartyFactors
	byVenue := make(map[string]float64)
	total := 0.0
	for _, p := range positions {
		volume := math.Abs(p.Notional())
		if volume == 0 {
			volume = math.Abs(p.Size)
		}
		byVenue[strings.ToLower(p.Venue)] += volume
		total += volume
	}
	if total == 0 {
		return f
	}

	for venue, volume := range byVenue {
		f.Rating += volume / total * ratings.Rating(venue)
	}
	f.VenueConcentration = maxShare(byVenue, total)
	f.SettlementRisk = 1 - f.Rating
	f.CustodyRisk = f.VenueConcentration * f.SettlementRisk
	return f
}

// Calculator 按配置计算全部风险因子
type Calculator struct {
	ratings       VenueRatings
	depthMultiple float64
}

// NewCalculator 创建计算器
func NewCalculator(ratings VenueRatings, depthMultiple float64) *Calculator {
	return &Calculator{ratings: ratings, depthMultiple: depthMultiple}
}

// Compute 汇总为扁平的因子映射
func (c *Calculator) Compute(positions []model.PositionSnapshot, trades []model.TradeRecord) map[string]float64 {
	return ComputeFactors(positions, trades, c.ratings, c.depthMultiple)
}

// ComputeFactors 计算全部16个风险因子
func ComputeFactors(positions []model.PositionSnapshot, trades []model.TradeRecord, ratings VenueRatings, depthMultiple float64) map[string]float64 {
	pos := PositionRisk(positions, depthMultiple)
	lev := LeverageRisk(positions)
	exec := ExecutionRisk(trades)
	cp := CounterpartyRisk(positions, ratings)

	return map[string]float64{
		model.FactorPositionConcentration: pos.Concentration,
		model.FactorPositionLiquidity:     pos.LiquidityRatio,
		model.FactorCrossExchangeExposure: pos.CrossVenueExposure,
		model.FactorPositionCorrelation:   pos.Correlation,

		model.FactorAvgLeverage:       lev.AvgLeverage,
		model.FactorMaxLeverage:       lev.MaxLeverage,
		model.FactorMarginUtilization: lev.MarginUtilization,
		model.FactorLiquidationRisk:   lev.LiquidationRisk,

		model.FactorSlippageImpact:   exec.Slippage,
		model.FactorOrderFillRate:    exec.FillRate,
		model.FactorExecutionLatency: exec.LatencyMs,
		model.FactorPriceImpact:      exec.PriceImpact,

		model.FactorExchangeConcentration: cp.VenueConcentration,
		model.FactorCounterpartyRating:    cp.Rating,
		model.FactorSettlementRisk:        cp.SettlementRisk,
		model.FactorCustodyRisk:           cp.CustodyRisk,
	}
}

func maxShare(byVenue map[string]float64, total float64) float64 {
	var best float64
	for _, v := range byVenue {
		best = math.Max(best, v/total)
	}
	return best
}

// pearson 样本相关系数，任一序列方差为0时返回0
func pearson(x, y []float64) float64 {
	n := len(x)
	if n == 0 || n != len(y) {
		return 0
	}
	var mx, my float64
	for i := 0; i < n; i++ {
		mx += x[i]
		my += y[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}
