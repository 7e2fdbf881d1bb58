package model

import (
	"time"
)

// 风险因子名称
const (
	FactorPositionConcentration = "position_concentration"
	FactorPositionLiquidity     = "position_liquidity_ratio"
	FactorCrossExchangeExposure = "cross_exchange_exposure"
	FactorPositionCorrelation   = "position_correlation"

	FactorAvgLeverage       = "avg_leverage_ratio"
	FactorMaxLeverage       = "max_leverage_used"
	FactorMarginUtilization = "margin_utilization"
	FactorLiquidationRisk   = "liquidation_risk"

	FactorSlippageImpact   = "slippage_impact"
	FactorOrderFillRate    = "order_fill_rate"
	FactorExecutionLatency = "execution_latency"
	FactorPriceImpact      = "price_impact"

	FactorExchangeConcentration = "exchange_concentration"
	FactorCounterpartyRating    = "counterparty_rating"
	FactorSettlementRisk        = "settlement_risk"
	FactorCustodyRisk           = "custody_risk"
)

// ReportPeriod 风险历史报告周期
type ReportPeriod string

const (
	PeriodHourly  ReportPeriod = "hourly"
	PeriodDaily   ReportPeriod = "daily"
	PeriodWeekly  ReportPeriod = "weekly"
	PeriodMonthly ReportPeriod = "monthly"
)

// ReportPeriods 每次重算都要追加的周期
var ReportPeriods = []ReportPeriod{PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly}

// RiskThresholds 告警阈值
type RiskThresholds struct {
	Position     float64 `json:"position" mapstructure:"position" yaml:"position"`
	Leverage     float64 `json:"leverage" mapstructure:"leverage" yaml:"leverage"`
	Execution    float64 `json:"execution" mapstructure:"execution" yaml:"execution"`
	Counterparty float64 `json:"counterparty" mapstructure:"counterparty" yaml:"counterparty"`
}

// DefaultRiskThresholds 默认告警阈值
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{
		Position:     0.8,
		Leverage:     0.75,
		Execution:    0.7,
		Counterparty: 0.6,
	}
}

// RiskMetrics 某个监控对象的当前风险快照
type RiskMetrics struct {
	ID         string             `json:"id"`
	Subject    string             `json:"subject"`
	Factors    map[string]float64 `json:"factors"`
	Thresholds RiskThresholds     `json:"thresholds"`
	Timestamp  time.Time          `json:"timestamp"`
}

// RiskMetricsHistory 按报告周期追加的历史记录
type RiskMetricsHistory struct {
	Subject    string             `json:"subject"`
	Period     ReportPeriod       `json:"period"`
	Values     map[string]float64 `json:"values"`
	Thresholds RiskThresholds     `json:"thresholds"`
	Timestamp  time.Time          `json:"timestamp"`
}
