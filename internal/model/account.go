package model

import (
	"strings"
	"time"
)

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// ParseRiskLevel 解析风险等级，未知值按 low 处理
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLevelHigh:
		return RiskLevelHigh
	case RiskLevelMedium:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// AccountSnapshot 可交易资金账户快照
type AccountSnapshot struct {
	ID               string             `json:"id"`
	SpotBalances     map[string]float64 `json:"spot_balances"`
	FuturesBalances  map[string]float64 `json:"futures_balances"`
	RiskLevel        RiskLevel          `json:"risk_level"`
	LastActivityTime time.Time          `json:"last_activity_time"`
}

// PositionSnapshot 单个场所的持仓敞口
type PositionSnapshot struct {
	Size             float64 `json:"size"`
	Leverage         float64 `json:"leverage"`
	Margin           float64 `json:"margin"`
	LiquidationPrice float64 `json:"liquidation_price"`
	CurrentPrice     float64 `json:"current_price"`
	Venue            string  `json:"venue"`
}

// EffectiveLeverage 杠杆下限为1
func (p PositionSnapshot) EffectiveLeverage() float64 {
	if p.Leverage < 1 {
		return 1
	}
	return p.Leverage
}

// Notional 名义价值
func (p PositionSnapshot) Notional() float64 {
	return p.Size * p.CurrentPrice
}
