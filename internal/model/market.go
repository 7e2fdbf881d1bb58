package model

import (
	"time"
)

// VenueCategory 交易场所类别
type VenueCategory string

// 场所类别，风险溢价 dex > hybrid > cex
const (
	CategoryDEX    VenueCategory = "dex"
	CategoryCEX    VenueCategory = "cex"
	CategoryHybrid VenueCategory = "hybrid"
)

// Valid 是否为已知类别
func (c VenueCategory) Valid() bool {
	switch c {
	case CategoryDEX, CategoryCEX, CategoryHybrid:
		return true
	}
	return false
}

// MarketQuote 单个场所某一时刻的现货/期货报价
type MarketQuote struct {
	Token         string        `json:"token"`
	SpotPrice     float64       `json:"spot_price"`
	FuturesPrice  float64       `json:"futures_price"`
	FundingRate   float64       `json:"funding_rate"`
	FuturesExpiry time.Time     `json:"futures_expiry"`
	Timestamp     time.Time     `json:"timestamp"`
	SourceVenue   string        `json:"source_venue"` // 现货腿所在场所
	TargetVenue   string        `json:"target_venue"` // 期货腿所在场所
	Category      VenueCategory `json:"category"`
}

// BasisOpportunity 基差套利机会
type BasisOpportunity struct {
	Token               string        `json:"token"`
	SpotPrice           float64       `json:"spot_price"`
	FuturesPrice        float64       `json:"futures_price"`
	BasisSpreadPct      float64       `json:"basis_spread_pct"`
	AnnualizedReturnPct float64       `json:"annualized_return_pct"`
	DaysToExpiry        float64       `json:"days_to_expiry"`
	RequiredCapital     float64       `json:"required_capital"`
	EstimatedProfit     float64       `json:"estimated_profit"`
	FundingRate         float64       `json:"funding_rate"`
	RiskScore           float64       `json:"risk_score"` // [0,1]
	SourceVenue         string        `json:"source_venue"`
	TargetVenue         string        `json:"target_venue"`
	Category            VenueCategory `json:"category"`
	FuturesExpiry       time.Time     `json:"futures_expiry"`
	DetectedAt          time.Time     `json:"detected_at"`
}

// Key 机会的唯一标识（代币+两腿场所）
func (o BasisOpportunity) Key() string {
	return o.Token + ":" + o.SourceVenue + ":" + o.TargetVenue
}
