package monitor

import (
	"cmp"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/life2you_mini/basisgate/internal/config"
	"github.com/life2you_mini/basisgate/internal/model"
)

// 跳过或过滤的原因
const (
	SkipMissingToken   = "missing_token"
	SkipInvalidPrice   = "invalid_price"
	SkipExpired        = "expired"
	FilterSameVenue    = "same_venue_only"
	FilterLowReturn    = "low_return"
	FilterBelowLotSize = "below_lot_size"
	FilterHighRisk     = "high_risk"
)

// 风险评分区间
const (
	spreadBandPct       = 5.0
	fundingBandRate     = 0.01
	tenorBandDays       = 30.0
	capitalBandExposure = 50000.0
	lowBandScore        = 0.1
	highBandScore       = 0.2
)

// SkippedQuote 被跳过的报价
type SkippedQuote struct {
	Quote  model.MarketQuote
	Reason string
}

// FilteredToken 有合法报价但未产生机会的代币
type FilteredToken struct {
	Token  string
	Reason string
}

// ScanResult 一次扫描的结果
type ScanResult struct {
	Opportunities []model.BasisOpportunity
	Skipped       []SkippedQuote
	Filtered      []FilteredToken
}

// Scanner 基差机会扫描器，无副作用
type Scanner struct {
	cfg       config.ScannerConfig
	synthetic map[string]struct{}
}

// NewScanner 创建扫描器
func NewScanner(cfg config.ScannerConfig) *Scanner {
	synthetic := make(map[string]struct{}, len(cfg.SyntheticVenues))
	for _, v := range cfg.SyntheticVenues {
		synthetic[strings.ToLower(v)] = struct{}{}
	}
	return &Scanner{cfg: cfg, synthetic: synthetic}
}

type spotLeg struct {
	price    float64
	venue    string
	category model.VenueCategory
}

type futuresLeg struct {
	price    float64
	funding  float64
	expiry   time.Time
	venue    string
	category model.VenueCategory
}

type tokenLegs struct {
	spots   []spotLeg
	futures []futuresLeg
}

// Scan 扫描一批报价，返回按风险排序的机会
func (s *Scanner) Scan(quotes []model.MarketQuote, now time.Time) ScanResult {
	var result ScanResult
	legs := make(map[string]*tokenLegs)

	for _, q := range quotes {
		switch {
		case strings.TrimSpace(q.Token) == "":
			result.Skipped = append(result.Skipped, SkippedQuote{Quote: q, Reason: SkipMissingToken})
			continue
		case !finite(q.SpotPrice) || !finite(q.FuturesPrice) || !finite(q.FundingRate) ||
			q.SpotPrice <= 0 || q.FuturesPrice <= 0:
			result.Skipped = append(result.Skipped, SkippedQuote{Quote: q, Reason: SkipInvalidPrice})
			continue
		case !q.FuturesExpiry.After(now):
			result.Skipped = append(result.Skipped, SkippedQuote{Quote: q, Reason: SkipExpired})
			continue
		}

		l, ok := legs[q.Token]
		if !ok {
			l = &tokenLegs{}
			legs[q.Token] = l
		}
		l.spots = append(l.spots, spotLeg{price: q.SpotPrice, venue: q.SourceVenue, category: q.Category})
		l.futures = append(l.futures, futuresLeg{
			price:    q.FuturesPrice,
			funding:  q.FundingRate,
			expiry:   q.FuturesExpiry,
			venue:    q.TargetVenue,
			category: q.Category,
		})
	}

	tokens := make([]string, 0, len(legs))
	for token := range legs {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		opp, reason := s.evaluateToken(token, legs[token], now)
		if reason != "" {
			result.Filtered = append(result.Filtered, FilteredToken{Token: token, Reason: reason})
			continue
		}
		result.Opportunities = append(result.Opportunities, opp)
	}

	Rank(result.Opportunities)
	return result
}

// evaluateToken 选出价差最大的合法配对并计算收益和风险
func (s *Scanner) evaluateToken(token string, l *tokenLegs, now time.Time) (model.BasisOpportunity, string) {
	slices.SortFunc(l.spots, func(a, b spotLeg) int {
		return cmp.Or(cmp.Compare(a.price, b.price), strings.Compare(a.venue, b.venue), strings.Compare(string(a.category), string(b.category)))
	})
	slices.SortFunc(l.futures, func(a, b futuresLeg) int {
		return cmp.Or(
			cmp.Compare(b.price, a.price),
			strings.Compare(a.venue, b.venue),
			a.expiry.Compare(b.expiry),
			cmp.Compare(a.funding, b.funding),
			strings.Compare(string(a.category), string(b.category)),
		)
	})

	var (
		found     bool
		spot      spotLeg
		futures   futuresLeg
		bestRatio float64
	)
	for _, sl := range l.spots {
		for _, fl := range l.futures {
			if !s.pairAllowed(sl.venue, fl.venue) {
				continue
			}
			ratio := (fl.price - sl.price) / sl.price
			if !found || ratio > bestRatio {
				bestRatio = ratio
				spot, futures = sl, fl
				found = true
			}
		}
	}
	if !found {
		return model.BasisOpportunity{}, FilterSameVenue
	}
	best := bestRatio * 100

	days := futures.expiry.Sub(now).Hours() / 24
	if days <= 0 {
		return model.BasisOpportunity{}, SkipExpired
	}

	annualized := best/days*365 + futures.funding*365*100
	if annualized <= s.cfg.MinAnnualizedReturnPct {
		return model.BasisOpportunity{}, FilterLowReturn
	}

	size := s.positionSize(spot.price)
	if size <= 0 {
		return model.BasisOpportunity{}, FilterBelowLotSize
	}

	category := riskierCategory(spot.category, futures.category)
	riskScore := RiskScore(best, futures.funding, category, days, size)
	if riskScore > s.cfg.MaxRiskScore {
		return model.BasisOpportunity{}, FilterHighRisk
	}

	return model.BasisOpportunity{
		Token:               token,
		SpotPrice:           spot.price,
		FuturesPrice:        futures.price,
		BasisSpreadPct:      best,
		AnnualizedReturnPct: annualized,
		DaysToExpiry:        days,
		RequiredCapital:     size,
		EstimatedProfit:     s.estimateProfit(spot.price, futures.price, futures.funding, days, size),
		FundingRate:         futures.funding,
		RiskScore:           riskScore,
		SourceVenue:         spot.venue,
		TargetVenue:         futures.venue,
		Category:            category,
		FuturesExpiry:       futures.expiry,
		DetectedAt:          now,
	}, ""
}

// pairAllowed 同一场所的现货和期货只在合成/DEX场所允许配对
func (s *Scanner) pairAllowed(spotVenue, futuresVenue string) bool {
	if !strings.EqualFold(spotVenue, futuresVenue) {
		return true
	}
	_, ok := s.synthetic[strings.ToLower(spotVenue)]
	return ok
}

// positionSize 仓位数量 = min(最大仓位, 最大仓位×杠杆/现货价)，按精度向下取整
func (s *Scanner) positionSize(spotPrice float64) float64 {
	maxPos := decimal.NewFromFloat(s.cfg.MaxPositionSize)
	size := maxPos.Mul(decimal.NewFromFloat(s.cfg.LeverageMultiple)).Div(decimal.NewFromFloat(spotPrice))
	if size.GreaterThan(maxPos) {
		size = maxPos
	}
	return size.RoundFloor(s.cfg.LotPrecision).InexactFloat64()
}

// estimateProfit 基差收益 + 资金费累计 - 两腿手续费
func (s *Scanner) estimateProfit(spotPrice, futuresPrice, fundingRate, days, size float64) float64 {
	qty := decimal.NewFromFloat(size)
	spotValue := qty.Mul(decimal.NewFromFloat(spotPrice))
	futuresValue := qty.Mul(decimal.NewFromFloat(futuresPrice))

	basis := futuresValue.Sub(spotValue)
	funding := spotValue.Mul(decimal.NewFromFloat(fundingRate)).
		Mul(decimal.NewFromFloat(days)).
		Div(decimal.NewFromInt(365))
	fees := spotValue.Mul(decimal.NewFromFloat(s.cfg.SpotFeeRate)).
		Add(futuresValue.Mul(decimal.NewFromFloat(s.cfg.FuturesFeeRate)))

	return basis.Add(funding).Sub(fees).Round(8).InexactFloat64()
}

// RiskScore 价差、资金费率、场所类别、期限、资金敞口五项加权，结果限制在[0,1]
func RiskScore(spreadPct, fundingRate float64, category model.VenueCategory, days, capital float64) float64 {
	score := band(math.Abs(spreadPct) > spreadBandPct) +
		band(math.Abs(fundingRate) > fundingBandRate) +
		categoryPremium(category) +
		band(days > tenorBandDays) +
		band(capital > capitalBandExposure)

	score = math.Round(score*100) / 100
	return math.Max(0, math.Min(1, score))
}

func band(high bool) float64 {
	if high {
		return highBandScore
	}
	return lowBandScore
}

func categoryPremium(c model.VenueCategory) float64 {
	switch c {
	case model.CategoryDEX:
		return 0.2
	case model.CategoryHybrid:
		return 0.15
	default:
		return 0.1
	}
}

func riskierCategory(a, b model.VenueCategory) model.VenueCategory {
	if categoryPremium(b) > categoryPremium(a) {
		return b
	}
	if a == "" {
		return model.CategoryCEX
	}
	return a
}

// riskTier 风险评分按0.1分档，同档内按收益排序
func riskTier(score float64) int {
	return int(math.Floor(score*10 + 1e-9))
}

// CompareOpportunities 排序规则：风险档位升序，年化收益降序，剩余天数升序，所需资金升序
func CompareOpportunities(a, b model.BasisOpportunity) int {
	return cmp.Or(
		cmp.Compare(riskTier(a.RiskScore), riskTier(b.RiskScore)),
		cmp.Compare(b.AnnualizedReturnPct, a.AnnualizedReturnPct),
		cmp.Compare(a.DaysToExpiry, b.DaysToExpiry),
		cmp.Compare(a.RequiredCapital, b.RequiredCapital),
		strings.Compare(a.Token, b.Token),
		strings.Compare(a.SourceVenue, b.SourceVenue),
		strings.Compare(a.TargetVenue, b.TargetVenue),
	)
}

// Rank 原地排序
func Rank(opps []model.BasisOpportunity) {
	slices.SortStableFunc(opps, CompareOpportunities)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
