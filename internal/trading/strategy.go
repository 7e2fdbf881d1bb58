package trading

import (
	"fmt"
	"strings"

	"github.com/life2you_mini/basisgate/internal/model"
)

// StrategyKind 策略类型
type StrategyKind string

const (
	StrategyBasis       StrategyKind = "basis"
	StrategyPerpetual   StrategyKind = "perpetual"
	StrategyDEX         StrategyKind = "dex"
	StrategyStatistical StrategyKind = "statistical"
)

// StrategyKinds 全部策略类型
var StrategyKinds = []StrategyKind{StrategyBasis, StrategyPerpetual, StrategyDEX, StrategyStatistical}

// Strategy 从排序后的机会中选出要执行的部分
type Strategy interface {
	Kind() StrategyKind
	Select(opps []model.BasisOpportunity) []model.BasisOpportunity
}

// ParseStrategyKind 解析策略类型
func ParseStrategyKind(s string) (StrategyKind, error) {
	kind := StrategyKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range StrategyKinds {
		if k == kind {
			return kind, nil
		}
	}
	return "", fmt.Errorf("未知的策略类型: %s", s)
}

// NewStrategy 只有基差策略已实现
func NewStrategy(kind StrategyKind) (Strategy, error) {
	switch kind {
	case StrategyBasis:
		return basisStrategy{}, nil
	case StrategyPerpetual, StrategyDEX, StrategyStatistical:
		return nil, fmt.Errorf("%w: %s", model.ErrStrategyNotSupported, kind)
	default:
		return nil, fmt.Errorf("未知的策略类型: %s", kind)
	}
}

type basisStrategy struct{}

func (basisStrategy) Kind() StrategyKind {
	return StrategyBasis
}

// Select 保持排序，去掉资金为0或风险评分越界的机会
func (basisStrategy) Select(opps []model.BasisOpportunity) []model.BasisOpportunity {
	selected := make([]model.BasisOpportunity, 0, len(opps))
	for _, opp := range opps {
		if opp.RequiredCapital <= 0 || opp.RiskScore < 0 || opp.RiskScore > 1 {
			continue
		}
		selected = append(selected, opp)
	}
	return selected
}
