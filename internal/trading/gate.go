package trading

import (
	"errors"

	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/config"
	"github.com/life2you_mini/basisgate/internal/metrics"
	"github.com/life2you_mini/basisgate/internal/model"
)

// 拒绝原因
const (
	ViolationDailyVolume     = "daily volume limit exceeded"
	ViolationPositionSize    = "position size exceeds maximum allowed"
	ViolationLeverage        = "leverage exceeds maximum allowed"
	ViolationAccountRisk     = "account risk level too high"
	ViolationSuspicious      = "suspicious activity detected"
	ViolationRateLimit       = "rate limit exceeded"
	ViolationSystemHalted    = "system halted"
	violationVolumeUnchecked = "daily volume unavailable"
)

// SecurityGuard 准入依赖的安全检查
type SecurityGuard interface {
	DailyVolume(accountID string) (float64, error)
	DetectSuspiciousActivity(accountID string) bool
	CheckRateLimit(accountID string) bool
	RecordTrade(entry model.TradeLogEntry) error
}

// Decision 准入结果
type Decision struct {
	Approved   bool     `json:"approved"`
	Violations []string `json:"violations,omitempty"`
	AccountID  string   `json:"account_id"`
	Token      string   `json:"token"`
	Amount     float64  `json:"amount"`
	Leverage   float64  `json:"leverage"`
}

// AdmissionGate 交易准入检查
type AdmissionGate struct {
	limits config.LimitsConfig
	guard  SecurityGuard
	logger *zap.Logger
}

// NewAdmissionGate 创建准入检查
func NewAdmissionGate(limits config.LimitsConfig, guard SecurityGuard, logger *zap.Logger) *AdmissionGate {
	return &AdmissionGate{
		limits: limits,
		guard:  guard,
		logger: logger.With(zap.String("component", "admission_gate")),
	}
}

// Evaluate 执行全部六项检查，不提前返回，所有失败原因都会列出
func (g *AdmissionGate) Evaluate(opp model.BasisOpportunity, account model.AccountSnapshot, amount, leverage float64) Decision {
	var violations []string

	volume, err := g.guard.DailyVolume(account.ID)
	switch {
	case errors.Is(err, model.ErrSystemHalted):
		violations = append(violations, ViolationSystemHalted)
	case err != nil:
		g.logger.Error("查询日成交量失败", zap.String("account_id", account.ID), zap.Error(err))
		violations = append(violations, violationVolumeUnchecked)
	case volume+amount > g.limits.MaxDailyVolume:
		violations = append(violations, ViolationDailyVolume)
	}

	if amount > g.limits.MaxPositionSize {
		violations = append(violations, ViolationPositionSize)
	}
	if leverage > g.limits.MaxLeverage {
		violations = append(violations, ViolationLeverage)
	}
	if account.RiskLevel == model.RiskLevelHigh {
		violations = append(violations, ViolationAccountRisk)
	}
	if g.guard.DetectSuspiciousActivity(account.ID) {
		violations = append(violations, ViolationSuspicious)
	}
	if !g.guard.CheckRateLimit(account.ID) {
		violations = append(violations, ViolationRateLimit)
	}

	decision := Decision{
		Approved:   len(violations) == 0,
		Violations: violations,
		AccountID:  account.ID,
		Token:      opp.Token,
		Amount:     amount,
		Leverage:   leverage,
	}

	if decision.Approved {
		metrics.AdmissionDecisions.WithLabelValues("approved").Inc()
		g.logger.Debug("准入通过",
			zap.String("account_id", account.ID),
			zap.String("token", opp.Token),
			zap.Float64("amount", amount))
	} else {
		metrics.AdmissionDecisions.WithLabelValues("rejected").Inc()
		for _, v := range violations {
			metrics.AdmissionViolations.WithLabelValues(v).Inc()
		}
		g.logger.Info("准入拒绝",
			zap.String("account_id", account.ID),
			zap.String("token", opp.Token),
			zap.Float64("amount", amount),
			zap.Float64("daily_volume", volume),
			zap.Strings("violations", violations))
	}

	return decision
}
