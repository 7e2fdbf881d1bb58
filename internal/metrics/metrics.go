package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/life2you_mini/basisgate/internal/model"
)

// ============ 扫描 ============

// ScanCycles 扫描周期计数，按结果区分
var ScanCycles = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "basisgate",
		Subsystem: "scanner",
		Name:      "cycles_total",
		Help:      "Total number of scan cycles by outcome",
	},
	[]string{"outcome"},
)

// OpportunitiesFound 最近一次扫描得到的机会数
var OpportunitiesFound = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "basisgate",
		Subsystem: "scanner",
		Name:      "opportunities",
		Help:      "Number of ranked opportunities in the last scan",
	},
)

// QuotesSkipped 被跳过的报价数，按原因区分
var QuotesSkipped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "basisgate",
		Subsystem: "scanner",
		Name:      "quotes_skipped_total",
		Help:      "Total number of malformed or filtered quotes",
	},
	[]string{"reason"},
)

// ============ 准入 ============

// AdmissionDecisions 准入结果计数
var AdmissionDecisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "basisgate",
		Subsystem: "admission",
		Name:      "decisions_total",
		Help:      "Total number of admission decisions",
	},
	[]string{"result"},
)

// AdmissionViolations 拒绝原因计数
var AdmissionViolations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "basisgate",
		Subsystem: "admission",
		Name:      "violations_total",
		Help:      "Total number of failed admission checks by reason",
	},
	[]string{"reason"},
)

// DispatchLatency 执行方调用耗时
var DispatchLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "basisgate",
		Subsystem: "admission",
		Name:      "dispatch_latency_seconds",
		Help:      "Time spent waiting for dispatcher results",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	},
)

// ============ 安全 ============

// KillSwitchActive 停止交易开关状态
var KillSwitchActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "basisgate",
		Subsystem: "security",
		Name:      "kill_switch_active",
		Help:      "1 when the global kill switch is active",
	},
)

// SystemRiskLevel 系统风险等级 0=low 1=medium 2=high
var SystemRiskLevel = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "basisgate",
		Subsystem: "security",
		Name:      "system_risk_level",
		Help:      "System risk level (0=low, 1=medium, 2=high)",
	},
)

// SecurityIncidents 安全事件计数
var SecurityIncidents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "basisgate",
		Subsystem: "security",
		Name:      "incidents_total",
		Help:      "Total number of security incidents by type and level",
	},
	[]string{"type", "level"},
)

// ============ 风险指标 ============

// RiskFactor 最近一次计算的风险因子
var RiskFactor = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "basisgate",
		Subsystem: "risk",
		Name:      "factor",
		Help:      "Latest computed risk factor per subject",
	},
	[]string{"subject", "factor"},
)

// PersistenceFailures 持久化失败计数
var PersistenceFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "basisgate",
		Subsystem: "storage",
		Name:      "failures_total",
		Help:      "Total number of persistence failures by operation",
	},
	[]string{"operation"},
)

// RiskLevelValue 风险等级对应的数值
func RiskLevelValue(level model.RiskLevel) float64 {
	switch level {
	case model.RiskLevelHigh:
		return 2
	case model.RiskLevelMedium:
		return 1
	default:
		return 0
	}
}

// BoolValue 布尔值转 gauge 数值
func BoolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
