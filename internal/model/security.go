package model

import (
	"time"
)

// IncidentStatus 安全事件状态
type IncidentStatus string

const (
	IncidentActive   IncidentStatus = "active"
	IncidentResolved IncidentStatus = "resolved"
)

// 安全事件类型
const (
	IncidentSuspiciousProfitVariance = "suspicious_profit_variance"
	IncidentRapidTrading             = "rapid_trading"
	IncidentRateLimitExceeded        = "rate_limit_exceeded"
	IncidentKillSwitchActivation     = "kill_switch_activation"
	IncidentKillSwitchDeactivation   = "kill_switch_deactivation"
)

// SecurityIncident 检测到的异常或开关事件
type SecurityIncident struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	RiskLevel   RiskLevel      `json:"risk_level"`
	Status      IncidentStatus `json:"status"`
	AccountID   string         `json:"account_id,omitempty"`
}

// KillSwitchState 全局停止交易开关
type KillSwitchState struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason"`
	LastChanged time.Time `json:"last_changed"`
}

// RateLimitWindow 账户滑动窗口内的请求时间
type RateLimitWindow struct {
	AccountID  string      `json:"account_id"`
	Timestamps []time.Time `json:"timestamps"`
}
