package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/config"
	"github.com/life2you_mini/basisgate/internal/metrics"
	"github.com/life2you_mini/basisgate/internal/model"
)

const (
	// 系统风险统计窗口
	incidentLookback = 24 * time.Hour
	// 成交量统计窗口
	volumeLookback = 24 * time.Hour
	// 待持久化事件缓冲
	pendingIncidentBuffer = 256
	// 默认返回的最近事件数
	defaultRecentIncidents = 100
)

// IncidentSink 安全事件持久化
type IncidentSink interface {
	StoreIncident(ctx context.Context, incident model.SecurityIncident) error
}

// Option 安全监控可选项
type Option func(*SecurityMonitor)

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(m *SecurityMonitor) {
		m.now = now
	}
}

// WithIncidentSink 设置事件持久化目标
func WithIncidentSink(sink IncidentSink) Option {
	return func(m *SecurityMonitor) {
		m.sink = sink
	}
}

// Status 安全状态报告
type Status struct {
	KillSwitch      model.KillSwitchState `json:"kill_switch"`
	SystemRiskLevel model.RiskLevel       `json:"system_risk_level"`
	IncidentCount   int                   `json:"incident_count"`
	TradeCount      int                   `json:"trade_count"`
	LogCapacity     int                   `json:"log_capacity"`
}

// SecurityMonitor 全局停止开关、账户限流、异常检测与系统风险等级。
// 所有状态由 mu 保护，I/O 不在锁内进行。
type SecurityMonitor struct {
	mu         sync.Mutex
	logger     *zap.Logger
	cfg        config.SecurityConfig
	now        func() time.Time
	killSwitch model.KillSwitchState
	riskLevel  model.RiskLevel
	incidents  *Ring[model.SecurityIncident]
	trades     *Ring[model.TradeLogEntry]
	rateLimits map[string][]time.Time

	sink    IncidentSink
	pending chan model.SecurityIncident
}

// NewSecurityMonitor 创建安全监控
func NewSecurityMonitor(cfg config.SecurityConfig, logger *zap.Logger, opts ...Option) *SecurityMonitor {
	m := &SecurityMonitor{
		logger:     logger.With(zap.String("component", "security_monitor")),
		cfg:        cfg,
		now:        time.Now,
		riskLevel:  model.RiskLevelLow,
		incidents:  NewRing[model.SecurityIncident](cfg.LogCapacity),
		trades:     NewRing[model.TradeLogEntry](cfg.LogCapacity),
		rateLimits: make(map[string][]time.Time),
		pending:    make(chan model.SecurityIncident, pendingIncidentBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.killSwitch.LastChanged = m.now()
	metrics.KillSwitchActive.Set(0)
	metrics.SystemRiskLevel.Set(0)
	return m
}

// RecordTrade 记录已执行交易，开关激活时失败
func (m *SecurityMonitor) RecordTrade(entry model.TradeLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.killSwitch.Active {
		return model.ErrSystemHalted
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now()
	}
	m.trades.Push(entry)
	return nil
}

// DailyVolume 账户最近24小时成交量，开关激活时失败
func (m *SecurityMonitor) DailyVolume(accountID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.killSwitch.Active {
		return 0, model.ErrSystemHalted
	}

	since := m.now().Add(-volumeLookback)
	var volume float64
	for i := 0; i < m.trades.Len(); i++ {
		t := m.trades.At(i)
		if t.AccountID == accountID && t.Timestamp.After(since) {
			volume += t.Amount
		}
	}
	return volume, nil
}

// DetectSuspiciousActivity 检查账户最近的交易，收益方差过大记 HIGH，交易过密记 MEDIUM
func (m *SecurityMonitor) DetectSuspiciousActivity(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	recent := m.trades.Last(m.cfg.SuspiciousWindow, func(t model.TradeLogEntry) bool {
		return t.AccountID == accountID
	})
	if len(recent) == 0 {
		return false
	}

	var mean float64
	for _, t := range recent {
		mean += t.Profit
	}
	mean /= float64(len(recent))
	var variance float64
	for _, t := range recent {
		d := t.Profit - mean
		variance += d * d
	}
	variance /= float64(len(recent))

	if variance > m.cfg.ProfitVarianceThreshold {
		m.logIncidentLocked(model.IncidentSuspiciousProfitVariance,
			fmt.Sprintf("账户 %s 最近 %d 笔交易收益方差 %.2f 超过阈值", accountID, len(recent), variance),
			model.RiskLevelHigh, model.IncidentActive, accountID)
		return true
	}

	if len(recent) < 2 {
		return false
	}
	// 调用方可以传入乱序时间戳，用最早和最晚的时间计算跨度
	first, last := recent[0].Timestamp, recent[0].Timestamp
	for _, t := range recent[1:] {
		if t.Timestamp.Before(first) {
			first = t.Timestamp
		}
		if t.Timestamp.After(last) {
			last = t.Timestamp
		}
	}
	meanGap := last.Sub(first) / time.Duration(len(recent)-1)
	if meanGap < m.cfg.MinTradeInterval() {
		m.logIncidentLocked(model.IncidentRapidTrading,
			fmt.Sprintf("账户 %s 平均交易间隔 %s 过短", accountID, meanGap),
			model.RiskLevelMedium, model.IncidentActive, accountID)
		return true
	}
	return false
}

// CheckRateLimit 滑动窗口限流，窗口内请求数达到上限时拒绝，开关激活时直接拒绝
func (m *SecurityMonitor) CheckRateLimit(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.killSwitch.Active {
		return false
	}

	now := m.now()
	window := pruneWindow(m.rateLimits[accountID], now.Add(-m.cfg.RateLimitWindow()))

	if len(window) >= m.cfg.RateLimitMaxRequests {
		m.rateLimits[accountID] = window
		m.logIncidentLocked(model.IncidentRateLimitExceeded,
			fmt.Sprintf("账户 %s 在 %s 内请求 %d 次，超过限制", accountID, m.cfg.RateLimitWindow(), len(window)),
			model.RiskLevelMedium, model.IncidentActive, accountID)
		return false
	}

	m.rateLimits[accountID] = append(window, now)
	return true
}

// RecomputeSystemRisk 根据最近24小时事件重算系统风险等级，达到 high 时自动激活开关
func (m *SecurityMonitor) RecomputeSystemRisk() model.RiskLevel {
	m.mu.Lock()
	defer m.mu.Unlock()

	since := m.now().Add(-incidentLookback)
	var total, high, medium int
	for i := 0; i < m.incidents.Len(); i++ {
		inc := m.incidents.At(i)
		if !inc.Timestamp.After(since) {
			continue
		}
		total++
		switch inc.RiskLevel {
		case model.RiskLevelHigh:
			high++
		case model.RiskLevelMedium:
			medium++
		}
	}

	var score float64
	if total > 0 {
		score = (m.cfg.HighIncidentWeight*float64(high) + m.cfg.MediumIncidentWeight*float64(medium)) / float64(total)
	}

	level := model.RiskLevelLow
	switch {
	case score >= m.cfg.HighRiskThreshold:
		level = model.RiskLevelHigh
	case score >= m.cfg.MediumRiskThreshold:
		level = model.RiskLevelMedium
	}

	if level != m.riskLevel {
		m.logger.Info("系统风险等级变化",
			zap.String("from", string(m.riskLevel)),
			zap.String("to", string(level)),
			zap.Float64("score", score),
			zap.Int("incidents", total))
	}
	m.riskLevel = level
	metrics.SystemRiskLevel.Set(metrics.RiskLevelValue(level))

	if level == model.RiskLevelHigh && !m.killSwitch.Active {
		m.activateLocked(fmt.Sprintf("系统风险评分 %.2f 达到高风险，自动停止交易", score))
	}
	return level
}

// ActivateKillSwitch 激活停止交易开关，已激活时不做处理
func (m *SecurityMonitor) ActivateKillSwitch(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.killSwitch.Active {
		m.logger.Debug("停止交易开关已处于激活状态", zap.String("reason", reason))
		return
	}
	m.activateLocked(reason)
}

// DeactivateKillSwitch 关闭停止交易开关，系统风险为 high 时拒绝
func (m *SecurityMonitor) DeactivateKillSwitch(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.riskLevel == model.RiskLevelHigh {
		m.logger.Warn("系统风险过高，拒绝关闭停止交易开关", zap.String("reason", reason))
		return model.ErrRiskTooHigh
	}
	if !m.killSwitch.Active {
		return nil
	}

	m.killSwitch = model.KillSwitchState{Active: false, Reason: reason, LastChanged: m.now()}
	metrics.KillSwitchActive.Set(0)
	m.logIncidentLocked(model.IncidentKillSwitchDeactivation,
		fmt.Sprintf("停止交易开关已关闭: %s", reason),
		model.RiskLevelLow, model.IncidentResolved, "")
	m.logger.Info("停止交易开关已关闭", zap.String("reason", reason))
	return nil
}

// IsHalted 开关是否激活
func (m *SecurityMonitor) IsHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitch.Active
}

// KillSwitch 开关当前状态
func (m *SecurityMonitor) KillSwitch() model.KillSwitchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitch
}

// SystemRiskLevel 当前系统风险等级
func (m *SecurityMonitor) SystemRiskLevel() model.RiskLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.riskLevel
}

// RecentIncidents 最近的安全事件，新的在前；limit<=0 时取100条
func (m *SecurityMonitor) RecentIncidents(limit int) []model.SecurityIncident {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = defaultRecentIncidents
	}
	recent := m.incidents.Last(limit, nil)
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent
}

// Status 安全状态报告
func (m *SecurityMonitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		KillSwitch:      m.killSwitch,
		SystemRiskLevel: m.riskLevel,
		IncidentCount:   m.incidents.Len(),
		TradeCount:      m.trades.Len(),
		LogCapacity:     m.trades.Cap(),
	}
}

// Run 周期性重算系统风险并持久化安全事件，直到 ctx 取消
func (m *SecurityMonitor) Run(ctx context.Context) error {
	interval := m.cfg.RecomputeInterval()
	m.logger.Info("启动安全监控", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.flushPending()
			m.logger.Info("安全监控已停止")
			return nil
		case <-ticker.C:
			m.RecomputeSystemRisk()
			m.pruneRateLimits()
		case incident := <-m.pending:
			m.persist(ctx, incident)
		}
	}
}

func (m *SecurityMonitor) activateLocked(reason string) {
	m.killSwitch = model.KillSwitchState{Active: true, Reason: reason, LastChanged: m.now()}
	metrics.KillSwitchActive.Set(1)
	m.logIncidentLocked(model.IncidentKillSwitchActivation,
		fmt.Sprintf("停止交易开关已激活: %s", reason),
		model.RiskLevelHigh, model.IncidentActive, "")
	m.logger.Warn("停止交易开关已激活", zap.String("reason", reason))
}

func (m *SecurityMonitor) logIncidentLocked(typ, description string, level model.RiskLevel, status model.IncidentStatus, accountID string) {
	incident := model.SecurityIncident{
		ID:          uuid.NewString(),
		Timestamp:   m.now(),
		Type:        typ,
		Description: description,
		RiskLevel:   level,
		Status:      status,
		AccountID:   accountID,
	}
	m.incidents.Push(incident)
	metrics.SecurityIncidents.WithLabelValues(typ, string(level)).Inc()

	if m.sink == nil {
		return
	}
	select {
	case m.pending <- incident:
	default:
		m.logger.Warn("安全事件持久化队列已满，丢弃", zap.String("incident_id", incident.ID))
	}
}

func (m *SecurityMonitor) persist(ctx context.Context, incident model.SecurityIncident) {
	if m.sink == nil {
		return
	}
	if err := m.sink.StoreIncident(ctx, incident); err != nil {
		metrics.PersistenceFailures.WithLabelValues("store_incident").Inc()
		m.logger.Error("持久化安全事件失败",
			zap.String("incident_id", incident.ID),
			zap.String("type", incident.Type),
			zap.Error(err))
	}
}

// flushPending 停止时尽量写完缓冲中的事件
func (m *SecurityMonitor) flushPending() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case incident := <-m.pending:
			m.persist(ctx, incident)
		default:
			return
		}
	}
}

func (m *SecurityMonitor) pruneRateLimits() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.cfg.RateLimitWindow())
	for accountID, window := range m.rateLimits {
		window = pruneWindow(window, cutoff)
		if len(window) == 0 {
			delete(m.rateLimits, accountID)
			continue
		}
		m.rateLimits[accountID] = window
	}
}

// pruneWindow 去掉 cutoff 之前的时间戳，window 按时间递增
func pruneWindow(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}
