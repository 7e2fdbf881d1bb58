package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/config"
	"github.com/life2you_mini/basisgate/internal/model"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS risk_metrics (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		factors JSONB NOT NULL,
		thresholds JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_metrics_subject ON risk_metrics (subject, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS risk_metrics_history (
		id BIGSERIAL PRIMARY KEY,
		subject TEXT NOT NULL,
		period TEXT NOT NULL,
		factors JSONB NOT NULL,
		thresholds JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_history_subject ON risk_metrics_history (subject, period, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS security_incidents (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		description TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		status TEXT NOT NULL,
		account_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// PostgresStorage PostgreSQL审计存储
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenPostgres 按配置打开连接
func OpenPostgres(cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("打开PostgreSQL连接失败: %w", err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxConnections / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// NewPostgresStorage 创建PostgreSQL存储
func NewPostgresStorage(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{
		db:     db,
		logger: logger.With(zap.String("component", "postgres_storage")),
	}
}

// Initialize 检查连接并建表
func (s *PostgresStorage) Initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("PostgreSQL连接失败: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	s.logger.Info("PostgreSQL存储初始化成功")
	return nil
}

// Migrate 建表
func (s *PostgresStorage) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行数据库迁移失败: %w", err)
		}
	}
	return nil
}

// Close 关闭连接
func (s *PostgresStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("关闭PostgreSQL连接失败: %w", err)
	}
	return nil
}

// Health 检查连接
func (s *PostgresStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// StoreRiskMetrics 写入风险快照
func (s *PostgresStorage) StoreRiskMetrics(ctx context.Context, metrics *model.RiskMetrics) error {
	factors, err := json.Marshal(metrics.Factors)
	if err != nil {
		return fmt.Errorf("序列化风险因子失败: %w", err)
	}
	thresholds, err := json.Marshal(metrics.Thresholds)
	if err != nil {
		return fmt.Errorf("序列化风险阈值失败: %w", err)
	}

	query := `
		INSERT INTO risk_metrics (id, subject, factors, thresholds, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query,
		metrics.ID, metrics.Subject, factors, thresholds, metrics.Timestamp); err != nil {
		return fmt.Errorf("写入风险指标失败: %w", err)
	}
	return nil
}

// AppendRiskHistory 在一个事务内追加全部周期记录
func (s *PostgresStorage) AppendRiskHistory(ctx context.Context, rows []model.RiskMetricsHistory) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO risk_metrics_history (subject, period, factors, thresholds, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	for _, row := range rows {
		values, err := json.Marshal(row.Values)
		if err != nil {
			return fmt.Errorf("序列化风险因子失败: %w", err)
		}
		thresholds, err := json.Marshal(row.Thresholds)
		if err != nil {
			return fmt.Errorf("序列化风险阈值失败: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			row.Subject, string(row.Period), values, thresholds, row.Timestamp); err != nil {
			return fmt.Errorf("追加风险历史失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// StoreIncident 写入安全事件
func (s *PostgresStorage) StoreIncident(ctx context.Context, incident model.SecurityIncident) error {
	query := `
		INSERT INTO security_incidents (id, type, description, risk_level, status, account_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	var accountID sql.NullString
	if incident.AccountID != "" {
		accountID = sql.NullString{String: incident.AccountID, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, query,
		incident.ID,
		incident.Type,
		incident.Description,
		string(incident.RiskLevel),
		string(incident.Status),
		accountID,
		incident.Timestamp,
	); err != nil {
		return fmt.Errorf("写入安全事件失败: %w", err)
	}
	return nil
}

// GetIncidents 按时间倒序读取安全事件
func (s *PostgresStorage) GetIncidents(ctx context.Context, limit int) ([]model.SecurityIncident, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, type, description, risk_level, status, account_id, created_at
		FROM security_incidents
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("查询安全事件失败: %w", err)
	}
	defer rows.Close()

	var incidents []model.SecurityIncident
	for rows.Next() {
		var (
			incident  model.SecurityIncident
			level     string
			status    string
			accountID sql.NullString
		)
		if err := rows.Scan(&incident.ID, &incident.Type, &incident.Description,
			&level, &status, &accountID, &incident.Timestamp); err != nil {
			return nil, fmt.Errorf("读取安全事件失败: %w", err)
		}
		incident.RiskLevel = model.ParseRiskLevel(level)
		incident.Status = model.IncidentStatus(status)
		incident.AccountID = accountID.String
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历安全事件失败: %w", err)
	}
	return incidents, nil
}
