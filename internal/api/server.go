package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/model"
	"github.com/life2you_mini/basisgate/internal/security"
)

// SecurityController 停止开关与安全事件
type SecurityController interface {
	Status() security.Status
	ActivateKillSwitch(reason string)
	DeactivateKillSwitch(reason string) error
	RecentIncidents(limit int) []model.SecurityIncident
}

// OpportunityReader 最近一次扫描结果
type OpportunityReader interface {
	Latest() ([]model.BasisOpportunity, time.Time)
}

// RiskReader 最新风险指标
type RiskReader interface {
	Latest(subject string) (*model.RiskMetrics, bool)
}

// HealthChecker 依赖健康检查
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies 接口依赖，Health 可为空
type Dependencies struct {
	Security      SecurityController
	Opportunities OpportunityReader
	Risk          RiskReader
	Health        HealthChecker
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}

type killSwitchRequest struct {
	Reason string `json:"reason"`
}

type opportunitiesResponse struct {
	ScannedAt     time.Time                `json:"scanned_at"`
	Opportunities []model.BasisOpportunity `json:"opportunities"`
}

// Server 运维 HTTP 接口
type Server struct {
	deps   Dependencies
	logger *zap.Logger
	http   *http.Server
}

// NewServer 创建运维接口
func NewServer(addr, token string, deps Dependencies, logger *zap.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger.With(zap.String("component", "api")),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(token),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router 注册全部路由
func (s *Server) Router(token string) *mux.Router {
	router := mux.NewRouter()
	router.Use(Recovery(s.logger))
	router.Use(Logging(s.logger))

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(Auth(token))
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/killswitch/activate", s.handleActivate).Methods(http.MethodPost)
	v1.HandleFunc("/killswitch/deactivate", s.handleDeactivate).Methods(http.MethodPost)
	v1.HandleFunc("/incidents", s.handleIncidents).Methods(http.MethodGet)
	v1.HandleFunc("/opportunities", s.handleOpportunities).Methods(http.MethodGet)
	v1.HandleFunc("/risk/{subject}", s.handleRisk).Methods(http.MethodGet)

	return router
}

// Run 启动监听，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("运维接口已启动", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("关闭运维接口失败", zap.Error(err))
		return err
	}
	s.logger.Info("运维接口已关闭")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Security.Status())
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeReason(w, r)
	if !ok {
		return
	}
	s.deps.Security.ActivateKillSwitch(req.Reason)
	s.logger.Warn("通过接口激活停止交易开关", zap.String("reason", req.Reason))
	writeJSON(w, http.StatusOK, s.deps.Security.Status())
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeReason(w, r)
	if !ok {
		return
	}
	if err := s.deps.Security.DeactivateKillSwitch(req.Reason); err != nil {
		if errors.Is(err, model.ErrRiskTooHigh) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("通过接口关闭停止交易开关", zap.String("reason", req.Reason))
	writeJSON(w, http.StatusOK, s.deps.Security.Status())
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.deps.Security.RecentIncidents(limit))
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	opps, at := s.deps.Opportunities.Latest()
	if opps == nil {
		opps = []model.BasisOpportunity{}
	}
	writeJSON(w, http.StatusOK, opportunitiesResponse{ScannedAt: at, Opportunities: opps})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	subject := mux.Vars(r)["subject"]
	metrics, ok := s.deps.Risk.Latest(subject)
	if !ok {
		writeError(w, http.StatusNotFound, model.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func decodeReason(w http.ResponseWriter, r *http.Request) (killSwitchRequest, bool) {
	var req killSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
