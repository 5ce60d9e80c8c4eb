package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/chain"
	"github.com/KNICEX/volume-agent/internal/service/engine"
	"github.com/KNICEX/volume-agent/internal/service/session"
	"github.com/KNICEX/volume-agent/internal/service/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultTradeLimit = 50

// WalletFunder 新生成钱包后的初始化, 模拟链用它注资
type WalletFunder func(ctx context.Context, wallets []chain.Wallet) error

// Server 引擎的 REST/WebSocket 接口
type Server struct {
	engine      engine.Engine
	broadcaster *Broadcaster
	gatherer    prometheus.Gatherer
	funder      WalletFunder
	now         func() time.Time
	mux         *http.ServeMux
	server      *http.Server
}

type Option func(s *Server)

func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func WithWalletFunder(f WalletFunder) Option {
	return func(s *Server) {
		s.funder = f
	}
}

func NewServer(addr string, eng engine.Engine, broadcaster *Broadcaster, opts ...Option) *Server {
	mux := http.NewServeMux()
	s := &Server{
		engine:      eng,
		broadcaster: broadcaster,
		gatherer:    prometheus.DefaultGatherer,
		now:         time.Now,
		mux:         mux,
		server: &http.Server{
			Addr:         addr,
			Handler:      logRequests(mux),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/archived", s.handleArchivedSessions)
	s.mux.HandleFunc("POST /api/sessions/import", s.handleImportSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/start", s.handleStart)
	s.mux.HandleFunc("POST /api/sessions/{id}/pause", s.handlePause)
	s.mux.HandleFunc("POST /api/sessions/{id}/stop", s.handleStop)
	s.mux.HandleFunc("GET /api/sessions/{id}/metrics", s.handleMetrics)
	s.mux.HandleFunc("GET /api/sessions/{id}/transactions", s.handleTransactions)
	s.mux.HandleFunc("GET /api/sessions/{id}/export", s.handleExport)
	s.mux.HandleFunc("GET /api/sessions/{id}/breaker", s.handleBreaker)
	s.mux.HandleFunc("POST /api/sessions/{id}/breaker/reset", s.handleResetBreaker)

	s.mux.HandleFunc("GET /api/metrics", s.handleOverallMetrics)
	s.mux.HandleFunc("GET /api/transactions", s.handleAllTransactions)
	s.mux.HandleFunc("GET /api/wallets", s.handleWallets)
	s.mux.HandleFunc("POST /api/tokens/validate", s.handleValidateToken)

	s.mux.HandleFunc("GET /api/fees/report", s.handleFeeReport)
	s.mux.HandleFunc("POST /api/fees/calculate", s.handleCalculateFee)
	s.mux.HandleFunc("GET /api/users/{user}/stats", s.handleUserStats)
	s.mux.HandleFunc("GET /api/users/{user}/fees", s.handleFeeHistory)

	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.broadcaster != nil {
		s.mux.HandleFunc("GET /ws", s.broadcaster.Handler())
	}
}

// Handler 测试用
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.engine.ListSessions("")),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionReq
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	create := engine.CreateSessionReq{
		Owner:    req.Owner,
		Token:    req.Token,
		Strategy: req.Strategy,
		Routing:  chain.RoutingData(req.Routing),
		Config:   req.Config,
	}
	// 先校验再生成钱包, 避免留下已注资的孤儿钱包
	if err := s.engine.ValidateSessionReq(create, req.WalletCount); err != nil {
		writeError(w, err)
		return
	}
	if len(create.Routing) == 0 {
		res, err := s.engine.ValidateToken(ctx, req.Token.Address)
		if err != nil {
			writeError(w, err)
			return
		}
		if !res.Valid {
			writeJSON(w, http.StatusBadRequest, errorResp{Error: "token not tradable: " + res.Error})
			return
		}
		create.Routing = res.Routing
	}

	admin, wallets, err := s.engine.GenerateWallets(ctx, req.WalletCount)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.funder != nil {
		if err := s.funder(ctx, append([]chain.Wallet{admin}, wallets...)); err != nil {
			writeError(w, err)
			return
		}
	}
	create.Admin = admin
	create.Wallets = wallets
	id, err := s.engine.CreateSession(ctx, create)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateSessionResp{
		SessionID: id,
		Admin:     walletView(admin),
		Wallets:   walletViews(wallets),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	res := make([]SessionView, 0)
	for _, sess := range s.engine.ListSessions(r.URL.Query().Get("owner")) {
		res = append(res, sessionView(sess, now))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleArchivedSessions(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ArchivedSessions(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetSession 内存中没有时从存储读取历史会话
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.engine.GetSession(id)
	if errors.Is(err, session.ErrSessionNotFound) {
		archived, aerr := s.engine.ArchivedSession(r.Context(), id)
		if aerr != nil {
			writeError(w, aerr)
			return
		}
		writeJSON(w, http.StatusOK, archived)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess, s.now()))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.StartSession)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.PauseSession)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.engine.StopSession)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id := r.PathValue("id")
	if err := fn(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	status, err := s.engine.GetSessionStatus(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": status.ToString()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetMetricsSnapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	trades, err := s.engine.GetRecentTrades(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleAllTransactions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.GetAllRecentTrades(limit))
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultTradeLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid limit"})
		return 0, false
	}
	return n, true
}

func (s *Server) handleOverallMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetOverallMetrics())
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetWallets(r.Context(), r.URL.Query().Get("session"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req ValidateTokenReq
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.ValidateToken(r.Context(), req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBreaker(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetBreakerStatus(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.ResetBreaker(id); err != nil {
		writeError(w, err)
		return
	}
	s.handleBreaker(w, r)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.engine.ExportSession(id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="session-`+id+`.json"`)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleImportSession(w http.ResponseWriter, r *http.Request) {
	var snap snapshot.Snapshot
	if !decode(w, r, &snap) {
		return
	}
	id, err := s.engine.ImportSession(r.Context(), snap)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleFeeReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetFeeReport())
}

func (s *Server) handleCalculateFee(w http.ResponseWriter, r *http.Request) {
	var req CalculateFeeReq
	if !decode(w, r, &req) {
		return
	}
	if req.User == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "user is required"})
		return
	}
	writeJSON(w, http.StatusOK, CalculateFeeResp{
		User:  req.User,
		Fee:   s.engine.CalculateFee(req.User),
		Stats: s.engine.GetUserFeeStats(req.User),
	})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetUserFeeStats(r.PathValue("user")))
}

func (s *Server) handleFeeHistory(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetFeeHistory(r.Context(), r.PathValue("user"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrInvalidConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidTransition):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResp{Error: err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack websocket 升级需要
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijack")
	}
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "cost", time.Since(start))
	})
}
