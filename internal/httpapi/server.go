package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"zhunleme/internal/backtest"
	"zhunleme/internal/quota"
	"zhunleme/internal/rank"
)

const maxBodyBytes = 1 << 20

var errBadDate = errors.New("日期格式应为 YYYY-MM-DD")

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the REST API.
type Server struct {
	backtests *backtest.Service
	ranks     *rank.Service
	quota     *quota.Reporter
	health    Pinger
	metrics   *Metrics
	prefix    string
	log       *slog.Logger
}

// NewServer creates a Server. API routes live under prefix (e.g. "/api");
// /healthz and /metrics are always at the root. health may be nil.
func NewServer(prefix string, backtests *backtest.Service, ranks *rank.Service, q *quota.Reporter, health Pinger, log *slog.Logger) *Server {
	return &Server{
		backtests: backtests,
		ranks:     ranks,
		quota:     q,
		health:    health,
		metrics:   NewMetrics(),
		prefix:    strings.TrimRight(prefix, "/"),
		log:       log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	s.handle(mux, "POST "+s.prefix+"/backtest", s.handleRunBacktest)
	s.handle(mux, "GET "+s.prefix+"/backtest/{bt_id}", s.handleGetBacktest)
	s.handle(mux, "GET "+s.prefix+"/rank/{kind}", s.handleRank)
	s.handle(mux, "GET "+s.prefix+"/random", s.handleRandom)
	s.handle(mux, "GET "+s.prefix+"/quota", s.handleQuota)
	s.handle(mux, "GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, s.metrics.instrument(pattern, h))
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Backtest
// ---------------------------------------------------------------------------

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var body BacktestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "请求体格式错误")
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, errBadDate.Error())
		return
	}

	resp, err := s.backtests.Run(r.Context(), req)
	if err != nil {
		s.metrics.backtestOutcome(outcomeOf(err))
		s.fail(w, r, err)
		return
	}
	s.metrics.backtestOutcome("ok")
	writeJSON(w, resp)
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	resp, err := s.backtests.Get(r.Context(), r.PathValue("bt_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, resp)
}

// ---------------------------------------------------------------------------
// Rank, random, quota
// ---------------------------------------------------------------------------

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	q := rank.Query{Kind: rank.Kind(r.PathValue("kind"))}
	var err error
	if q.Days, err = intParam(r, "days"); err != nil {
		writeError(w, http.StatusBadRequest, "参数 days 不合法")
		return
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, "参数 limit 不合法")
		return
	}
	if q.K, err = intParam(r, "k"); err != nil {
		writeError(w, http.StatusBadRequest, "参数 k 不合法")
		return
	}

	board, err := s.ranks.Rankings(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, board)
}

func (s *Server) handleRandom(w http.ResponseWriter, r *http.Request) {
	pick, err := s.ranks.RandomPick(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, pick)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.quota.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.log.Warn("health check failed", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(newHealth("unavailable"))
			return
		}
	}
	writeJSON(w, newHealth("ok"))
}

// intParam reads a positive integer query parameter. Absent yields 0, which
// the services replace with their default.
func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// statusFor maps service errors to an HTTP status and the detail shown to the
// caller.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, backtest.ErrValidation):
		return http.StatusBadRequest, backtest.Detail(err)
	case errors.Is(err, backtest.ErrNotFound):
		return http.StatusNotFound, backtest.Detail(err)
	case errors.Is(err, backtest.ErrUnprocessable):
		return http.StatusUnprocessableEntity, backtest.Detail(err)
	case errors.Is(err, rank.ErrInvalidQuery):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, rank.ErrNotFound):
		return http.StatusNotFound, "暂无股票数据"
	case errors.Is(err, context.Canceled):
		return 499, "请求已取消"
	default:
		return http.StatusInternalServerError, "服务器内部错误"
	}
}

func outcomeOf(err error) string {
	switch status, _ := statusFor(err); status {
	case http.StatusBadRequest:
		return "invalid"
	case http.StatusNotFound:
		return "unresolved"
	case http.StatusUnprocessableEntity:
		return "no_data"
	default:
		return "error"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, detail)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Detail: msg})
}
