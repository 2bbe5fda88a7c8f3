package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/ledger"
	"OpenRoute-Chain/internal/observability/metrics"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/runner"
	"OpenRoute-Chain/pkg/logger"
)

// RouteService 是 API 依赖的路由服务。
type RouteService interface {
	Submit(ctx context.Context, req runner.SubmitRequest) (*ledger.Record, error)
	Get(ctx context.Context, id string) (*ledger.Record, error)
	List(ctx context.Context, opts ...ledger.ListOption) ([]*ledger.Record, error)
	Stats(ctx context.Context, opts ...ledger.ListOption) (ledger.Stats, error)
	Resume(ctx context.Context, id string) (*ledger.Record, error)
	SetInteraction(ctx context.Context, id string, allowed bool) error
}

// BalanceService 批量读取账户余额。
type BalanceService interface {
	GetBalances(ctx context.Context, owner string, tokens []route.Token) ([]route.TokenAmount, error)
}

// BalancesRequest 是 POST /api/v1/balances 的请求体。
type BalancesRequest struct {
	Account string        `json:"account"`
	Tokens  []route.Token `json:"tokens"`
}

// BalancesResponse 按请求顺序返回余额。
type BalancesResponse struct {
	Account  string              `json:"account"`
	Balances []route.TokenAmount `json:"balances"`
}

// maxBalanceTokens 限制单次查询的代币数量。
const maxBalanceTokens = 1000

// SubmitRouteRequest 是 POST /api/v1/routes 的请求体。
type SubmitRouteRequest struct {
	Route       route.Route `json:"route"`
	Account     string      `json:"account"`
	Interactive *bool       `json:"interactive,omitempty"`
}

// InteractionRequest 是 POST /api/v1/routes/{id}/interaction 的请求体。
type InteractionRequest struct {
	Allowed bool `json:"allowed"`
}

// ErrorResponse 是所有错误响应的格式。
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	routes          RouteService
	balances        BalanceService
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, routes RouteService) *Server {
	return &Server{addr: addr, routes: routes, shutdownTimeout: 5 * time.Second, log: logger.Named("api")}
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	if d > 0 {
		s.shutdownTimeout = d
	}
	return s
}

// WithBalances 启用余额查询接口。
func (s *Server) WithBalances(b BalanceService) *Server {
	s.balances = b
	return s
}

// Handler 返回完整的路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/routes", metrics.Instrument("routes", http.HandlerFunc(s.handleRoutes)))
	mux.Handle("/api/v1/routes/stats", metrics.Instrument("route_stats", http.HandlerFunc(s.handleStats)))
	mux.Handle("/api/v1/routes/{id}", metrics.Instrument("route_detail", http.HandlerFunc(s.handleRouteDetail)))
	mux.Handle("/api/v1/routes/{id}/resume", metrics.Instrument("route_resume", http.HandlerFunc(s.handleResume)))
	mux.Handle("/api/v1/routes/{id}/interaction", metrics.Instrument("route_interaction", http.HandlerFunc(s.handleInteraction)))
	mux.Handle("/api/v1/balances", metrics.Instrument("balances", http.HandlerFunc(s.handleBalances)))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeValidation, "仅支持 GET/POST"))
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.Wrap(xerrors.CodeValidation, err, "请求体解析失败"))
		return
	}
	rec, err := s.routes.Submit(r.Context(), runner.SubmitRequest{
		Route:       req.Route,
		Account:     req.Account,
		Interactive: req.Interactive,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	records, err := s.routes.List(r.Context(), opts...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeValidation, "仅支持 GET"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.routes.Stats(r.Context(), opts...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRouteDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeValidation, "仅支持 GET"))
		return
	}
	id, ok := routeID(w, r)
	if !ok {
		return
	}
	rec, err := s.routes.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeValidation, "仅支持 POST"))
		return
	}
	id, ok := routeID(w, r)
	if !ok {
		return
	}
	rec, err := s.routes.Resume(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeValidation, "仅支持 POST"))
		return
	}
	id, ok := routeID(w, r)
	if !ok {
		return
	}
	var req InteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.Wrap(xerrors.CodeValidation, err, "请求体解析失败"))
		return
	}
	if err := s.routes.SetInteraction(r.Context(), id, req.Allowed); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeValidation, "仅支持 POST"))
		return
	}
	if s.balances == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "余额服务未启用"))
		return
	}
	var req BalancesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.Wrap(xerrors.CodeValidation, err, "请求体解析失败"))
		return
	}
	req.Account = strings.TrimSpace(req.Account)
	switch {
	case req.Account == "":
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeValidation, "缺少账户地址"))
		return
	case len(req.Tokens) == 0:
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeValidation, "至少需要一个代币"))
		return
	case len(req.Tokens) > maxBalanceTokens:
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeValidation, "代币数量超过上限"))
		return
	}
	for _, token := range req.Tokens {
		if token.ChainID == 0 || strings.TrimSpace(token.Address) == "" {
			writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeValidation, "代币必须包含 chainId 与 address"))
			return
		}
	}
	balances, err := s.balances.GetBalances(r.Context(), req.Account, req.Tokens)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalancesResponse{Account: req.Account, Balances: balances})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	writeError(w, status, err)
}

func routeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeValidation, "缺少路由 ID"))
		return "", false
	}
	return id, true
}

func parseListOptions(r *http.Request) ([]ledger.ListOption, error) {
	q := r.URL.Query()
	var opts []ledger.ListOption
	for _, name := range []string{"limit", "offset"} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, xerrors.New(xerrors.CodeValidation, name+" 必须是非负整数")
		}
		if name == "limit" {
			opts = append(opts, ledger.WithLimit(n))
		} else {
			opts = append(opts, ledger.WithOffset(n))
		}
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []route.Status
		for _, part := range strings.Split(raw, ",") {
			st := route.Status(strings.ToUpper(strings.TrimSpace(part)))
			if !st.Valid() {
				return nil, xerrors.New(xerrors.CodeValidation, "未知的路由状态 "+part)
			}
			statuses = append(statuses, st)
		}
		opts = append(opts, ledger.WithStatuses(statuses...))
	}
	if account := q.Get("account"); account != "" {
		opts = append(opts, ledger.WithAccount(account))
	}
	if query := q.Get("q"); query != "" {
		opts = append(opts, ledger.WithQuery(query))
	}
	for _, name := range []string{"since", "until"} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeValidation, name+" 必须是 Unix 时间戳")
		}
		if name == "since" {
			opts = append(opts, ledger.WithUpdatedSince(time.Unix(ts, 0)))
		} else {
			opts = append(opts, ledger.WithUpdatedUntil(time.Unix(ts, 0)))
		}
	}
	if strings.EqualFold(q.Get("order"), "asc") {
		opts = append(opts, ledger.WithSortOrder(ledger.SortByUpdatedAsc))
	}
	return opts, nil
}

func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, xerrors.CodeExecutionSlotUnavailable:
		return http.StatusConflict
	case xerrors.CodeQueueFailure, xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := ErrorResponse{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	if coded, ok := xerrors.From(err); ok && coded.Message() != "" {
		resp.Message = coded.Message()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
