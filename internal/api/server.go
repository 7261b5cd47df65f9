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

	"SolOracle-Chain/internal/agent"
	"SolOracle-Chain/internal/auth"
	"SolOracle-Chain/internal/chain"
	"SolOracle-Chain/internal/config"
	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/observability/metrics"
	"SolOracle-Chain/internal/oracle"
	"SolOracle-Chain/internal/pda"
	"SolOracle-Chain/internal/task"
	"SolOracle-Chain/internal/vault"
	"SolOracle-Chain/pkg/logger"
)

const queriesPath = "/api/v1/queries"

// SubmittedByKey 是认证开启时记录提交者的 metadata 键。
const SubmittedByKey = "submitted_by"

// MaxDetailWait 限制查询详情接口 wait 参数的最长阻塞时间。
const MaxDetailWait = 60 * time.Second

// Server 负责暴露 REST 接口，供外部提交查询与推导地址。
type Server struct {
	addr    string
	tasks   *task.Service
	plan    oracle.Plan
	vault   vault.Program
	reader  oracle.AccountReader
	metrics *metrics.Registry
	auth    *auth.Service
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithPlan 指定地址推导计划。
func WithPlan(plan oracle.Plan) Option {
	return func(s *Server) {
		s.plan = plan
	}
}

// WithVault 指定金库程序。
func WithVault(program vault.Program) Option {
	return func(s *Server) {
		s.vault = program
	}
}

// WithAccountReader 指定读取链上账户的客户端，未配置时按离线模式推导。
func WithAccountReader(reader oracle.AccountReader) Option {
	return func(s *Server) {
		s.reader = reader
	}
}

// WithMetrics 注入指标注册表。
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Server) {
		s.metrics = reg
	}
}

// WithAuth 为 /api/v1 路由启用令牌认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks *task.Service, opts ...Option) *Server {
	s := &Server{
		addr:  addr,
		tasks: tasks,
		plan:  oracle.NewPlan(oracle.DefaultPrograms(), pda.Deriver{}),
	}
	s.vault = vault.Program{ID: pda.MustParseAddress(config.DefaultVaultProgram)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载全部路由的 HTTP 处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	queriesAuth := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodPost: {auth.PermissionQueriesWrite},
			"*":             {auth.PermissionQueriesRead},
		},
		AuditEvent: "queries",
	})
	chainAuth := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {auth.PermissionChainRead}},
		AuditEvent:          "chain",
	})
	mux.Handle(queriesPath, s.metrics.Middleware("queries", queriesAuth(http.HandlerFunc(s.handleQueries))))
	mux.Handle(queriesPath+"/stats", s.metrics.Middleware("query_stats", queriesAuth(http.HandlerFunc(s.handleQueryStats))))
	mux.Handle(queriesPath+"/", s.metrics.Middleware("query_detail", queriesAuth(http.HandlerFunc(s.handleQueryDetail))))
	mux.Handle("/api/v1/pda/derive", s.metrics.Middleware("derive", chainAuth(http.HandlerFunc(s.handleDerive))))
	mux.Handle("/api/v1/oracle/plan", s.metrics.Middleware("plan", chainAuth(http.HandlerFunc(s.handlePlan))))
	mux.Handle("/api/v1/vault", s.metrics.Middleware("vault", chainAuth(http.HandlerFunc(s.handleVault))))
	mux.Handle("/metrics", s.metrics.Handler())
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
	logger.L().Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitQuery(w, r)
	case http.MethodGet:
		s.handleListQueries(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET/POST")
	}
}

func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}
	var req agent.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体解析失败")
		return
	}
	if name := auth.SubjectName(r.Context()); name != "" {
		if req.Metadata == nil {
			req.Metadata = map[string]any{}
		}
		req.Metadata[SubmittedByKey] = name
	}
	submitted, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleQueryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueryDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, queriesPath), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "缺少任务 ID")
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}
	wait, err := parseWait(r.URL.Query().Get("wait"))
	if err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, err.Error())
		return
	}
	if wait > 0 {
		waitCtx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		found, err := s.tasks.WaitUntilCompleted(waitCtx, id, 200*time.Millisecond)
		if err == nil {
			writeJSON(w, http.StatusOK, found)
			return
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			writeFailure(w, err)
			return
		}
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	wait, err := time.ParseDuration(raw)
	if err != nil || wait < 0 {
		return 0, errors.New("wait 参数必须是非负时长")
	}
	return min(wait, MaxDetailWait), nil
}

// DeriveRequest 描述一次地址推导请求。Bump 为空时搜索规范 bump。
type DeriveRequest struct {
	Program string   `json:"program"`
	Seeds   []string `json:"seeds"`
	Bump    *uint8   `json:"bump,omitempty"`
}

func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 POST")
		return
	}
	var req DeriveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体解析失败")
		return
	}
	derived, err := s.derive(req)
	s.metrics.ObserveDerivation("api", err)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, derived)
}

func (s *Server) derive(req DeriveRequest) (pda.Derived, error) {
	program, err := pda.ParseAddress(strings.TrimSpace(req.Program))
	if err != nil {
		return pda.Derived{}, err
	}
	seeds, err := pda.ParseSeeds(req.Seeds)
	if err != nil {
		return pda.Derived{}, err
	}
	deriver := s.plan.Deriver()
	if req.Bump != nil {
		addr, err := deriver.CreateAddress(program, *req.Bump, seeds...)
		if err != nil {
			return pda.Derived{}, err
		}
		return pda.Derived{Address: addr, Bump: *req.Bump}, nil
	}
	return deriver.Derive(program, seeds...)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	maker, err := pda.ParseAddress(strings.TrimSpace(r.URL.Query().Get("maker")))
	if err != nil {
		writeFailure(w, err)
		return
	}
	resolution, err := oracle.Resolve(r.Context(), s.accountReader(), s.plan, maker)
	s.metrics.ObserveDerivation("plan", err)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	program := s.vault
	program.Deriver = s.plan.Deriver()
	report, err := vault.Inspect(r.Context(), s.accountReader(), program)
	s.metrics.ObserveDerivation("vault", err)
	if err != nil {
		writeFailure(w, err)
		return
	}

	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		writeJSON(w, http.StatusOK, VaultResponse{Report: report})
		return
	}
	check, err := checkTransfer(report, owner, r.URL.Query().Get("amount"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VaultResponse{Report: report, Transfer: check})
}

// VaultResponse 汇总金库账户状态与可选的转账白名单检查。
type VaultResponse struct {
	vault.Report
	Transfer *TransferCheck `json:"transfer,omitempty"`
}

// TransferCheck 是按转账钩子规则评估的结果。
type TransferCheck struct {
	Owner   pda.Address `json:"owner"`
	Amount  uint64      `json:"amount"`
	Allowed bool        `json:"allowed"`
	Code    string      `json:"code,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

func checkTransfer(report vault.Report, rawOwner, rawAmount string) (*TransferCheck, error) {
	owner, err := pda.ParseAddress(rawOwner)
	if err != nil {
		return nil, err
	}
	amount, err := strconv.ParseUint(strings.TrimSpace(rawAmount), 10, 64)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "amount 必须是无符号整数")
	}
	if report.Config == nil {
		return nil, xerrors.New(xerrors.CodeNotFound, "金库配置账户不存在")
	}
	check := &TransferCheck{Owner: owner, Amount: amount, Allowed: true}
	if err := report.Config.CheckTransfer(report.ConfigAddress, owner, amount); err != nil {
		check.Allowed = false
		check.Code = string(xerrors.CodeOf(err))
		check.Reason = err.Error()
	}
	return check, nil
}

func (s *Server) accountReader() oracle.AccountReader {
	if s.reader == nil {
		return offlineReader{}
	}
	return s.reader
}

// offlineReader 视所有账户为不存在，仅用于未连接集群时的地址推导。
type offlineReader struct{}

func (offlineReader) AccountInfo(context.Context, pda.Address) (*chain.Account, error) {
	return nil, nil
}

func listOptionsFromQuery(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	var opts []task.ListOption

	intParam := func(name string) (int, bool, error) {
		raw := strings.TrimSpace(query.Get(name))
		if raw == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, name+" 必须是整数")
		}
		return n, true, nil
	}
	timeParam := func(name string) (time.Time, bool, error) {
		raw := strings.TrimSpace(query.Get(name))
		if raw == "" {
			return time.Time{}, false, nil
		}
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Unix(unix, 0), true, nil
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, name+" 必须是 unix 秒或 RFC3339 时间")
		}
		return ts, true, nil
	}

	if n, ok, err := intParam("limit"); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, task.WithLimit(n))
	}
	if n, ok, err := intParam("offset"); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, task.WithOffset(n))
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	since, _, err := timeParam("since")
	if err != nil {
		return nil, err
	}
	until, _, err := timeParam("until")
	if err != nil {
		return nil, err
	}
	if !since.IsZero() || !until.IsZero() {
		opts = append(opts, task.WithUpdatedBetween(since, until))
	}
	boolFilters := []struct {
		name  string
		apply func(bool) task.ListOption
	}{
		{"has_result", task.WithResultPresence},
		{"dry_run", task.WithDryRun},
		{"timed_out", task.WithTimedOut},
	}
	for _, filter := range boolFilters {
		raw := strings.TrimSpace(query.Get(filter.name))
		if raw == "" {
			continue
		}
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, filter.name+" 必须是布尔值")
		}
		opts = append(opts, filter.apply(value))
	}
	if raw := strings.TrimSpace(query.Get("agent")); raw != "" {
		agentAddr, err := pda.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.WithAgent(agentAddr.String()))
	}
	if strings.EqualFold(strings.TrimSpace(query.Get("order")), "asc") {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	return opts, nil
}

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: string(code), Message: message}})
}

func writeFailure(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.Any("error", err), slog.String("code", string(code)))
	}
	body := errorBody{Code: string(code), Message: err.Error()}
	if coded, ok := xerrors.From(err); ok {
		body.Metadata = coded.Metadata()
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case task.CodeTaskNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation,
		pda.CodeSeedTooLong, pda.CodeTooManySeeds, pda.CodeOnCurve:
		return http.StatusBadRequest
	case task.CodeTaskConflict, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure, agent.CodeSignerUnavailable:
		return http.StatusServiceUnavailable
	case xerrors.CodeRPCFailure:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
