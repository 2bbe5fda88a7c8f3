package runner

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/execution"
	"OpenRoute-Chain/internal/ledger"
	"OpenRoute-Chain/internal/observability/alerting"
	"OpenRoute-Chain/internal/observability/metrics"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/status"
	"OpenRoute-Chain/internal/web3"
	"OpenRoute-Chain/pkg/logger"
)

// StepExecutor 定义了处理器所需的单步执行能力。
type StepExecutor interface {
	Execute(ctx context.Context, req execution.Request) (route.Execution, error)
}

// Wallets 为路由提供签名账户与切链钩子。
type Wallets interface {
	Account(ctx context.Context, address string, chainID uint64) (web3.Account, error)
	SwitchHook(address string) web3.SwitchChainHook
}

// Processor 负责从队列消费路由并逐步执行。
type Processor struct {
	executor    StepExecutor
	store       ledger.Store
	locker      ledger.Locker
	wallets     Wallets
	consumer    Consumer
	sessions    *Sessions
	observers   []status.Observer
	settings    execution.Settings
	workerCount int
	slotTTL     time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithLocker 替换默认的进程内执行槽。
func WithLocker(locker ledger.Locker) ProcessorOption {
	return func(p *Processor) {
		if locker != nil {
			p.locker = locker
		}
	}
}

// WithSlotTTL 设置执行槽的租期，处理期间每隔 ttl/3 续期一次。
func WithSlotTTL(ttl time.Duration) ProcessorOption {
	return func(p *Processor) {
		if ttl > 0 {
			p.slotTTL = ttl
		}
	}
}

// WithSessions 与 Service 共享交互令牌。
func WithSessions(sessions *Sessions) ProcessorOption {
	return func(p *Processor) {
		if sessions != nil {
			p.sessions = sessions
		}
	}
}

// WithObservers 追加每次执行都会注册的状态观察者，例如事件发布器。
func WithObservers(observers ...status.Observer) ProcessorOption {
	return func(p *Processor) {
		for _, o := range observers {
			if o != nil {
				p.observers = append(p.observers, o)
			}
		}
	}
}

// WithSettings 设置执行钩子与授权策略。切链钩子由 Wallets 按账户提供。
func WithSettings(settings execution.Settings) ProcessorOption {
	return func(p *Processor) {
		p.settings = settings
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor StepExecutor, store ledger.Store, wallets Wallets, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		wallets:     wallets,
		consumer:    consumer,
		locker:      ledger.NewMemoryLocker(),
		sessions:    NewSessions(),
		workerCount: 1,
		slotTTL:     time.Minute,
		logger:      logger.Named("runner"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动路由处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置路由消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 执行一条路由直到完成、失败或需要用户介入。返回错误表示
// 基础设施故障，队列应重新投递。
func (p *Processor) Handle(ctx context.Context, routeID string) error {
	if p.store == nil || p.executor == nil || p.wallets == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}

	lease, err := p.locker.Acquire(ctx, routeID, p.slotTTL)
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeExecutionSlotUnavailable) {
			p.logger.Debug("路由正在其他执行者中运行", slog.String("route_id", routeID))
			return nil
		}
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.keepSlot(runCtx, cancel, lease, routeID)
	defer func() {
		releaseCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := lease.Release(releaseCtx); err != nil {
			p.logger.Warn("释放执行槽失败", slog.String("route_id", routeID), slog.Any("error", err))
		}
	}()

	rec, err := p.store.BeginAttempt(runCtx, routeID)
	if err != nil {
		if stdErrors.Is(err, ledger.ErrRouteNotFound) {
			p.logger.Debug("跳过不存在的路由", slog.String("route_id", routeID))
			return nil
		}
		logger.L().Error("读取路由失败", slog.Any("error", err), slog.String("route_id", routeID))
		return err
	}
	if rec.Status == route.StatusDone || rec.Status == route.StatusCancelled {
		p.logger.Debug("路由已结束", slog.String("route_id", routeID), slog.String("status", string(rec.Status)))
		return nil
	}

	metrics.RoutesInFlight.Inc()
	defer metrics.RoutesInFlight.Dec()

	final := p.run(runCtx, rec)
	metrics.RoutesProcessed.WithLabelValues(string(final)).Inc()
	return nil
}

func (p *Processor) keepSlot(ctx context.Context, cancel context.CancelFunc, lease ledger.Lease, routeID string) {
	ticker := time.NewTicker(p.slotTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Refresh(ctx, p.slotTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Error("执行槽续期失败，停止执行", slog.String("route_id", routeID), slog.Any("error", err))
				cancel()
				return
			}
		}
	}
}

func (p *Processor) run(ctx context.Context, rec *ledger.Record) route.Status {
	interaction := p.sessions.begin(rec.ID)
	settled := false
	defer func() { p.sessions.end(rec.ID, settled) }()

	r := rec.Route
	account, err := p.wallets.Account(ctx, rec.Account, r.FromChainID)
	if err != nil {
		p.fail(ctx, rec, "", "", err)
		settled = true
		return route.StatusFailed
	}

	observers := append([]status.Observer{ledger.NewRecorder(p.store, 5*time.Second)}, p.observers...)
	m := status.NewManager(r, status.WithObservers(observers...))

	settings := p.settings
	settings.SwitchChainHook = p.wallets.SwitchHook(rec.Account)

	for _, step := range r.Steps {
		exec, err := p.executor.Execute(ctx, execution.Request{
			Manager:     m,
			StepID:      step.ID,
			Account:     account,
			Interaction: interaction,
			Settings:    settings,
		})
		if err != nil {
			var execErr *execution.Error
			link := ""
			if stdErrors.As(err, &execErr) {
				link = execErr.TxLink
			}
			p.fail(ctx, rec, step.ID, link, err)
			settled = true
			return route.StatusFailed
		}
		if exec.Status != route.StatusDone {
			snapshot := m.Route()
			state := snapshot.Status()
			settled = state.IsTerminal()
			logger.Audit().Info("路由暂停",
				slog.String("route_id", rec.ID),
				slog.String("step_id", step.ID),
				slog.String("status", string(state)),
			)
			return state
		}
	}

	settled = true
	logger.Audit().Info("路由执行完成",
		slog.String("route_id", rec.ID),
		slog.String("account", rec.Account),
		slog.Int("steps", len(r.Steps)),
		slog.Int("attempts", rec.Attempts),
	)
	return route.StatusDone
}

func (p *Processor) fail(ctx context.Context, rec *ledger.Record, stepID, txLink string, cause error) {
	// 关停时仍需回写失败原因
	ctx = context.WithoutCancel(ctx)
	normalized := execution.Normalize(cause)
	code := normalized.Code()
	if err := p.store.MarkFailed(ctx, rec.ID, code, cause.Error()); err != nil {
		logger.L().Error("标记路由失败状态出错", slog.Any("error", err), slog.String("route_id", rec.ID))
	}
	logger.Audit().Warn("路由执行失败",
		slog.String("route_id", rec.ID),
		slog.String("step_id", stepID),
		slog.String("error_code", string(code)),
		slog.String("error", cause.Error()),
		slog.Int("attempts", rec.Attempts),
	)
	p.emitAlert(ctx, rec, stepID, txLink, normalized, cause)
}

func (p *Processor) emitAlert(ctx context.Context, rec *ledger.Record, stepID, txLink string, normalized *xerrors.Error, cause error) {
	if p.alerter == nil || !normalized.ShouldAlert() {
		return
	}
	metadata := map[string]string{"account": rec.Account}
	for k, v := range normalized.Metadata() {
		metadata[k] = v
	}
	event := alerting.Event{
		Code:       normalized.Code(),
		Message:    cause.Error(),
		Severity:   normalized.Severity(),
		RouteID:    rec.ID,
		StepID:     stepID,
		Attempts:   rec.Attempts,
		TxLink:     txLink,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败", slog.Any("error", err), slog.String("route_id", rec.ID))
	}
}
