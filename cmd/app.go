package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"signal-sentry/internal/cache"
	"signal-sentry/internal/confidence"
	"signal-sentry/internal/feed"
	"signal-sentry/internal/health"
	"signal-sentry/internal/notifier"
	"signal-sentry/internal/outcome"
	"signal-sentry/internal/release"
	"signal-sentry/internal/store"
	"signal-sentry/internal/structure"
	"signal-sentry/internal/watcher"
	"signal-sentry/pkg/types"
)

// App 应用程序管理器
type App struct {
	config *types.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	store        store.Store
	cacheManager *cache.Manager
	okxFeed      *feed.OKXFeed
	engine       *structure.Engine
	publisher    *release.Publisher
	lifeWatcher  *watcher.Watcher
	healthMon    *health.Monitor
	notify       notifier.Interface
}

// NewApp 创建应用程序实例并完成组件装配
func NewApp(config *types.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}

	// 信号存储：MySQL不可用时降级为内存模式（信号不跨重启保留）
	dbStore, err := store.NewManager(config.Database.MySQL)
	if err != nil {
		zap.L().Warn("⚠️ MySQL连接失败，信号存储降级为内存模式", zap.Error(err))
		app.store = store.NewMemoryStore()
	} else {
		app.store = dbStore
	}

	app.cacheManager = cache.NewManager(config.Redis, config.Feed.Lookback)
	app.okxFeed = feed.NewOKXFeed(config.Network)
	app.engine = structure.NewEngine(config.Structure)

	// 通知服务（优先级：钉钉 > 控制台）
	app.notify = notifier.NewDingTalkNotifier(config.DingTalk.WebhookURL, config.DingTalk.Secret)

	refiner := confidence.NewRefiner(config.Release)
	app.publisher = release.NewPublisher(app.store, refiner, app.cacheManager, app.notify, config.Release.Threshold)
	app.lifeWatcher = watcher.NewWatcher(app.store, app.okxFeed, app.notify, config.Watcher, config.Feed.Interval)
	app.healthMon = health.NewMonitor(app.lifeWatcher, app.cacheManager, config.Watcher.HealthTimeout)

	return app
}

// Start 启动应用程序
func (app *App) Start() {
	zap.L().Info("🚀 Signal Sentry 启动中...",
		zap.Strings("symbols", app.config.Feed.Symbols),
		zap.String("interval", app.config.Feed.Interval))

	// 停机期间错过的结局先回填
	if err := outcome.NewBackfiller(app.store, app.config.Feed.Interval).Run(app.ctx, time.Now().UTC()); err != nil {
		zap.L().Error("❌ 启动回填失败", zap.Error(err))
	}

	// 行情摄取
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.runFeedLoop()
	}()

	if app.config.Feed.WSEnabled {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.runStream()
		}()
	}

	// 发布门槛判定
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.runPublishLoop()
	}()

	// 信号生命周期监控
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.lifeWatcher.Start(app.ctx)
	}()

	// 健康监控
	app.healthMon.Start()

	zap.L().Info("✅ Signal Sentry 已启动")
}

// Stop 停止应用程序
func (app *App) Stop() {
	zap.L().Info("🛑 收到停止信号，正在优雅关闭...")
	app.cancel()
	app.healthMon.Stop()

	// 等待所有goroutine结束，最多等待30秒
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("✅ Signal Sentry 已安全关闭")
	case <-time.After(30 * time.Second):
		zap.L().Warn("⚠️ 强制关闭超时")
	}

	if err := app.cacheManager.Close(); err != nil {
		zap.L().Warn("关闭缓存失败", zap.Error(err))
	}
	if m, ok := app.store.(*store.Manager); ok {
		if err := m.Close(); err != nil {
			zap.L().Warn("关闭数据库失败", zap.Error(err))
		}
	}
}

// WaitForShutdown 等待关闭信号
func (app *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

// runFeedLoop 周期性拉取REST K线，刷新缓存、落库并执行结构分析
func (app *App) runFeedLoop() {
	app.refreshAll()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			zap.L().Info("📴 行情摄取已停止")
			return
		case <-ticker.C:
			app.refreshAll()
		}
	}
}

// refreshAll 刷新所有交易对的K线窗口
func (app *App) refreshAll() {
	for _, symbol := range app.config.Feed.Symbols {
		candles, err := app.okxFeed.FetchCandles(app.ctx, symbol, app.config.Feed.Interval, app.config.Feed.Lookback)
		if err != nil {
			zap.L().Error("❌ 拉取K线失败",
				zap.String("symbol", symbol),
				zap.Error(err))
			continue
		}

		app.cacheManager.StoreCandles(candles)

		if err := app.store.SaveCandles(app.ctx, candles); err != nil {
			zap.L().Error("❌ K线落库失败",
				zap.String("symbol", symbol),
				zap.Error(err))
		}

		app.analyzeStructure(symbol, candles)
	}
}

// analyzeStructure 对最新窗口执行一次市场结构分析
// 信号的生成在核心之外，这里输出结构状态供下游与排障使用
func (app *App) analyzeStructure(symbol string, candles []types.Candle) {
	state, err := app.engine.Analyze(candles, symbol, app.config.Feed.Interval, "rest")
	if err != nil {
		zap.L().Debug("结构分析跳过",
			zap.String("symbol", symbol),
			zap.Error(err))
		return
	}

	zap.L().Info("🧭 市场结构状态",
		zap.String("symbol", symbol),
		zap.String("direction", string(state.Direction)),
		zap.Float64("confidence", state.Confidence),
		zap.Float64("dominance_ratio", state.DominanceRatio),
		zap.Int("evidence", len(state.Evidence)),
		zap.String("trace_id", state.TraceID))
}

// runStream 启动WebSocket实时K线摄取
func (app *App) runStream() {
	client := feed.NewStreamClient(app.config.Feed, app.config.Network.Proxy)

	if err := client.Connect(); err != nil {
		zap.L().Error("❌ WebSocket连接失败，实时摄取未启用", zap.Error(err))
		return
	}
	if err := client.Subscribe(app.config.Feed.Symbols, app.config.Feed.Interval); err != nil {
		zap.L().Error("❌ WebSocket订阅失败", zap.Error(err))
		client.Close()
		return
	}

	client.StartReading()
	defer client.Close()

	for {
		select {
		case <-app.ctx.Done():
			zap.L().Info("📴 实时K线摄取已停止")
			return
		case candle := <-client.GetCandleChannel():
			if candle == nil {
				continue
			}
			app.cacheManager.StoreCandle(*candle)
			if err := app.store.SaveCandles(app.ctx, []types.Candle{*candle}); err != nil {
				zap.L().Warn("实时K线落库失败",
					zap.String("symbol", candle.Symbol),
					zap.Error(err))
			}
		}
	}
}

// runPublishLoop 周期性对候选信号执行发布判定
func (app *App) runPublishLoop() {
	ticker := time.NewTicker(app.config.Watcher.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			zap.L().Info("📴 发布判定已停止")
			return
		case <-ticker.C:
			app.publisher.EvaluateCandidates(app.ctx, time.Now().UTC())
		}
	}
}
