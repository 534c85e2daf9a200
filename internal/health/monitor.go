package health

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"signal-sentry/internal/structure"
	"signal-sentry/pkg/types"
)

// TickSource 提供最近一次成功轮询时间的组件
type TickSource interface {
	LastTickAt() time.Time
}

// StatsSource 提供缓存运行状态快照的组件
type StatsSource interface {
	Stats() map[string]interface{}
	GetAllSymbols() []string
	GetLatestPrice(symbol string) (types.PriceDataPoint, bool)
}

// Report 健康探针快照
type Report struct {
	EngineVersion string    `json:"engine_version"`
	Deterministic bool      `json:"deterministic"`
	StartTime     time.Time `json:"start_time"`
	LastTickAt    time.Time `json:"last_tick_at"`
	Stalled       bool      `json:"stalled"`
	Uptime        string    `json:"uptime"`
}

// Monitor 健康监控器
// 周期性输出运行报告，并提供可查询的健康快照
type Monitor struct {
	watcher   TickSource
	cache     StatsSource
	timeout   time.Duration
	startTime time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewMonitor 创建健康监控器
func NewMonitor(watcher TickSource, cache StatsSource, timeout time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		watcher:   watcher,
		cache:     cache,
		timeout:   timeout,
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start 启动报告循环
func (m *Monitor) Start() {
	zap.L().Info("📊 启动健康监控器", zap.Duration("health_timeout", m.timeout))
	go m.reportLoop()
}

// reportLoop 报告循环
func (m *Monitor) reportLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.generateReport()
		}
	}
}

// Probe 生成当前健康快照
func (m *Monitor) Probe() Report {
	now := time.Now()
	lastTick := m.watcher.LastTickAt()

	// 从未成功轮询时，以启动时间为基准判定停摆
	reference := lastTick
	if reference.IsZero() {
		reference = m.startTime
	}

	return Report{
		EngineVersion: structure.EngineVersion,
		Deterministic: true,
		StartTime:     m.startTime,
		LastTickAt:    lastTick,
		Stalled:       now.Sub(reference) > m.timeout,
		Uptime:        now.Sub(m.startTime).Truncate(time.Second).String(),
	}
}

// CacheSnapshot 当前缓存覆盖的交易对及各自的最新价格，按交易对名升序
func (m *Monitor) CacheSnapshot() ([]string, map[string]float64) {
	if m.cache == nil {
		return nil, nil
	}

	symbols := m.cache.GetAllSymbols()
	sort.Strings(symbols)

	prices := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		if point, ok := m.cache.GetLatestPrice(symbol); ok {
			prices[symbol] = point.Price
		}
	}
	return symbols, prices
}

// generateReport 输出运行报告
func (m *Monitor) generateReport() {
	report := m.Probe()

	fields := []zap.Field{
		zap.String("engine_version", report.EngineVersion),
		zap.Bool("deterministic", report.Deterministic),
		zap.Time("last_tick_at", report.LastTickAt),
		zap.Bool("stalled", report.Stalled),
		zap.String("uptime", report.Uptime),
	}

	if m.cache != nil {
		symbols, prices := m.CacheSnapshot()
		fields = append(fields,
			zap.Any("cache", m.cache.Stats()),
			zap.Strings("symbols", symbols),
			zap.Any("latest_prices", prices))
	}

	if report.Stalled {
		zap.L().Warn("⚠️ 信号监控器疑似停摆", fields...)
		return
	}
	zap.L().Info("📈 运行状态报告", fields...)
}

// Stop 停止健康监控
func (m *Monitor) Stop() {
	zap.L().Info("🛑 停止健康监控器")
	m.cancel()
}
