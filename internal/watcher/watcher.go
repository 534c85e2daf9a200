package watcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"signal-sentry/internal/feed"
	"signal-sentry/internal/notifier"
	"signal-sentry/internal/outcome"
	"signal-sentry/internal/store"
	"signal-sentry/pkg/types"
)

// 状态推进原因，写入审计事件
const (
	reasonMarket = "market" // 行情触发
	reasonAdmin  = "admin"  // 管理性回收
)

// 每次轮询至少拉取的K线数量
const pollLookbackMin = 8

// 单次行情请求的K线数量上限（OKX单次最多返回300根）
// 超出上限的历史缺口用已落库的K线补齐
const pollLookbackMax = 300

// Watcher 信号生命周期监控器
// 周期性轮询所有未结束的信号，根据最新K线推进状态机
type Watcher struct {
	store    store.Store
	feed     feed.Feed
	notifier notifier.Interface
	resolver *outcome.Resolver
	config   types.WatcherConfig
	interval string // K线周期，如 15m

	mu         sync.RWMutex
	lastTickAt time.Time
}

// NewWatcher 创建信号监控器
func NewWatcher(s store.Store, f feed.Feed, n notifier.Interface, config types.WatcherConfig, interval string) *Watcher {
	return &Watcher{
		store:    s,
		feed:     f,
		notifier: n,
		resolver: outcome.NewResolver(),
		config:   config,
		interval: interval,
	}
}

// Start 启动轮询循环，阻塞直到ctx取消
func (w *Watcher) Start(ctx context.Context) {
	zap.L().Info("🚀 信号监控器启动",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Duration("entry_window", w.config.EntryWindow),
		zap.Duration("stale_threshold", w.config.StaleThreshold))

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// 启动后立即执行一次，不等第一个周期
	w.Tick(ctx, time.Now().UTC())

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("📴 信号监控器已停止")
			return
		case <-ticker.C:
			w.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick 执行一轮轮询
// 单个信号处理失败只记录日志，不影响同批次其他信号
func (w *Watcher) Tick(ctx context.Context, now time.Time) {
	signals, err := w.store.ListOpenSignals(ctx)
	if err != nil {
		zap.L().Error("❌ 读取未结束信号失败", zap.Error(err))
		return
	}

	for _, signal := range signals {
		if err := w.processSignal(ctx, signal, now); err != nil {
			zap.L().Error("❌ 处理信号失败",
				zap.Int64("signal_id", signal.ID),
				zap.String("symbol", signal.Symbol),
				zap.String("state", string(signal.State)),
				zap.Error(err))
		}
	}

	w.mu.Lock()
	w.lastTickAt = now
	w.mu.Unlock()

	zap.L().Debug("信号轮询完成",
		zap.Int("open_signals", len(signals)),
		zap.Time("tick_at", now))
}

// LastTickAt 最近一次成功轮询的时间，供健康检查使用
func (w *Watcher) LastTickAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastTickAt
}

// processSignal 推进单个信号的状态机
func (w *Watcher) processSignal(ctx context.Context, signal *types.Signal, now time.Time) error {
	// 僵尸信号回收：长时间滞留的非终态信号管理性取消
	if now.Sub(signal.GeneratedAt) > w.config.StaleThreshold {
		return w.cancelZombie(ctx, signal, now)
	}

	switch signal.State {
	case types.StateCandidate:
		// 等待发布门槛判定，监控器不处理
		return nil
	case types.StateWaitingForEntry:
		return w.watchEntry(ctx, signal, now)
	case types.StateEntryHit:
		return w.watchExit(ctx, signal, now)
	}
	return nil
}

// cancelZombie 管理性取消僵尸信号
// 与行情触发的状态推进走同一条条件更新路径，但原因标记为admin
func (w *Watcher) cancelZombie(ctx context.Context, signal *types.Signal, now time.Time) error {
	applied, err := w.store.ApplyTransition(ctx, store.Transition{
		SignalID: signal.ID,
		Expected: signal.State,
		Next:     types.StateCancelled,
		At:       now,
		Event: &types.ValidationEvent{
			SignalID:  signal.ID,
			FromState: signal.State,
			ToState:   types.StateCancelled,
			Reason:    reasonAdmin,
			CreatedAt: now,
		},
	})
	if err != nil {
		return err
	}
	if !applied {
		zap.L().Debug("僵尸回收被并发守卫跳过", zap.Int64("signal_id", signal.ID))
		return nil
	}

	zap.L().Warn("🧹 僵尸信号已回收",
		zap.Int64("signal_id", signal.ID),
		zap.String("symbol", signal.Symbol),
		zap.String("from_state", string(signal.State)),
		zap.Duration("age", now.Sub(signal.GeneratedAt)),
		zap.Error(types.ErrStaleSignal))
	return nil
}

// watchEntry 处理等待入场的信号
// 先回放窗口内的K线找入场触达，确认窗口内确实无触达后才判超时
// 轮询延迟或停机恢复时，窗口内已发生的触达不能被误判为过期
func (w *Watcher) watchEntry(ctx context.Context, signal *types.Signal, now time.Time) error {
	windowEnd := signal.GeneratedAt.Add(w.config.EntryWindow)

	candles, err := w.recentCandles(ctx, signal, signal.GeneratedAt, now)
	if err != nil {
		// 行情不可用时不判超时，留到下个tick重试
		return err
	}

	for i := range candles {
		c := &candles[i]
		// 窗口结束后开盘的K线不再算入场
		if c.OpenTime.After(windowEnd) {
			break
		}
		if outcome.TouchedEntry(signal, c) {
			applied, err := w.store.ApplyTransition(ctx, store.Transition{
				SignalID: signal.ID,
				Expected: types.StateWaitingForEntry,
				Next:     types.StateEntryHit,
				At:       c.CloseTime,
				Event:    candleEvent(signal, types.StateWaitingForEntry, types.StateEntryHit, c, now),
			})
			if err != nil {
				return err
			}
			if applied {
				zap.L().Info("🎯 信号已入场",
					zap.Int64("signal_id", signal.ID),
					zap.String("symbol", signal.Symbol),
					zap.Float64("entry_price", signal.EntryPrice),
					zap.Time("candle_time", c.OpenTime))

				// 入场K线本身就可能触达止盈止损，立即用剩余K线续判
				signal.State = types.StateEntryHit
				entryAt := c.CloseTime
				signal.EntryHitAt = &entryAt
				return w.scanExit(ctx, signal, candles[i:], now)
			}
			return nil
		}
	}

	// 窗口已结束且窗口内无触达，判入场超时
	if now.Sub(signal.GeneratedAt) > w.config.EntryWindow {
		applied, err := w.store.ApplyTransition(ctx, store.Transition{
			SignalID: signal.ID,
			Expected: types.StateWaitingForEntry,
			Next:     types.StateExpired,
			Result:   types.OutcomeExpired,
			At:       now,
			Event: &types.ValidationEvent{
				SignalID:  signal.ID,
				FromState: types.StateWaitingForEntry,
				ToState:   types.StateExpired,
				Reason:    reasonMarket,
				CreatedAt: now,
			},
		})
		if err != nil {
			return err
		}
		if applied {
			zap.L().Info("⏰ 信号入场超时",
				zap.Int64("signal_id", signal.ID),
				zap.String("symbol", signal.Symbol))
			w.finishSignal(ctx, signal, types.OutcomeExpired, now)
		}
	}
	return nil
}

// watchExit 处理已入场的信号：回放入场后的K线判定止盈止损
func (w *Watcher) watchExit(ctx context.Context, signal *types.Signal, now time.Time) error {
	since := signal.GeneratedAt
	if signal.EntryHitAt != nil {
		since = *signal.EntryHitAt
	}

	candles, err := w.recentCandles(ctx, signal, since, now)
	if err != nil {
		return err
	}
	return w.scanExit(ctx, signal, candles, now)
}

// scanExit 按时间顺序扫描K线，找到第一根触达止盈或止损的
// 同一根K线同时覆盖两个水平时，保守判为止损
func (w *Watcher) scanExit(ctx context.Context, signal *types.Signal, candles []types.Candle, now time.Time) error {
	for i := range candles {
		c := &candles[i]

		var next types.SignalState
		var result types.Outcome

		switch {
		case outcome.TouchedSL(signal, c):
			next, result = types.StateSLHit, types.OutcomeHitSL
		case outcome.TouchedTP(signal, c):
			next, result = types.StateTPHit, types.OutcomeHitTP
		default:
			continue
		}

		applied, err := w.store.ApplyTransition(ctx, store.Transition{
			SignalID: signal.ID,
			Expected: types.StateEntryHit,
			Next:     next,
			Result:   result,
			At:       c.CloseTime,
			Event:    candleEvent(signal, types.StateEntryHit, next, c, now),
		})
		if err != nil {
			return err
		}
		if applied {
			zap.L().Info("🏁 信号已结束",
				zap.Int64("signal_id", signal.ID),
				zap.String("symbol", signal.Symbol),
				zap.String("result", string(result)),
				zap.Time("candle_time", c.OpenTime))
			w.finishSignal(ctx, signal, result, now)
		}
		return nil
	}
	return nil
}

// finishSignal 终态后的收尾：更新当日统计并发送通知
// 收尾失败只记录日志，状态推进本身已经落库
func (w *Watcher) finishSignal(ctx context.Context, signal *types.Signal, result types.Outcome, now time.Time) {
	rMultiple := w.resolver.RMultiple(result, signal)
	if err := w.store.RecordOutcome(ctx, signal.Symbol, result, rMultiple); err != nil {
		zap.L().Error("❌ 更新结局统计失败",
			zap.Int64("signal_id", signal.ID),
			zap.Error(err))
	}

	closed := *signal
	closed.State = stateFor(result)
	closed.Status = types.StatusFor(closed.State)
	closed.Result = result
	closed.ClosedAt = &now

	if err := w.notifier.NotifyOutcome(&closed); err != nil {
		zap.L().Error("❌ 发送结局通知失败",
			zap.Int64("signal_id", signal.ID),
			zap.Error(err))
	}
}

// recentCandles 拉取自since以来已收盘的K线，按时间升序
// 拉取数量按since至今的时长动态计算，实时行情覆盖不到的缺口用落库K线补齐
func (w *Watcher) recentCandles(ctx context.Context, signal *types.Signal, since, now time.Time) ([]types.Candle, error) {
	step := feed.IntervalDuration(w.interval)
	need := int(now.Sub(since)/step) + 2
	if need < pollLookbackMin {
		need = pollLookbackMin
	}
	if need > pollLookbackMax {
		need = pollLookbackMax
	}

	candles, err := w.feed.FetchCandles(ctx, signal.Symbol, w.interval, need)
	if err != nil {
		return nil, err
	}

	// 最早一根拉取到的K线仍晚于since时（长时间停机恢复），从落库K线补齐头部
	if len(candles) == 0 || candles[0].OpenTime.After(since.Add(step)) {
		stored, serr := w.store.GetCandlesSince(ctx, signal.Symbol, w.interval, since)
		if serr != nil {
			zap.L().Warn("⚠️ 读取落库K线失败，仅用实时行情判定",
				zap.String("symbol", signal.Symbol),
				zap.Error(serr))
		} else if len(stored) > 0 {
			candles = mergeCandles(stored, candles)
		}
	}

	filtered := candles[:0]
	for _, c := range candles {
		if c.CloseTime.After(since) {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// mergeCandles 合并落库与实时K线，按OpenTime去重后保持升序
func mergeCandles(stored, live []types.Candle) []types.Candle {
	seen := make(map[int64]struct{}, len(live))
	for _, c := range live {
		seen[c.OpenTime.UnixMilli()] = struct{}{}
	}

	merged := make([]types.Candle, 0, len(stored)+len(live))
	for _, c := range stored {
		if _, ok := seen[c.OpenTime.UnixMilli()]; !ok {
			merged = append(merged, c)
		}
	}
	merged = append(merged, live...)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].OpenTime.Before(merged[j].OpenTime)
	})
	return merged
}

// candleEvent 构建行情触发的审计事件
func candleEvent(signal *types.Signal, from, to types.SignalState, c *types.Candle, now time.Time) *types.ValidationEvent {
	return &types.ValidationEvent{
		SignalID:   signal.ID,
		FromState:  from,
		ToState:    to,
		Reason:     reasonMarket,
		CandleTime: c.OpenTime,
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		CreatedAt:  now,
	}
}

// stateFor 结局对应的终态
func stateFor(result types.Outcome) types.SignalState {
	switch result {
	case types.OutcomeHitTP:
		return types.StateTPHit
	case types.OutcomeHitSL:
		return types.StateSLHit
	}
	return types.StateExpired
}
