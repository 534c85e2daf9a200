package outcome

import (
	"context"
	"time"

	"go.uber.org/zap"
	"signal-sentry/internal/store"
	"signal-sentry/pkg/types"
)

// Backfiller 离线结局回填
// 服务停机期间错过的行情由落库K线补判：对已入场但仍未结束的信号
// 回放入场后的K线，能得出结局的直接推进到终态
type Backfiller struct {
	store    store.Store
	resolver *Resolver
	interval string
}

// NewBackfiller 创建回填器
func NewBackfiller(s store.Store, interval string) *Backfiller {
	return &Backfiller{
		store:    s,
		resolver: NewResolver(),
		interval: interval,
	}
}

// Run 执行一轮回填
// 与实时监控共用同一个判定器，相同K线必然得出相同结局
func (b *Backfiller) Run(ctx context.Context, now time.Time) error {
	signals, err := b.store.ListOpenSignals(ctx)
	if err != nil {
		return err
	}

	resolved := 0
	for _, signal := range signals {
		if signal.State != types.StateEntryHit || signal.EntryHitAt == nil {
			continue
		}

		candles, err := b.store.GetCandlesSince(ctx, signal.Symbol, b.interval, *signal.EntryHitAt)
		if err != nil {
			zap.L().Warn("回填读取K线失败",
				zap.Int64("signal_id", signal.ID),
				zap.String("symbol", signal.Symbol),
				zap.Error(err))
			continue
		}
		if len(candles) == 0 {
			continue
		}

		result, trigger := b.resolveWithTrigger(signal, candles)
		if result == types.OutcomeExpired {
			// 落库K线未触达任一水平，留给实时监控继续跟踪
			continue
		}

		next := types.StateTPHit
		if result == types.OutcomeHitSL {
			next = types.StateSLHit
		}

		applied, err := b.store.ApplyTransition(ctx, store.Transition{
			SignalID: signal.ID,
			Expected: types.StateEntryHit,
			Next:     next,
			Result:   result,
			At:       trigger.CloseTime,
			Event: &types.ValidationEvent{
				SignalID:   signal.ID,
				FromState:  types.StateEntryHit,
				ToState:    next,
				Reason:     "market",
				CandleTime: trigger.OpenTime,
				Open:       trigger.Open,
				High:       trigger.High,
				Low:        trigger.Low,
				Close:      trigger.Close,
				CreatedAt:  now,
			},
		})
		if err != nil {
			zap.L().Error("❌ 回填状态推进失败",
				zap.Int64("signal_id", signal.ID),
				zap.Error(err))
			continue
		}
		if !applied {
			continue
		}

		rMultiple := b.resolver.RMultiple(result, signal)
		if err := b.store.RecordOutcome(ctx, signal.Symbol, result, rMultiple); err != nil {
			zap.L().Error("❌ 回填结局统计失败",
				zap.Int64("signal_id", signal.ID),
				zap.Error(err))
		}

		resolved++
		zap.L().Info("🔁 离线回填已判定结局",
			zap.Int64("signal_id", signal.ID),
			zap.String("symbol", signal.Symbol),
			zap.String("result", string(result)))
	}

	if resolved > 0 {
		zap.L().Info("✅ 离线回填完成", zap.Int("resolved", resolved))
	}
	return nil
}

// resolveWithTrigger 与Resolve同样的止损优先扫描，额外返回触发K线用于审计
func (b *Backfiller) resolveWithTrigger(signal *types.Signal, candles []types.Candle) (types.Outcome, *types.Candle) {
	for i := range candles {
		c := &candles[i]
		if err := c.Validate(); err != nil {
			continue
		}
		if TouchedSL(signal, c) {
			return types.OutcomeHitSL, c
		}
		if TouchedTP(signal, c) {
			return types.OutcomeHitTP, c
		}
	}
	return types.OutcomeExpired, nil
}
