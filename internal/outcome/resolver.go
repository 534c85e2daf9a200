package outcome

import (
	"go.uber.org/zap"
	"signal-sentry/pkg/types"
)

// Resolver 结局判定器
// 纯函数、无I/O：实时监控与离线回填使用同一份判定逻辑，
// 相同K线序列必然得出相同结局
type Resolver struct{}

// NewResolver 创建结局判定器
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve 按时间顺序回放入场后的K线，判定止盈或止损谁先发生
// 同一根K线内止盈止损都可触达时，保守起见先判止损；
// 两者都未触达则返回EXPIRED
func (r *Resolver) Resolve(signal *types.Signal, candles []types.Candle) types.Outcome {
	for i := range candles {
		c := &candles[i]
		if err := c.Validate(); err != nil {
			zap.L().Warn("跳过异常K线",
				zap.String("symbol", c.Symbol),
				zap.Time("open_time", c.OpenTime),
				zap.Error(err))
			continue
		}

		// 止损优先：单根K线同时覆盖两个水平时绝不判为盈利
		if TouchedSL(signal, c) {
			return types.OutcomeHitSL
		}
		if TouchedTP(signal, c) {
			return types.OutcomeHitTP
		}
	}
	return types.OutcomeExpired
}

// RMultiple 结局对应的R倍数：止盈+盈亏比，止损-1，超时0
func (r *Resolver) RMultiple(result types.Outcome, signal *types.Signal) float64 {
	switch result {
	case types.OutcomeHitTP:
		return signal.RewardRisk
	case types.OutcomeHitSL:
		return -1.0
	}
	return 0.0
}

// TouchedEntry 入场价位于K线振幅范围内
func TouchedEntry(signal *types.Signal, c *types.Candle) bool {
	return c.Low <= signal.EntryPrice && signal.EntryPrice <= c.High
}

// TouchedTP K线是否触达止盈位
func TouchedTP(signal *types.Signal, c *types.Candle) bool {
	if signal.Direction == types.DirectionBuy {
		return c.High >= signal.TakeProfit
	}
	return c.Low <= signal.TakeProfit
}

// TouchedSL K线是否触达止损位
func TouchedSL(signal *types.Signal, c *types.Candle) bool {
	if signal.Direction == types.DirectionBuy {
		return c.Low <= signal.StopLoss
	}
	return c.High >= signal.StopLoss
}
