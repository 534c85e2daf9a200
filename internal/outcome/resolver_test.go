package outcome

import (
	"testing"
	"time"

	"signal-sentry/pkg/types"
)

func buySignal() *types.Signal {
	return &types.Signal{
		ID:         1,
		Symbol:     "EUR-USD",
		Direction:  types.DirectionBuy,
		EntryPrice: 1.1000,
		TakeProfit: 1.1020,
		StopLoss:   1.0985,
		RewardRisk: 1.33,
		State:      types.StateEntryHit,
	}
}

func sellSignal() *types.Signal {
	return &types.Signal{
		ID:         2,
		Symbol:     "EUR-USD",
		Direction:  types.DirectionSell,
		EntryPrice: 1.1000,
		TakeProfit: 1.0980,
		StopLoss:   1.1015,
		RewardRisk: 1.33,
		State:      types.StateEntryHit,
	}
}

func candle(high, low float64) types.Candle {
	open := (high + low) / 2
	return types.Candle{
		Symbol:    "EUR-USD",
		OpenTime:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		CloseTime: time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     open,
		Interval:  "15m",
	}
}

func TestResolve(t *testing.T) {
	r := NewResolver()

	tests := []struct {
		name    string
		signal  *types.Signal
		candles []types.Candle
		want    types.Outcome
	}{
		{
			// 单根K线同时覆盖止盈与止损：保守判止损
			name:    "BUY止损优先",
			signal:  buySignal(),
			candles: []types.Candle{candle(1.1025, 1.0980)},
			want:    types.OutcomeHitSL,
		},
		{
			name:    "BUY只触达止盈",
			signal:  buySignal(),
			candles: []types.Candle{candle(1.1025, 1.0990)},
			want:    types.OutcomeHitTP,
		},
		{
			name:    "SELL止损优先",
			signal:  sellSignal(),
			candles: []types.Candle{candle(1.1020, 1.0975)},
			want:    types.OutcomeHitSL,
		},
		{
			name:    "SELL只触达止盈",
			signal:  sellSignal(),
			candles: []types.Candle{candle(1.1010, 1.0975)},
			want:    types.OutcomeHitTP,
		},
		{
			// 多根K线按时间顺序判定，先到先得
			name:   "先触达的K线决定结局",
			signal: buySignal(),
			candles: []types.Candle{
				candle(1.1010, 1.0995),
				candle(1.1025, 1.0995),
				candle(1.1010, 1.0980),
			},
			want: types.OutcomeHitTP,
		},
		{
			name:    "两个水平都未触达",
			signal:  buySignal(),
			candles: []types.Candle{candle(1.1010, 1.0995), candle(1.1015, 1.0992)},
			want:    types.OutcomeExpired,
		},
		{
			name:    "空序列",
			signal:  buySignal(),
			candles: nil,
			want:    types.OutcomeExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.signal, tt.candles); got != tt.want {
				t.Fatalf("期望%s，实际%s", tt.want, got)
			}
		})
	}
}

// 内部不一致的K线必须被跳过，不参与判定
func TestResolveSkipsMalformedCandle(t *testing.T) {
	r := NewResolver()

	bad := candle(1.1025, 1.0990)
	bad.Low = 1.1030 // low高于开收盘，非法

	good := candle(1.1012, 1.0980)

	got := r.Resolve(buySignal(), []types.Candle{bad, good})
	if got != types.OutcomeHitSL {
		t.Fatalf("异常K线应被跳过，由后续K线判定止损，实际%s", got)
	}
}

func TestRMultiple(t *testing.T) {
	r := NewResolver()
	s := buySignal()

	if got := r.RMultiple(types.OutcomeHitTP, s); got != s.RewardRisk {
		t.Errorf("止盈应返回+%.2f，实际%.2f", s.RewardRisk, got)
	}
	if got := r.RMultiple(types.OutcomeHitSL, s); got != -1.0 {
		t.Errorf("止损应返回-1.0，实际%.2f", got)
	}
	if got := r.RMultiple(types.OutcomeExpired, s); got != 0.0 {
		t.Errorf("超时应返回0.0，实际%.2f", got)
	}
}
