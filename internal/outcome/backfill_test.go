package outcome

import (
	"context"
	"testing"
	"time"

	"signal-sentry/internal/store"
	"signal-sentry/pkg/types"
)

func backfillCandle(open time.Time, o, h, l, c float64) types.Candle {
	return types.Candle{
		Symbol:    "EUR-USD",
		OpenTime:  open,
		CloseTime: open.Add(15 * time.Minute),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    1000,
		Interval:  "15m",
	}
}

// 停机期间触达止盈的已入场信号，回填后应推进到TP_HIT
func TestBackfillResolvesFromPersistedCandles(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	generated := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	entryAt := generated.Add(30 * time.Minute)

	signal := &types.Signal{
		Symbol:      "EUR-USD",
		Direction:   types.DirectionBuy,
		EntryPrice:  1.1000,
		TakeProfit:  1.1020,
		StopLoss:    1.0985,
		RewardRisk:  1.3333,
		State:       types.StateWaitingForEntry,
		GeneratedAt: generated,
		Released:    true,
	}
	if err := ms.CreateSignal(ctx, signal); err != nil {
		t.Fatal(err)
	}
	if _, err := ms.ApplyTransition(ctx, store.Transition{
		SignalID: signal.ID,
		Expected: types.StateWaitingForEntry,
		Next:     types.StateEntryHit,
		At:       entryAt,
	}); err != nil {
		t.Fatal(err)
	}

	// 停机期间落库的K线：第二根触达止盈
	candles := []types.Candle{
		backfillCandle(entryAt, 1.1002, 1.1010, 1.0998, 1.1008),
		backfillCandle(entryAt.Add(15*time.Minute), 1.1008, 1.1022, 1.1005, 1.1018),
	}
	if err := ms.SaveCandles(ctx, candles); err != nil {
		t.Fatal(err)
	}

	b := NewBackfiller(ms, "15m")
	if err := b.Run(ctx, entryAt.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	got, err := ms.GetSignal(ctx, signal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != types.StateTPHit {
		t.Fatalf("期望TP_HIT, 实际 %s", got.State)
	}
	if got.Result != types.OutcomeHitTP {
		t.Errorf("结局应为HIT_TP, 实际 %s", got.Result)
	}

	// 审计事件应绑定触发K线
	events, _ := ms.GetValidationEvents(ctx, signal.ID)
	if len(events) != 1 {
		t.Fatalf("期望1条审计事件, 实际 %d", len(events))
	}
	if events[0].High != 1.1022 {
		t.Errorf("审计事件应绑定触发K线, 实际high %f", events[0].High)
	}
}

// 落库K线未触达任一水平时信号保持ENTRY_HIT
func TestBackfillLeavesUnresolvedSignals(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	generated := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	entryAt := generated.Add(30 * time.Minute)

	signal := &types.Signal{
		Symbol:      "EUR-USD",
		Direction:   types.DirectionBuy,
		EntryPrice:  1.1000,
		TakeProfit:  1.1020,
		StopLoss:    1.0985,
		State:       types.StateWaitingForEntry,
		GeneratedAt: generated,
		Released:    true,
	}
	if err := ms.CreateSignal(ctx, signal); err != nil {
		t.Fatal(err)
	}
	if _, err := ms.ApplyTransition(ctx, store.Transition{
		SignalID: signal.ID,
		Expected: types.StateWaitingForEntry,
		Next:     types.StateEntryHit,
		At:       entryAt,
	}); err != nil {
		t.Fatal(err)
	}

	candles := []types.Candle{
		backfillCandle(entryAt, 1.1002, 1.1010, 1.0998, 1.1008),
	}
	if err := ms.SaveCandles(ctx, candles); err != nil {
		t.Fatal(err)
	}

	b := NewBackfiller(ms, "15m")
	if err := b.Run(ctx, entryAt.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	got, _ := ms.GetSignal(ctx, signal.ID)
	if got.State != types.StateEntryHit {
		t.Errorf("无结局的信号应保持ENTRY_HIT, 实际 %s", got.State)
	}
}

// 未入场的信号不参与回填
func TestBackfillSkipsWaitingSignals(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	generated := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	signal := &types.Signal{
		Symbol:      "EUR-USD",
		Direction:   types.DirectionBuy,
		EntryPrice:  1.1000,
		TakeProfit:  1.1020,
		StopLoss:    1.0985,
		State:       types.StateWaitingForEntry,
		GeneratedAt: generated,
		Released:    true,
	}
	if err := ms.CreateSignal(ctx, signal); err != nil {
		t.Fatal(err)
	}

	// 即便存在触达止盈的K线，未入场也不应被回填推进
	if err := ms.SaveCandles(ctx, []types.Candle{
		backfillCandle(generated.Add(15*time.Minute), 1.1008, 1.1025, 1.1005, 1.1018),
	}); err != nil {
		t.Fatal(err)
	}

	b := NewBackfiller(ms, "15m")
	if err := b.Run(ctx, generated.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	got, _ := ms.GetSignal(ctx, signal.ID)
	if got.State != types.StateWaitingForEntry {
		t.Errorf("未入场信号不应被回填推进, 实际 %s", got.State)
	}
}
