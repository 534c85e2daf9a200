package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signal-sentry/pkg/types"
)

func newTestSignal() *types.Signal {
	return &types.Signal{
		Symbol:        "EUR-USD",
		Direction:     types.DirectionBuy,
		EntryPrice:    1.1000,
		TakeProfit:    1.1020,
		StopLoss:      1.0985,
		RewardRisk:    1.33,
		RawConfidence: 0.8,
		State:         types.StateWaitingForEntry,
		GeneratedAt:   time.Now(),
	}
}

func TestCreateSignalRejectsInvariantViolation(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	// BUY但止损高于入场价
	bad := newTestSignal()
	bad.StopLoss = 1.1010

	err := ms.CreateSignal(ctx, bad)
	if !errors.Is(err, types.ErrInvariantViolation) {
		t.Fatalf("期望ErrInvariantViolation，实际 %v", err)
	}

	// SELL但止盈高于入场价
	badSell := newTestSignal()
	badSell.Direction = types.DirectionSell
	err = ms.CreateSignal(ctx, badSell)
	if !errors.Is(err, types.ErrInvariantViolation) {
		t.Fatalf("期望ErrInvariantViolation，实际 %v", err)
	}
}

func TestApplyTransition(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	s := newTestSignal()
	if err := ms.CreateSignal(ctx, s); err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	now := time.Now()
	applied, err := ms.ApplyTransition(ctx, Transition{
		SignalID: s.ID,
		Expected: types.StateWaitingForEntry,
		Next:     types.StateEntryHit,
		At:       now,
		Event: &types.ValidationEvent{
			SignalID:  s.ID,
			FromState: types.StateWaitingForEntry,
			ToState:   types.StateEntryHit,
			Reason:    "market",
			High:      1.1005,
			Low:       1.0995,
		},
	})
	if err != nil || !applied {
		t.Fatalf("推进失败: applied=%v err=%v", applied, err)
	}

	got, _ := ms.GetSignal(ctx, s.ID)
	if got.State != types.StateEntryHit {
		t.Fatalf("状态未推进: %s", got.State)
	}
	if got.Status != types.StatusActive {
		t.Fatalf("ENTRY_HIT应保持ACTIVE: %s", got.Status)
	}
	if got.EntryHitAt == nil {
		t.Fatal("EntryHitAt未记录")
	}

	// 证据与状态同写
	events, _ := ms.GetValidationEvents(ctx, s.ID)
	if len(events) != 1 || events[0].Reason != "market" {
		t.Fatalf("审计事件缺失: %+v", events)
	}
}

// 守卫失配的条件更新是幂等空操作，不是错误
func TestApplyTransitionStaleGuardIsNoop(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	s := newTestSignal()
	if err := ms.CreateSignal(ctx, s); err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	first := Transition{
		SignalID: s.ID,
		Expected: types.StateWaitingForEntry,
		Next:     types.StateEntryHit,
		At:       time.Now(),
	}

	applied, err := ms.ApplyTransition(ctx, first)
	if err != nil || !applied {
		t.Fatalf("首次推进应成功: applied=%v err=%v", applied, err)
	}

	// 用过期的期望状态重试：空操作
	applied, err = ms.ApplyTransition(ctx, first)
	if err != nil {
		t.Fatalf("过期守卫不应报错: %v", err)
	}
	if applied {
		t.Fatal("过期守卫不应再次生效")
	}
}

// 并发双写：恰好一个成功，无双重推进
func TestApplyTransitionConcurrent(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	s := newTestSignal()
	if err := ms.CreateSignal(ctx, s); err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	results := make([]bool, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			applied, err := ms.ApplyTransition(ctx, Transition{
				SignalID: s.ID,
				Expected: types.StateWaitingForEntry,
				Next:     types.StateExpired,
				At:       time.Now(),
			})
			if err != nil {
				t.Errorf("writer %d: %v", n, err)
				return
			}
			results[n] = applied
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("期望恰好1个写入成功，实际%d", succeeded)
	}
}

// 终态封闭：任何离开终态的推进都是非法请求
func TestTerminalStateNeverReentered(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	s := newTestSignal()
	if err := ms.CreateSignal(ctx, s); err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	applied, err := ms.ApplyTransition(ctx, Transition{
		SignalID: s.ID,
		Expected: types.StateWaitingForEntry,
		Next:     types.StateExpired,
		At:       time.Now(),
	})
	if err != nil || !applied {
		t.Fatalf("推进到终态失败: %v", err)
	}

	_, err = ms.ApplyTransition(ctx, Transition{
		SignalID: s.ID,
		Expected: types.StateExpired,
		Next:     types.StateTPHit,
		At:       time.Now(),
	})
	if err == nil {
		t.Fatal("离开终态的推进应被拒绝")
	}

	got, _ := ms.GetSignal(ctx, s.ID)
	if got.State != types.StateExpired || got.Status != types.StatusExpired {
		t.Fatalf("终态被篡改: state=%s status=%s", got.State, got.Status)
	}
}

func TestReleaseSignal(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	s := newTestSignal()
	s.State = types.StateCandidate
	if err := ms.CreateSignal(ctx, s); err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	applied, err := ms.ReleaseSignal(ctx, s.ID, 0.72)
	if err != nil || !applied {
		t.Fatalf("发布失败: applied=%v err=%v", applied, err)
	}

	got, _ := ms.GetSignal(ctx, s.ID)
	if got.State != types.StateWaitingForEntry || !got.Released || got.ReleaseConfidence != 0.72 {
		t.Fatalf("发布后字段错误: %+v", got)
	}

	// 重复发布是空操作
	applied, err = ms.ReleaseSignal(ctx, s.ID, 0.9)
	if err != nil || applied {
		t.Fatalf("重复发布应为空操作: applied=%v err=%v", applied, err)
	}
}
