package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"signal-sentry/pkg/types"
)

// MemoryStore 内存信号存储
// 与MySQL实现遵守完全相同的条件更新语义，供测试与无数据库场景使用
type MemoryStore struct {
	mutex   sync.RWMutex
	nextID  int64
	signals map[int64]*types.Signal
	events  map[int64][]types.ValidationEvent
	candles []types.Candle
	daily   map[string]*DailyPerformance
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		signals: make(map[int64]*types.Signal),
		events:  make(map[int64][]types.ValidationEvent),
		daily:   make(map[string]*DailyPerformance),
	}
}

// CreateSignal 创建信号，不变式不成立直接拒绝
func (ms *MemoryStore) CreateSignal(ctx context.Context, signal *types.Signal) error {
	if err := signal.ValidateLevels(); err != nil {
		return err
	}

	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if signal.State == "" {
		signal.State = types.StateCandidate
	}
	signal.Status = types.StatusFor(signal.State)
	signal.ID = ms.nextID
	ms.nextID++

	copied := *signal
	ms.signals[signal.ID] = &copied
	return nil
}

// GetSignal 按ID读取
func (ms *MemoryStore) GetSignal(ctx context.Context, id int64) (*types.Signal, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	s, ok := ms.signals[id]
	if !ok {
		return nil, fmt.Errorf("信号不存在: %d", id)
	}
	copied := *s
	return &copied, nil
}

// ListOpenSignals 列出所有非终态信号，按生成时间升序
func (ms *MemoryStore) ListOpenSignals(ctx context.Context) ([]*types.Signal, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	var open []*types.Signal
	for _, s := range ms.signals {
		if !s.State.IsTerminal() {
			copied := *s
			open = append(open, &copied)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].GeneratedAt.Before(open[j].GeneratedAt)
	})
	return open, nil
}

// ApplyTransition 条件更新，守卫失配时为幂等空操作
func (ms *MemoryStore) ApplyTransition(ctx context.Context, t Transition) (bool, error) {
	if !t.Expected.CanTransitionTo(t.Next) {
		return false, fmt.Errorf("非法状态推进 %s -> %s", t.Expected, t.Next)
	}

	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	s, ok := ms.signals[t.SignalID]
	if !ok {
		return false, fmt.Errorf("信号不存在: %d", t.SignalID)
	}
	if s.State != t.Expected {
		return false, nil
	}

	s.State = t.Next
	s.Status = types.StatusFor(t.Next)
	if t.Next == types.StateEntryHit {
		at := t.At
		s.EntryHitAt = &at
	}
	if t.Next.IsTerminal() {
		at := t.At
		s.ClosedAt = &at
		if t.Result != "" {
			s.Result = t.Result
		}
	}

	if t.Event != nil {
		ev := *t.Event
		ev.CreatedAt = time.Now()
		ms.events[t.SignalID] = append(ms.events[t.SignalID], ev)
	}
	return true, nil
}

// ReleaseSignal CANDIDATE推进到WAITING_FOR_ENTRY并记录release分数
func (ms *MemoryStore) ReleaseSignal(ctx context.Context, id int64, score float64) (bool, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	s, ok := ms.signals[id]
	if !ok {
		return false, fmt.Errorf("信号不存在: %d", id)
	}
	if s.State != types.StateCandidate {
		return false, nil
	}

	s.State = types.StateWaitingForEntry
	s.Status = types.StatusActive
	s.Released = true
	s.ReleaseConfidence = score
	return true, nil
}

// SaveCandles 批量落地K线
func (ms *MemoryStore) SaveCandles(ctx context.Context, candles []types.Candle) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	ms.candles = append(ms.candles, candles...)
	return nil
}

// GetCandlesSince 读取某交易对自某时刻起的K线，按时间升序
func (ms *MemoryStore) GetCandlesSince(ctx context.Context, symbol, interval string, since time.Time) ([]types.Candle, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	var result []types.Candle
	for _, c := range ms.candles {
		if c.Symbol == symbol && c.Interval == interval && !c.OpenTime.Before(since) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenTime.Before(result[j].OpenTime)
	})
	return result, nil
}

// RecordOutcome 更新当日结局统计
func (ms *MemoryStore) RecordOutcome(ctx context.Context, symbol string, result types.Outcome, rMultiple float64) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	key := fmt.Sprintf("%s|%s", symbol, today.Format("2006-01-02"))

	perf, ok := ms.daily[key]
	if !ok {
		perf = &DailyPerformance{Symbol: symbol, Date: today}
		ms.daily[key] = perf
	}

	switch result {
	case types.OutcomeHitTP:
		perf.Wins++
	case types.OutcomeHitSL:
		perf.Losses++
	case types.OutcomeExpired:
		perf.Expired++
	}
	perf.CumulativeR += rMultiple
	return nil
}

// GetValidationEvents 读取某信号的审计轨迹
func (ms *MemoryStore) GetValidationEvents(ctx context.Context, signalID int64) ([]types.ValidationEvent, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	events := make([]types.ValidationEvent, len(ms.events[signalID]))
	copy(events, ms.events[signalID])
	return events, nil
}
