package release

import (
	"context"
	"testing"
	"time"

	"signal-sentry/internal/cache"
	"signal-sentry/internal/confidence"
	"signal-sentry/internal/store"
	"signal-sentry/pkg/types"
)

type fakeNotifier struct {
	releases []int64
	scores   []float64
}

func (f *fakeNotifier) NotifyRelease(signal *types.Signal, score float64, explanation string) error {
	f.releases = append(f.releases, signal.ID)
	f.scores = append(f.scores, score)
	return nil
}

func (f *fakeNotifier) NotifyOutcome(signal *types.Signal) error {
	return nil
}

var testReleaseConfig = types.ReleaseConfig{
	Threshold:     0.65,
	OverlapStart:  12,
	OverlapEnd:    16,
	RolloverStart: 21,
	RolloverEnd:   23,
}

func newCandidate(raw float64) *types.Signal {
	return &types.Signal{
		Symbol:        "EUR-USD",
		Direction:     types.DirectionBuy,
		EntryPrice:    1.1000,
		TakeProfit:    1.1020,
		StopLoss:      1.0985,
		RewardRisk:    1.3333,
		RawConfidence: raw,
		State:         types.StateCandidate,
		GeneratedAt:   time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC),
	}
}

func setupPublisher(t *testing.T) (*Publisher, *store.MemoryStore, *fakeNotifier) {
	t.Helper()
	ms := store.NewMemoryStore()
	n := &fakeNotifier{}
	c := cache.NewManager(types.RedisConfig{}, 30)
	refiner := confidence.NewRefiner(testReleaseConfig)
	return NewPublisher(ms, refiner, c, n, testReleaseConfig.Threshold), ms, n
}

// 高置信度候选在重叠时段应清除发布门槛
func TestPublisherReleasesAboveThreshold(t *testing.T) {
	ctx := context.Background()
	p, ms, n := setupPublisher(t)

	// 原始置信度0.80，重叠时段权重1.2 ⇒ 0.96 ≥ 0.65
	signal := newCandidate(0.80)
	if err := ms.CreateSignal(ctx, signal); err != nil {
		t.Fatal(err)
	}

	overlap := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	p.EvaluateCandidates(ctx, overlap)

	got, err := ms.GetSignal(ctx, signal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != types.StateWaitingForEntry {
		t.Fatalf("期望WAITING_FOR_ENTRY, 实际 %s", got.State)
	}
	if !got.Released {
		t.Error("released标志应被置位")
	}
	if got.ReleaseConfidence < 0.95 || got.ReleaseConfidence > 0.97 {
		t.Errorf("发布分数应约为0.96, 实际 %f", got.ReleaseConfidence)
	}
	if len(n.releases) != 1 || n.releases[0] != signal.ID {
		t.Errorf("应发送1条放行通知, 实际 %v", n.releases)
	}
}

// 低分候选保持CANDIDATE，不发通知
func TestPublisherHoldsBelowThreshold(t *testing.T) {
	ctx := context.Background()
	p, ms, n := setupPublisher(t)

	// 原始置信度0.50，非交易时段权重0.8 ⇒ 0.40 < 0.65
	signal := newCandidate(0.50)
	if err := ms.CreateSignal(ctx, signal); err != nil {
		t.Fatal(err)
	}

	offHours := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	p.EvaluateCandidates(ctx, offHours)

	got, _ := ms.GetSignal(ctx, signal.ID)
	if got.State != types.StateCandidate {
		t.Fatalf("低分候选应保持CANDIDATE, 实际 %s", got.State)
	}
	if len(n.releases) != 0 {
		t.Errorf("不应发送放行通知, 实际 %v", n.releases)
	}
}

// 非CANDIDATE信号不参与发布判定
func TestPublisherSkipsNonCandidates(t *testing.T) {
	ctx := context.Background()
	p, ms, n := setupPublisher(t)

	signal := newCandidate(0.90)
	signal.State = types.StateWaitingForEntry
	signal.Released = true
	if err := ms.CreateSignal(ctx, signal); err != nil {
		t.Fatal(err)
	}

	p.EvaluateCandidates(ctx, time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))

	if len(n.releases) != 0 {
		t.Errorf("已发布信号不应重复通知, 实际 %v", n.releases)
	}
}

// 重复判定幂等：第二轮不再产生新通知
func TestPublisherIdempotent(t *testing.T) {
	ctx := context.Background()
	p, ms, n := setupPublisher(t)

	signal := newCandidate(0.80)
	if err := ms.CreateSignal(ctx, signal); err != nil {
		t.Fatal(err)
	}

	overlap := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	p.EvaluateCandidates(ctx, overlap)
	p.EvaluateCandidates(ctx, overlap)

	if len(n.releases) != 1 {
		t.Errorf("放行通知应只发送一次, 实际 %d 次", len(n.releases))
	}
}
