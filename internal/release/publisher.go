package release

import (
	"context"
	"time"

	"go.uber.org/zap"
	"signal-sentry/internal/cache"
	"signal-sentry/internal/confidence"
	"signal-sentry/internal/notifier"
	"signal-sentry/internal/store"
	"signal-sentry/pkg/types"
)

// Publisher 发布门槛判定器
// 对处于CANDIDATE的信号计算场景修正后的发布分数，
// 达到阈值的推进到WAITING_FOR_ENTRY并发送放行通知
type Publisher struct {
	store     store.Store
	refiner   *confidence.Refiner
	cache     *cache.Manager
	notifier  notifier.Interface
	threshold float64
}

// NewPublisher 创建发布判定器
func NewPublisher(s store.Store, r *confidence.Refiner, c *cache.Manager, n notifier.Interface, threshold float64) *Publisher {
	return &Publisher{
		store:     s,
		refiner:   r,
		cache:     c,
		notifier:  n,
		threshold: threshold,
	}
}

// EvaluateCandidates 对所有CANDIDATE信号执行一轮发布判定
// 单个信号失败只记录日志，不影响同批次其他信号
func (p *Publisher) EvaluateCandidates(ctx context.Context, now time.Time) {
	signals, err := p.store.ListOpenSignals(ctx)
	if err != nil {
		zap.L().Error("❌ 读取候选信号失败", zap.Error(err))
		return
	}

	for _, signal := range signals {
		if signal.State != types.StateCandidate {
			continue
		}
		p.evaluate(ctx, signal, now)
	}
}

// evaluate 判定单个候选信号
func (p *Publisher) evaluate(ctx context.Context, signal *types.Signal, now time.Time) {
	recent := p.cache.GetWindow(signal.Symbol)

	score, explanation := p.refiner.CalculateReleaseScore(signal.RawConfidence, now, recent)

	if score < p.threshold {
		zap.L().Debug("候选信号未达发布阈值",
			zap.Int64("signal_id", signal.ID),
			zap.String("symbol", signal.Symbol),
			zap.Float64("score", score),
			zap.Float64("threshold", p.threshold),
			zap.String("detail", explanation))
		return
	}

	applied, err := p.store.ReleaseSignal(ctx, signal.ID, score)
	if err != nil {
		zap.L().Error("❌ 信号发布失败",
			zap.Int64("signal_id", signal.ID),
			zap.Error(err))
		return
	}
	if !applied {
		// 并发守卫生效：别的实例已经处理过
		zap.L().Debug("信号发布被并发守卫跳过", zap.Int64("signal_id", signal.ID))
		return
	}

	zap.L().Info("🚀 信号已放行",
		zap.Int64("signal_id", signal.ID),
		zap.String("symbol", signal.Symbol),
		zap.String("direction", string(signal.Direction)),
		zap.Float64("raw_confidence", signal.RawConfidence),
		zap.Float64("release_score", score),
		zap.String("detail", explanation))

	released := *signal
	released.State = types.StateWaitingForEntry
	released.Status = types.StatusActive
	released.Released = true
	released.ReleaseConfidence = score

	if err := p.notifier.NotifyRelease(&released, score, explanation); err != nil {
		zap.L().Error("❌ 发送放行通知失败",
			zap.Int64("signal_id", signal.ID),
			zap.Error(err))
	}
}
