package store

import (
	"context"
	"time"

	"signal-sentry/pkg/types"
)

// Transition 一次状态推进请求
// Expected为乐观并发守卫：仅当记录当前状态仍为Expected时才生效
type Transition struct {
	SignalID int64
	Expected types.SignalState
	Next     types.SignalState
	Result   types.Outcome // 仅终态填写
	At       time.Time
	Event    *types.ValidationEvent // 触发本次推进的K线证据，与状态一并落库
}

// Store 信号存储接口
// 核心组件只依赖此接口，便于注入内存实现进行测试
type Store interface {
	// CreateSignal 创建信号，入库前校验价格不变式
	CreateSignal(ctx context.Context, signal *types.Signal) error

	// GetSignal 按ID读取
	GetSignal(ctx context.Context, id int64) (*types.Signal, error)

	// ListOpenSignals 列出所有非终态信号
	ListOpenSignals(ctx context.Context) ([]*types.Signal, error)

	// ApplyTransition 条件更新：守卫失配时返回(false, nil)，是幂等空操作而非错误
	// 状态与证据K线在同一事务内写入，不存在半更新
	ApplyTransition(ctx context.Context, t Transition) (bool, error)

	// ReleaseSignal 发布门槛判定通过后，将CANDIDATE推进到WAITING_FOR_ENTRY
	// 并记录release分数，同样受乐观并发守卫保护
	ReleaseSignal(ctx context.Context, id int64, score float64) (bool, error)

	// SaveCandles 批量落地K线，供离线回填使用
	SaveCandles(ctx context.Context, candles []types.Candle) error

	// GetCandlesSince 读取某交易对自某时刻起的K线，按时间升序
	GetCandlesSince(ctx context.Context, symbol, interval string, since time.Time) ([]types.Candle, error)

	// RecordOutcome 更新当日结局统计
	RecordOutcome(ctx context.Context, symbol string, result types.Outcome, rMultiple float64) error
}
