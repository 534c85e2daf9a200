package types

import "errors"

// 核心错误分类，调用方通过errors.Is判断处理策略
var (
	// ErrDataInsufficient 分析窗口长度不足，本次调用失败，需等待更多数据
	ErrDataInsufficient = errors.New("数据不足，无法进行结构分析")

	// ErrFeedUnavailable 行情源暂时不可用，下个tick重试，不污染已有状态
	ErrFeedUnavailable = errors.New("行情数据源暂时不可用")

	// ErrMalformedCandle K线数据内部不一致，跳过该K线并记录日志
	ErrMalformedCandle = errors.New("K线数据格式异常")

	// ErrInvariantViolation 信号的entry/tp/sl关系不成立，入库前必须拒绝
	ErrInvariantViolation = errors.New("信号价格水平不满足不变式")

	// ErrStaleSignal 僵尸信号，由管理性清理强制取消
	ErrStaleSignal = errors.New("信号已超过管理性过期阈值")
)
