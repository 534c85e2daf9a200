package feed

import (
	"context"

	"signal-sentry/pkg/types"
)

// Feed 行情数据源接口
// 核心只要求K线按时间升序且内部一致，不关心上游具体是哪家
type Feed interface {
	// FetchCandles 拉取最近lookback根K线，按时间升序返回
	FetchCandles(ctx context.Context, symbol, interval string, lookback int) ([]types.Candle, error)

	// FetchLatestPrice 获取最新成交价
	FetchLatestPrice(ctx context.Context, symbol string) (float64, error)
}
