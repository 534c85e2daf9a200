package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	okxcommon "github.com/nntaoli-project/goex/v2/okx/common"
	"go.uber.org/zap"
	"signal-sentry/pkg/types"
)

// OKXFeed 基于OKX REST接口的行情数据源
type OKXFeed struct {
	baseURL    string
	okxClient  *okxcommon.OKxV5
	httpClient *http.Client
}

// okxCandleResponse OKX K线API响应
type okxCandleResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

// okxTicker OKX ticker数据
type okxTicker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	Ts     string `json:"ts"`
}

// okxTickerResponse OKX ticker API响应
type okxTickerResponse struct {
	Code string      `json:"code"`
	Msg  string      `json:"msg"`
	Data []okxTicker `json:"data"`
}

// NewOKXFeed 创建OKX行情数据源
func NewOKXFeed(network types.NetworkConfig) *OKXFeed {
	// 使用goex v2 OKX客户端
	client := okxcommon.New()

	timeout := network.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: timeout,
	}

	// 如果配置了代理，则使用代理
	if network.Proxy != "" {
		proxyURL, err := url.Parse(network.Proxy)
		if err == nil {
			httpClient.Transport = &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			}
			zap.L().Info("✅ 已配置HTTP代理", zap.String("proxy", network.Proxy))
		} else {
			zap.L().Warn("⚠️ 代理地址格式错误", zap.Error(err))
		}
	}

	return &OKXFeed{
		baseURL:    "https://www.okx.com/api/v5/market",
		okxClient:  client,
		httpClient: httpClient,
	}
}

// FetchCandles 拉取最近lookback根K线
// OKX返回时间倒序，这里翻转为升序；异常K线跳过并记录日志
func (f *OKXFeed) FetchCandles(ctx context.Context, symbol, interval string, lookback int) ([]types.Candle, error) {
	requestURL := fmt.Sprintf("%s/candles?instId=%s&bar=%s&limit=%d",
		f.baseURL, symbol, interval, lookback)

	body, err := f.getWithRetry(ctx, requestURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrFeedUnavailable, err)
	}

	var resp okxCandleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: 解析K线响应失败: %v", types.ErrFeedUnavailable, err)
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("%w: API返回错误 %s - %s", types.ErrFeedUnavailable, resp.Code, resp.Msg)
	}

	candles := make([]types.Candle, 0, len(resp.Data))
	for _, row := range resp.Data {
		candle, err := parseOKXCandle(symbol, interval, row)
		if err != nil {
			zap.L().Warn("解析单条K线数据失败", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if err := candle.Validate(); err != nil {
			zap.L().Warn("跳过异常K线",
				zap.String("symbol", symbol),
				zap.Time("open_time", candle.OpenTime),
				zap.Error(err))
			continue
		}
		candles = append(candles, *candle)
	}

	// 升序排列，去除重复时间戳
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
	candles = dedupeByOpenTime(candles)

	zap.L().Debug("📊 获取历史K线数据完成",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("count", len(candles)))

	return candles, nil
}

// FetchLatestPrice 获取最新成交价
func (f *OKXFeed) FetchLatestPrice(ctx context.Context, symbol string) (float64, error) {
	requestURL := fmt.Sprintf("%s/ticker?instId=%s", f.baseURL, symbol)

	body, err := f.getWithRetry(ctx, requestURL)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrFeedUnavailable, err)
	}

	var resp okxTickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("%w: 解析ticker响应失败: %v", types.ErrFeedUnavailable, err)
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return 0, fmt.Errorf("%w: API返回错误 %s - %s", types.ErrFeedUnavailable, resp.Code, resp.Msg)
	}

	price, err := strconv.ParseFloat(resp.Data[0].Last, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("%w: 最新价非法 %q", types.ErrFeedUnavailable, resp.Data[0].Last)
	}
	return price, nil
}

// getWithRetry 带重试的GET请求，最多重试3次
func (f *OKXFeed) getWithRetry(ctx context.Context, requestURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			zap.L().Info("🔄 重试获取数据", zap.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Signal-Sentry/1.0")
		req.Header.Set("Accept", "application/json")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP请求失败(第%d次尝试): %v", attempt, err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("读取响应失败(第%d次尝试): %v", attempt, err)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("HTTP状态码错误(第%d次尝试): %d", attempt, resp.StatusCode)
			continue
		}

		return body, nil
	}
	return nil, lastErr
}

// parseOKXCandle 解析OKX K线数据格式
// 格式: [timestamp, open, high, low, close, volume, ...]
func parseOKXCandle(symbol, interval string, data []string) (*types.Candle, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("K线数据格式不正确: %d列", len(data))
	}

	openTime, err := parseTimestamp(data[0])
	if err != nil {
		return nil, fmt.Errorf("解析开盘时间失败: %v", err)
	}
	open, err := strconv.ParseFloat(data[1], 64)
	if err != nil {
		return nil, fmt.Errorf("解析开盘价失败: %v", err)
	}
	high, err := strconv.ParseFloat(data[2], 64)
	if err != nil {
		return nil, fmt.Errorf("解析最高价失败: %v", err)
	}
	low, err := strconv.ParseFloat(data[3], 64)
	if err != nil {
		return nil, fmt.Errorf("解析最低价失败: %v", err)
	}
	closePrice, err := strconv.ParseFloat(data[4], 64)
	if err != nil {
		return nil, fmt.Errorf("解析收盘价失败: %v", err)
	}
	volume, err := strconv.ParseFloat(data[5], 64)
	if err != nil {
		return nil, fmt.Errorf("解析成交量失败: %v", err)
	}

	return &types.Candle{
		Symbol:    symbol,
		OpenTime:  openTime,
		CloseTime: openTime.Add(IntervalDuration(interval)),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Interval:  interval,
	}, nil
}

// dedupeByOpenTime 去除重复时间戳，保留首个
func dedupeByOpenTime(candles []types.Candle) []types.Candle {
	if len(candles) < 2 {
		return candles
	}
	result := candles[:1]
	for _, c := range candles[1:] {
		if !c.OpenTime.Equal(result[len(result)-1].OpenTime) {
			result = append(result, c)
		}
	}
	return result
}
