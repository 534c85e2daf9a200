package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"signal-sentry/pkg/types"
)

// CandleWindow 固定容量的K线滑动窗口
type CandleWindow struct {
	data    []types.Candle
	maxSize int
	mutex   sync.RWMutex
}

func NewCandleWindow(maxSize int) *CandleWindow {
	return &CandleWindow{
		data:    make([]types.Candle, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add 追加一根K线；同一开盘时间的K线覆盖旧值，超容量时淘汰最旧
func (cw *CandleWindow) Add(candle types.Candle) {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if n := len(cw.data); n > 0 && cw.data[n-1].OpenTime.Equal(candle.OpenTime) {
		cw.data[n-1] = candle
		return
	}

	cw.data = append(cw.data, candle)
	if len(cw.data) > cw.maxSize {
		cw.data = cw.data[len(cw.data)-cw.maxSize:]
	}
}

// Snapshot 返回当前窗口的副本，按时间升序
func (cw *CandleWindow) Snapshot() []types.Candle {
	cw.mutex.RLock()
	defer cw.mutex.RUnlock()

	out := make([]types.Candle, len(cw.data))
	copy(out, cw.data)
	return out
}

// Latest 返回最新一根K线
func (cw *CandleWindow) Latest() *types.Candle {
	cw.mutex.RLock()
	defer cw.mutex.RUnlock()

	if len(cw.data) == 0 {
		return nil
	}
	c := cw.data[len(cw.data)-1]
	return &c
}

func (cw *CandleWindow) Length() int {
	cw.mutex.RLock()
	defer cw.mutex.RUnlock()
	return len(cw.data)
}

// Manager 行情缓存管理器
// 内存为主，Redis异步备份最新价格，重启后可快速恢复观测状态
type Manager struct {
	windows     map[string]*CandleWindow
	latestPrice map[string]types.PriceDataPoint
	mutex       sync.RWMutex
	windowSize  int
	redisClient *redis.Client
	useRedis    bool
}

func NewManager(redisConfig types.RedisConfig, windowSize int) *Manager {
	m := &Manager{
		windows:     make(map[string]*CandleWindow),
		latestPrice: make(map[string]types.PriceDataPoint),
		windowSize:  windowSize,
	}

	// 尝试连接Redis
	if redisConfig.URL != "" {
		m.redisClient = redis.NewClient(&redis.Options{
			Addr:     redisConfig.URL,
			Password: redisConfig.Password,
			DB:       redisConfig.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := m.redisClient.Ping(ctx).Result()
		if err != nil {
			zap.L().Warn("⚠️ Redis连接失败，使用纯内存模式", zap.Error(err))
			m.useRedis = false
		} else {
			zap.L().Info("✅ Redis连接成功")
			m.useRedis = true
		}
	} else {
		zap.L().Info("🔧 未配置Redis，使用纯内存模式")
		m.useRedis = false
	}

	return m
}

// StoreCandle 写入一根K线到对应交易对的滑动窗口
func (m *Manager) StoreCandle(candle types.Candle) {
	m.mutex.Lock()
	if m.windows[candle.Symbol] == nil {
		m.windows[candle.Symbol] = NewCandleWindow(m.windowSize)
	}
	window := m.windows[candle.Symbol]
	m.mutex.Unlock()

	window.Add(candle)
	m.StorePrice(candle.Symbol, candle.Close, candle.CloseTime)
}

// StoreCandles 批量写入K线
func (m *Manager) StoreCandles(candles []types.Candle) {
	for _, c := range candles {
		m.StoreCandle(c)
	}
}

// StorePrice 写入最新价格
func (m *Manager) StorePrice(symbol string, price float64, timestamp time.Time) {
	point := types.PriceDataPoint{
		Price:     price,
		Timestamp: timestamp,
	}

	m.mutex.Lock()
	old, ok := m.latestPrice[symbol]
	if !ok || !timestamp.Before(old.Timestamp) {
		m.latestPrice[symbol] = point
	}
	m.mutex.Unlock()

	// 异步备份到Redis
	if m.useRedis {
		go m.backupToRedis(symbol, point)
	}
}

// backupToRedis 备份价格数据到Redis
func (m *Manager) backupToRedis(symbol string, point types.PriceDataPoint) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf("sentry:price:%s", symbol)
	value, err := json.Marshal(point)
	if err != nil {
		zap.L().Warn("序列化价格数据失败", zap.Error(err))
		return
	}

	// 使用Redis Sorted Set存储，以时间戳为分数
	err = m.redisClient.ZAdd(ctx, key, &redis.Z{
		Score:  float64(point.Timestamp.Unix()),
		Member: value,
	}).Err()
	if err != nil {
		zap.L().Warn("Redis存储失败", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	// 只保留最近1小时数据
	m.redisClient.Expire(ctx, key, time.Hour)
	cutoff := float64(time.Now().Add(-time.Hour).Unix())
	m.redisClient.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%.0f", cutoff))
}

// GetWindow 获取某交易对的K线窗口副本
func (m *Manager) GetWindow(symbol string) []types.Candle {
	m.mutex.RLock()
	window := m.windows[symbol]
	m.mutex.RUnlock()

	if window == nil {
		return nil
	}
	return window.Snapshot()
}

// GetLatestPrice 获取某交易对的最新缓存价格
func (m *Manager) GetLatestPrice(symbol string) (types.PriceDataPoint, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	point, ok := m.latestPrice[symbol]
	return point, ok
}

// GetAllSymbols 返回当前缓存的全部交易对
func (m *Manager) GetAllSymbols() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	symbols := make([]string, 0, len(m.windows))
	for symbol := range m.windows {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// Stats 缓存运行状态
func (m *Manager) Stats() map[string]interface{} {
	m.mutex.RLock()
	stats := map[string]interface{}{
		"redis_enabled":  m.useRedis,
		"memory_symbols": len(m.windows),
	}
	m.mutex.RUnlock()

	if m.useRedis {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		keys, err := m.redisClient.Keys(ctx, "sentry:price:*").Result()
		if err == nil {
			stats["redis_keys"] = len(keys)
		} else {
			stats["redis_error"] = err.Error()
		}
	}

	return stats
}

// Close 关闭Redis连接
func (m *Manager) Close() error {
	if m.redisClient != nil {
		return m.redisClient.Close()
	}
	return nil
}
