package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"signal-sentry/pkg/types"
)

// StreamClient WebSocket实时K线客户端
type StreamClient struct {
	endpoint      string
	proxy         string
	conn          *websocket.Conn
	mu            sync.RWMutex
	isConnected   bool
	reconnectChan chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
	candleChan    chan *types.Candle
	config        types.FeedConfig
}

// streamCandleResponse OKX K线推送消息
type streamCandleResponse struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data [][]string `json:"data"`
}

// streamSubscription OKX订阅消息
type streamSubscription struct {
	Op   string `json:"op"`
	Args []struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"args"`
}

// NewStreamClient 创建实时K线客户端
func NewStreamClient(config types.FeedConfig, proxy string) *StreamClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &StreamClient{
		endpoint:      config.WSEndpoint,
		proxy:         proxy,
		reconnectChan: make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		candleChan:    make(chan *types.Candle, 1000), // 缓冲1000条K线数据
		config:        config,
	}
}

// Connect 建立WebSocket连接
func (c *StreamClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialer := websocket.DefaultDialer
	if c.proxy != "" {
		proxyURL, err := url.Parse(c.proxy)
		if err != nil {
			return fmt.Errorf("解析代理URL失败: %v", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	conn, _, err := dialer.Dial(c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("WebSocket连接失败: %v", err)
	}

	c.conn = conn
	c.isConnected = true

	zap.L().Info("✅ WebSocket连接建立成功",
		zap.String("endpoint", c.endpoint),
		zap.String("proxy", c.proxy))

	return nil
}

// Subscribe 订阅K线数据
func (c *StreamClient) Subscribe(symbols []string, interval string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isConnected || c.conn == nil {
		return fmt.Errorf("WebSocket未连接")
	}

	subscription := streamSubscription{
		Op: "subscribe",
	}

	for _, symbol := range symbols {
		subscription.Args = append(subscription.Args, struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		}{
			Channel: fmt.Sprintf("candle%s", interval),
			InstID:  symbol,
		})
	}

	if err := c.conn.WriteJSON(subscription); err != nil {
		return fmt.Errorf("发送订阅消息失败: %v", err)
	}

	zap.L().Info("📊 已订阅K线数据",
		zap.Strings("symbols", symbols),
		zap.String("interval", interval))

	return nil
}

// StartReading 开始读取WebSocket数据
func (c *StreamClient) StartReading() {
	go c.readLoop()
	go c.reconnectLoop()
	go c.pingLoop()
}

// readLoop 读取数据循环
func (c *StreamClient) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("WebSocket读取panic", zap.Any("error", r))
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				time.Sleep(time.Second)
				continue
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				zap.L().Error("WebSocket读取消息失败", zap.Error(err))
				c.handleDisconnect()
				continue
			}

			if err := c.parseCandleMessage(message); err != nil {
				zap.L().Warn("解析K线推送失败", zap.Error(err))
			}
		}
	}
}

// parseCandleMessage 解析K线推送消息
func (c *StreamClient) parseCandleMessage(message []byte) error {
	var response streamCandleResponse
	if err := json.Unmarshal(message, &response); err != nil {
		return err
	}

	// 忽略非K线消息（订阅确认、心跳等）
	if !strings.HasPrefix(response.Arg.Channel, "candle") {
		return nil
	}

	interval := strings.TrimPrefix(response.Arg.Channel, "candle")

	for _, data := range response.Data {
		if len(data) < 7 {
			continue
		}

		// 最后一列为确认标志，0表示K线未收盘
		if confirmed := data[len(data)-1]; confirmed == "0" {
			continue
		}

		candle, err := parseOKXCandle(response.Arg.InstID, interval, data)
		if err != nil {
			zap.L().Warn("解析单条K线数据失败", zap.Error(err))
			continue
		}
		if err := candle.Validate(); err != nil {
			zap.L().Warn("跳过异常K线",
				zap.String("symbol", candle.Symbol),
				zap.Error(err))
			continue
		}

		select {
		case c.candleChan <- candle:
		default:
			zap.L().Warn("K线数据通道满，丢弃数据", zap.String("symbol", candle.Symbol))
		}
	}

	return nil
}

// reconnectLoop 重连循环
func (c *StreamClient) reconnectLoop() {
	ticker := time.NewTicker(c.config.ReconnectInterval)
	defer ticker.Stop()

	reconnectAttempts := 0

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.reconnectChan:
			reconnectAttempts++
			if reconnectAttempts > c.config.MaxReconnectAttempts {
				zap.L().Error("达到最大重连次数，停止重连",
					zap.Int("max_attempts", c.config.MaxReconnectAttempts))
				return
			}

			zap.L().Info("尝试重连WebSocket",
				zap.Int("attempt", reconnectAttempts),
				zap.Int("max_attempts", c.config.MaxReconnectAttempts))

			if err := c.Connect(); err != nil {
				zap.L().Error("重连失败", zap.Error(err))
				time.Sleep(c.config.ReconnectInterval)
				c.reconnectChan <- struct{}{}
				continue
			}

			reconnectAttempts = 0
			zap.L().Info("WebSocket重连成功")
		}
	}
}

// pingLoop 心跳循环
func (c *StreamClient) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			isConnected := c.isConnected
			c.mu.RUnlock()

			if !isConnected || conn == nil {
				continue
			}

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				zap.L().Error("发送心跳失败", zap.Error(err))
				c.handleDisconnect()
			}
		}
	}
}

// handleDisconnect 处理断线
func (c *StreamClient) handleDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.isConnected = false

	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

// GetCandleChannel 获取K线数据通道
func (c *StreamClient) GetCandleChannel() <-chan *types.Candle {
	return c.candleChan
}

// Close 关闭WebSocket连接
func (c *StreamClient) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.isConnected = false
		return err
	}

	return nil
}

// IsConnected 检查连接状态
func (c *StreamClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}
