package notifier

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"signal-sentry/pkg/types"
)

// Interface 通知接口
type Interface interface {
	NotifyRelease(signal *types.Signal, score float64, explanation string) error
	NotifyOutcome(signal *types.Signal) error
}

// directionText 信号方向的中文描述
func directionText(direction types.SignalDirection) (string, string) {
	if direction == types.DirectionBuy {
		return "📈", "做多"
	}
	return "📉", "做空"
}

// outcomeText 信号结局的中文描述
func outcomeText(result types.Outcome) (string, string) {
	switch result {
	case types.OutcomeHitTP:
		return "🎯", "止盈命中"
	case types.OutcomeHitSL:
		return "🛑", "止损触发"
	default:
		return "⏰", "超时过期"
	}
}

// ConsoleNotifier 控制台通知器
type ConsoleNotifier struct{}

func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

func (cn *ConsoleNotifier) NotifyRelease(signal *types.Signal, score float64, explanation string) error {
	arrow, dirText := directionText(signal.Direction)

	border := "╔" + strings.Repeat("═", 60) + "╗"
	bottomBorder := "╚" + strings.Repeat("═", 60) + "╝"

	fmt.Println()
	fmt.Println(border)
	fmt.Printf("║ %s 🚨 信号放行！%s ║\n", arrow, strings.Repeat(" ", 40))
	fmt.Println("║" + strings.Repeat(" ", 60) + "║")
	fmt.Printf("║ 交易对: %-47s ║\n", signal.Symbol)
	fmt.Printf("║ 方向: %-49s ║\n", dirText)
	fmt.Printf("║ 入场价: %-47.5f ║\n", signal.EntryPrice)
	fmt.Printf("║ 止盈: %-49.5f ║\n", signal.TakeProfit)
	fmt.Printf("║ 止损: %-49.5f ║\n", signal.StopLoss)
	fmt.Printf("║ 放行评分: %-45.4f ║\n", score)
	fmt.Printf("║ 评分明细: %-45s ║\n", explanation)
	fmt.Println(bottomBorder)
	fmt.Println()

	return nil
}

func (cn *ConsoleNotifier) NotifyOutcome(signal *types.Signal) error {
	icon, text := outcomeText(signal.Result)
	arrow, dirText := directionText(signal.Direction)

	fmt.Println()
	fmt.Printf("%s 信号结束 [%s %s %s] %s\n", icon, signal.Symbol, arrow, dirText, text)
	fmt.Printf("   入场: %.5f  止盈: %.5f  止损: %.5f\n",
		signal.EntryPrice, signal.TakeProfit, signal.StopLoss)
	fmt.Println()

	return nil
}

// DingTalkNotifier 钉钉通知器
type DingTalkNotifier struct {
	webhookURL string
	secret     string
	enabled    bool
	httpClient *http.Client
}

// DingTalkMessage 钉钉消息结构
type DingTalkMessage struct {
	MsgType  string            `json:"msgtype"`
	Markdown *DingTalkMarkdown `json:"markdown,omitempty"`
	At       *DingTalkAt       `json:"at,omitempty"`
}

type DingTalkMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type DingTalkAt struct {
	AtAll bool `json:"isAtAll"`
}

// DingTalkResponse 钉钉API响应
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func NewDingTalkNotifier(webhookURL, secret string) Interface {
	// 如果没有配置webhook URL，返回控制台通知器
	if webhookURL == "" {
		fmt.Println("🔧 未配置钉钉Webhook URL，使用控制台输出模式")
		return NewConsoleNotifier()
	}

	if secret != "" {
		fmt.Println("✅ 已配置钉钉通知服务（含加签验证）")
	} else {
		fmt.Println("⚠️ 钉钉通知已配置，但未设置secret（建议配置加签验证）")
	}

	return &DingTalkNotifier{
		webhookURL: webhookURL,
		secret:     secret,
		enabled:    true,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (dtn *DingTalkNotifier) NotifyRelease(signal *types.Signal, score float64, explanation string) error {
	if !dtn.enabled {
		console := NewConsoleNotifier()
		return console.NotifyRelease(signal, score, explanation)
	}

	arrow, dirText := directionText(signal.Direction)
	title := fmt.Sprintf("%s 交易信号放行 - %s", arrow, signal.Symbol)

	content := fmt.Sprintf(`## %s 交易信号放行

**交易对**: %s
**方向**: %s
**入场价**: %.5f
**止盈**: %.5f
**止损**: %.5f
**盈亏比**: %.2f
**结构置信度**: %.4f
**放行评分**: %.4f
**评分明细**: %s
**生成时间**: %s

> ⚠️ 信号仅供参考，入场前请确认风险承受能力！`,
		arrow,
		signal.Symbol,
		dirText,
		signal.EntryPrice,
		signal.TakeProfit,
		signal.StopLoss,
		signal.RewardRisk,
		signal.RawConfidence,
		score,
		explanation,
		signal.GeneratedAt.Format("2006-01-02 15:04:05"))

	if err := dtn.sendDingTalkMessage(title, content); err != nil {
		fmt.Printf("❌ 钉钉发送失败: %v，降级为控制台输出\n", err)
		console := NewConsoleNotifier()
		return console.NotifyRelease(signal, score, explanation)
	}

	fmt.Printf("✅ 钉钉通知已发送: %s %s 信号放行\n", signal.Symbol, dirText)
	return nil
}

func (dtn *DingTalkNotifier) NotifyOutcome(signal *types.Signal) error {
	if !dtn.enabled {
		console := NewConsoleNotifier()
		return console.NotifyOutcome(signal)
	}

	icon, text := outcomeText(signal.Result)
	arrow, dirText := directionText(signal.Direction)

	title := fmt.Sprintf("%s 信号结束 - %s", icon, signal.Symbol)

	closedAt := "未知"
	if signal.ClosedAt != nil {
		closedAt = signal.ClosedAt.Format("2006-01-02 15:04:05")
	}

	content := fmt.Sprintf(`## %s 信号结束 - %s

**交易对**: %s
**方向**: %s %s
**入场价**: %.5f
**止盈**: %.5f
**止损**: %.5f
**结束时间**: %s
`,
		icon, text,
		signal.Symbol,
		arrow, dirText,
		signal.EntryPrice,
		signal.TakeProfit,
		signal.StopLoss,
		closedAt)

	if err := dtn.sendDingTalkMessage(title, content); err != nil {
		fmt.Printf("❌ 钉钉发送失败: %v，降级为控制台输出\n", err)
		console := NewConsoleNotifier()
		return console.NotifyOutcome(signal)
	}

	fmt.Printf("✅ 钉钉通知已发送: %s %s\n", signal.Symbol, text)
	return nil
}

// generateSignature 生成钉钉加签
func (dtn *DingTalkNotifier) generateSignature(timestamp int64) (string, error) {
	if dtn.secret == "" {
		return "", nil // 没有secret则不加签
	}

	// 按照文档要求: timestamp + "\n" + secret
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, dtn.secret)

	// HMAC-SHA256签名
	h := hmac.New(sha256.New, []byte(dtn.secret))
	h.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	// URL编码
	return url.QueryEscape(signature), nil
}

// buildSignedURL 构建带签名的URL
func (dtn *DingTalkNotifier) buildSignedURL() (string, error) {
	timestamp := time.Now().UnixNano() / 1e6 // 毫秒时间戳

	if dtn.secret == "" {
		return dtn.webhookURL, nil
	}

	signature, err := dtn.generateSignature(timestamp)
	if err != nil {
		return "", err
	}

	separator := "&"
	if !strings.Contains(dtn.webhookURL, "?") {
		separator = "?"
	}

	return fmt.Sprintf("%s%stimestamp=%d&sign=%s",
		dtn.webhookURL, separator, timestamp, signature), nil
}

// sendDingTalkMessage 发送钉钉消息
func (dtn *DingTalkNotifier) sendDingTalkMessage(title, content string) error {
	signedURL, err := dtn.buildSignedURL()
	if err != nil {
		return fmt.Errorf("生成签名失败: %v", err)
	}

	message := &DingTalkMessage{
		MsgType: "markdown",
		Markdown: &DingTalkMarkdown{
			Title: title,
			Text:  content,
		},
		At: &DingTalkAt{
			AtAll: false, // 不@所有人，避免过度打扰
		},
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %v", err)
	}

	resp, err := dtn.httpClient.Post(signedURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %v", err)
	}
	defer resp.Body.Close()

	var dingResp DingTalkResponse
	if err := json.NewDecoder(resp.Body).Decode(&dingResp); err != nil {
		return fmt.Errorf("解析响应失败: %v", err)
	}

	if dingResp.ErrCode != 0 {
		return fmt.Errorf("钉钉API错误 [%d]: %s", dingResp.ErrCode, dingResp.ErrMsg)
	}

	return nil
}
