package types

import "time"

// SignalDirection 信号交易方向
type SignalDirection string

const (
	DirectionBuy  SignalDirection = "BUY"
	DirectionSell SignalDirection = "SELL"
)

// SignalState 信号生命周期状态
// 推进只允许向前，终态不可再变更
type SignalState string

const (
	StateCandidate       SignalState = "CANDIDATE"         // 已检测，等待发布门槛判定
	StateWaitingForEntry SignalState = "WAITING_FOR_ENTRY" // 已发布，等待价格触达入场位
	StateEntryHit        SignalState = "ENTRY_HIT"         // 已入场，等待止盈或止损
	StateTPHit           SignalState = "TP_HIT"            // 终态：止盈
	StateSLHit           SignalState = "SL_HIT"            // 终态：止损
	StateExpired         SignalState = "EXPIRED"           // 终态：入场窗口超时
	StateCancelled       SignalState = "CANCELLED"         // 终态：管理性取消（僵尸回收）
)

// IsTerminal 判断是否为终态
func (s SignalState) IsTerminal() bool {
	switch s {
	case StateTPHit, StateSLHit, StateExpired, StateCancelled:
		return true
	}
	return false
}

// rank 状态的推进序号，用于单调性校验
func (s SignalState) rank() int {
	switch s {
	case StateCandidate:
		return 0
	case StateWaitingForEntry:
		return 1
	case StateEntryHit:
		return 2
	case StateTPHit, StateSLHit, StateExpired, StateCancelled:
		return 3
	}
	return -1
}

// CanTransitionTo 校验状态推进是否合法（只进不退，终态封闭）
func (s SignalState) CanTransitionTo(next SignalState) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// SignalStatus 运营状态桶，粗粒度镜像生命周期状态
type SignalStatus string

const (
	StatusActive  SignalStatus = "ACTIVE"  // 非终态
	StatusClosed  SignalStatus = "CLOSED"  // 终态：TP/SL/取消
	StatusExpired SignalStatus = "EXPIRED" // 终态：入场超时
)

// StatusFor 根据生命周期状态推导运营状态，保证两者对终态的判断永不冲突
func StatusFor(state SignalState) SignalStatus {
	switch state {
	case StateExpired:
		return StatusExpired
	case StateTPHit, StateSLHit, StateCancelled:
		return StatusClosed
	}
	return StatusActive
}

// Outcome 信号的最终结果
type Outcome string

const (
	OutcomeHitTP   Outcome = "HIT_TP"
	OutcomeHitSL   Outcome = "HIT_SL"
	OutcomeExpired Outcome = "EXPIRED"
)

// Signal 交易信号聚合根
// 入场价与止盈止损在创建后不可变，只有状态相关字段会被推进
type Signal struct {
	ID                int64           `json:"id"`
	Symbol            string          `json:"symbol"`
	Direction         SignalDirection `json:"direction"`
	EntryPrice        float64         `json:"entry_price"`
	TakeProfit        float64         `json:"take_profit"`
	StopLoss          float64         `json:"stop_loss"`
	RewardRisk        float64         `json:"reward_risk"`        // 盈亏比
	RawConfidence     float64         `json:"raw_confidence"`     // 结构引擎原始置信度
	ReleaseConfidence float64         `json:"release_confidence"` // 经场景修正后的发布分数
	State             SignalState     `json:"state"`
	Status            SignalStatus    `json:"status"`
	Result            Outcome         `json:"result,omitempty"`
	Released          bool            `json:"released"`
	GeneratedAt       time.Time       `json:"generated_at"`
	EntryHitAt        *time.Time      `json:"entry_hit_at,omitempty"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
}

// ValidateLevels 校验entry/tp/sl的方向一致性
// BUY要求 sl < entry < tp，SELL要求 tp < entry < sl
func (s *Signal) ValidateLevels() error {
	switch s.Direction {
	case DirectionBuy:
		if !(s.StopLoss < s.EntryPrice && s.EntryPrice < s.TakeProfit) {
			return ErrInvariantViolation
		}
	case DirectionSell:
		if !(s.TakeProfit < s.EntryPrice && s.EntryPrice < s.StopLoss) {
			return ErrInvariantViolation
		}
	default:
		return ErrInvariantViolation
	}
	return nil
}

// ValidationEvent 审计记录：将一次状态推进与触发它的K线绑定
type ValidationEvent struct {
	SignalID   int64       `json:"signal_id"`
	FromState  SignalState `json:"from_state"`
	ToState    SignalState `json:"to_state"`
	Reason     string      `json:"reason"` // market / admin
	CandleTime time.Time   `json:"candle_time"`
	Open       float64     `json:"open"`
	High       float64     `json:"high"`
	Low        float64     `json:"low"`
	Close      float64     `json:"close"`
	CreatedAt  time.Time   `json:"created_at"`
}
