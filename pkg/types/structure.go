package types

import "time"

// StructureDirection 市场结构方向
type StructureDirection string

const (
	StructureBullish StructureDirection = "bullish"
	StructureBearish StructureDirection = "bearish"
	StructureRanging StructureDirection = "ranging"
)

// EvidenceType 结构证据类型
type EvidenceType string

const (
	EvidenceSwingHigh EvidenceType = "SWING_HIGH" // 摆动高点
	EvidenceSwingLow  EvidenceType = "SWING_LOW"  // 摆动低点
	EvidenceBOS       EvidenceType = "BOS"        // 顺势突破结构
	EvidenceCHoCH     EvidenceType = "CHOCH"      // 逆势突破，性质转变
	EvidenceDominance EvidenceType = "DOMINANCE"  // 收盘主导率
)

// EvidenceItem 结构化的判定依据，可直接渲染展示
// 可选字段用指针表达缺省
type EvidenceItem struct {
	Type        EvidenceType        `json:"type"`
	Description string              `json:"description"`
	Direction   *StructureDirection `json:"direction,omitempty"`
	PriceLevel  *float64            `json:"price_level,omitempty"`
	Strength    *float64            `json:"strength,omitempty"`
	CandleIndex *int                `json:"candle_index,omitempty"`
	Value       *float64            `json:"value,omitempty"`
}

// StructureState 一次结构分析的完整结论
// 每次分析调用都会产出全新实例，产出后不再修改
type StructureState struct {
	Symbol         string             `json:"symbol"`
	Timeframe      string             `json:"timeframe"`
	Source         string             `json:"source"`
	Direction      StructureDirection `json:"direction"`
	Confidence     float64            `json:"confidence"`      // [0,1]
	DominanceRatio float64            `json:"dominance_ratio"` // [0,1]
	Evidence       []EvidenceItem     `json:"evidence"`        // 按K线顺序排列
	TraceID        string             `json:"trace_id"`
	GeneratedAt    time.Time          `json:"generated_at"`
}
