package structure

import (
	"fmt"
	"hash/fnv"
	"math"

	"go.uber.org/zap"
	"signal-sentry/pkg/types"
)

// EngineVersion 结构引擎版本，健康探针对外上报
const EngineVersion = "1.2.0"

// 证据聚合权重
// 经验值：CHoCH是趋势性质的转变，权重高于顺势的BOS；
// 主导率只做辅助确认。调整后需重新跑determinism与方向判定用例。
const (
	weightBOS       = 0.30
	weightCHoCH     = 0.40
	weightDominance = 0.20

	// 置信度上限，结构分析不声称确定性
	maxConfidence = 0.98
)

// Engine 市场结构引擎
// 纯函数式：除日志外无副作用，相同输入窗口必然产出相同结论
type Engine struct {
	config types.StructureConfig
}

// NewEngine 创建结构引擎
func NewEngine(config types.StructureConfig) *Engine {
	if config.Sensitivity <= 0 {
		config.Sensitivity = 3
	}
	if config.MinWindow <= 0 {
		config.MinWindow = 30
	}
	if config.FakeoutBars <= 0 {
		config.FakeoutBars = 3
	}
	if config.DominanceWindow <= 0 {
		config.DominanceWindow = 20
	}
	if config.MinEvidence <= 0 {
		config.MinEvidence = 0.3
	}
	return &Engine{config: config}
}

// swingPoint 摆动点
type swingPoint struct {
	index  int
	price  float64
	isHigh bool
}

// structureBreak 结构突破事件
type structureBreak struct {
	index     int     // 突破发生的K线下标
	level     float64 // 被突破的摆动点价位
	bullish   bool    // 突破方向
	isCHoCH   bool    // 逆势突破为CHoCH，顺势为BOS
	strength  float64 // 突破幅度相对基准波幅，[0,1]
	confirmed bool    // 假突破过滤结果
}

// Analyze 将K线窗口转换为市场结构状态
// 窗口长度不足返回ErrDataInsufficient，不做静默兜底
func (e *Engine) Analyze(window []types.Candle, symbol, timeframe, source string) (*types.StructureState, error) {
	if len(window) < e.config.MinWindow {
		return nil, fmt.Errorf("%w: 需要%d根K线，实际%d根",
			types.ErrDataInsufficient, e.config.MinWindow, len(window))
	}

	// 1. 摆动点检测
	swings := e.findSwingPoints(window)

	// 2. 结构突破识别与假突破过滤
	breaks, finalTrend := e.classifyBreaks(window, swings)

	// 3. 主导率计算
	dominance := e.dominanceRatio(window, swings, finalTrend)

	// 4. 证据聚合与置信度
	evidence := e.buildEvidence(window, swings, breaks, dominance)
	bullScore, bearScore := e.scoreBreaks(breaks)

	// 5. 方向判定
	direction := e.resolveDirection(breaks, bullScore, bearScore)

	confidence := e.aggregateConfidence(direction, bullScore, bearScore, dominance)

	state := &types.StructureState{
		Symbol:         symbol,
		Timeframe:      timeframe,
		Source:         source,
		Direction:      direction,
		Confidence:     confidence,
		DominanceRatio: dominance,
		Evidence:       evidence,
		TraceID:        traceID(symbol, timeframe, window),
		GeneratedAt:    window[len(window)-1].CloseTime,
	}

	zap.L().Debug("结构分析完成",
		zap.String("symbol", symbol),
		zap.String("timeframe", timeframe),
		zap.String("direction", string(direction)),
		zap.Float64("confidence", confidence),
		zap.Float64("dominance", dominance),
		zap.Int("swings", len(swings)),
		zap.Int("evidence", len(evidence)))

	return state, nil
}

// findSwingPoints 在±sensitivity半径内检测局部极值
// 半径越大摆动点越少越显著
func (e *Engine) findSwingPoints(window []types.Candle) []swingPoint {
	radius := e.config.Sensitivity
	var swings []swingPoint

	if len(window) < radius*2+1 {
		return swings
	}

	for i := radius; i < len(window)-radius; i++ {
		isHigh := true
		isLow := true

		for j := i - radius; j <= i+radius; j++ {
			if j == i {
				continue
			}
			if window[j].High >= window[i].High {
				isHigh = false
			}
			if window[j].Low <= window[i].Low {
				isLow = false
			}
		}

		if isHigh {
			swings = append(swings, swingPoint{index: i, price: window[i].High, isHigh: true})
		}
		if isLow {
			swings = append(swings, swingPoint{index: i, price: window[i].Low, isHigh: false})
		}
	}

	return swings
}

// classifyBreaks 按时间顺序识别结构突破并分类BOS/CHoCH
// 摆动点在其确认位置（index+半径）之后才可被突破，避免未来函数
func (e *Engine) classifyBreaks(window []types.Candle, swings []swingPoint) ([]structureBreak, types.StructureDirection) {
	radius := e.config.Sensitivity
	baseline := averageTrueRange(window)
	trend := types.StructureRanging

	var breaks []structureBreak
	var activeHigh, activeLow *swingPoint
	next := 0 // 下一个待确认的摆动点

	for i := 0; i < len(window); i++ {
		// 将已确认的摆动点设为当前可突破水平
		for next < len(swings) && swings[next].index+radius <= i {
			if swings[next].isHigh {
				activeHigh = &swings[next]
			} else {
				activeLow = &swings[next]
			}
			next++
		}

		close := window[i].Close

		if activeHigh != nil && close > activeHigh.price {
			b := structureBreak{
				index:    i,
				level:    activeHigh.price,
				bullish:  true,
				isCHoCH:  trend != types.StructureBullish && trend != types.StructureRanging,
				strength: breakStrength(close-activeHigh.price, baseline),
			}
			b.confirmed = e.confirmBreak(window, b)
			breaks = append(breaks, b)
			if b.confirmed {
				trend = types.StructureBullish
			}
			activeHigh = nil
		}

		if activeLow != nil && close < activeLow.price {
			b := structureBreak{
				index:    i,
				level:    activeLow.price,
				bullish:  false,
				isCHoCH:  trend != types.StructureBearish && trend != types.StructureRanging,
				strength: breakStrength(activeLow.price-close, baseline),
			}
			b.confirmed = e.confirmBreak(window, b)
			breaks = append(breaks, b)
			if b.confirmed {
				trend = types.StructureBearish
			}
			activeLow = nil
		}
	}

	return breaks, trend
}

// confirmBreak 假突破过滤
// 突破后FakeoutBars根K线内收盘回到被破水平另一侧即视为假突破；
// 窗口末尾无足够确认K线时按有效处理，后续窗口会重新评估
func (e *Engine) confirmBreak(window []types.Candle, b structureBreak) bool {
	end := b.index + e.config.FakeoutBars
	if end >= len(window) {
		end = len(window) - 1
	}
	for j := b.index + 1; j <= end; j++ {
		if b.bullish && window[j].Close < b.level {
			return false
		}
		if !b.bullish && window[j].Close > b.level {
			return false
		}
	}
	return true
}

// dominanceRatio 主导率：统计窗口内收盘位于最近结构支点主导侧的比例
// 无任何摆动点时返回0.5（无主导）
func (e *Engine) dominanceRatio(window []types.Candle, swings []swingPoint, trend types.StructureDirection) float64 {
	if len(swings) == 0 {
		return 0.5
	}
	pivot := swings[len(swings)-1].price

	n := e.config.DominanceWindow
	if n > len(window) {
		n = len(window)
	}

	above := 0
	for i := len(window) - n; i < len(window); i++ {
		if window[i].Close > pivot {
			above++
		}
	}
	fracAbove := float64(above) / float64(n)

	switch trend {
	case types.StructureBullish:
		return fracAbove
	case types.StructureBearish:
		return 1 - fracAbove
	}
	// 无明确趋势时取多数侧
	return math.Max(fracAbove, 1-fracAbove)
}

// buildEvidence 构建按K线顺序排列的证据列表
func (e *Engine) buildEvidence(window []types.Candle, swings []swingPoint, breaks []structureBreak, dominance float64) []types.EvidenceItem {
	evidence := make([]types.EvidenceItem, 0, len(swings)+len(breaks)+1)

	si, bi := 0, 0
	for si < len(swings) || bi < len(breaks) {
		// 两个序列各自按index有序，归并保持时间顺序
		if bi >= len(breaks) || (si < len(swings) && swings[si].index <= breaks[bi].index) {
			evidence = append(evidence, swingEvidence(swings[si]))
			si++
		} else {
			if breaks[bi].confirmed {
				evidence = append(evidence, breakEvidence(breaks[bi]))
			}
			bi++
		}
	}

	domValue := dominance
	lastIdx := len(window) - 1
	evidence = append(evidence, types.EvidenceItem{
		Type:        types.EvidenceDominance,
		Description: fmt.Sprintf("最近%d根K线主导率%.2f", e.config.DominanceWindow, dominance),
		CandleIndex: &lastIdx,
		Value:       &domValue,
	})

	return evidence
}

func swingEvidence(s swingPoint) types.EvidenceItem {
	price := s.price
	idx := s.index
	if s.isHigh {
		return types.EvidenceItem{
			Type:        types.EvidenceSwingHigh,
			Description: fmt.Sprintf("摆动高点 %.5f", s.price),
			PriceLevel:  &price,
			CandleIndex: &idx,
		}
	}
	return types.EvidenceItem{
		Type:        types.EvidenceSwingLow,
		Description: fmt.Sprintf("摆动低点 %.5f", s.price),
		PriceLevel:  &price,
		CandleIndex: &idx,
	}
}

func breakEvidence(b structureBreak) types.EvidenceItem {
	level := b.level
	idx := b.index
	strength := b.strength

	dir := types.StructureBearish
	if b.bullish {
		dir = types.StructureBullish
	}

	evType := types.EvidenceBOS
	label := "BOS"
	if b.isCHoCH {
		evType = types.EvidenceCHoCH
		label = "CHoCH"
	}

	return types.EvidenceItem{
		Type:        evType,
		Description: fmt.Sprintf("%s突破 %.5f", label, b.level),
		Direction:   &dir,
		PriceLevel:  &level,
		Strength:    &strength,
		CandleIndex: &idx,
	}
}

// scoreBreaks 按方向聚合有效突破的加权强度
func (e *Engine) scoreBreaks(breaks []structureBreak) (bull, bear float64) {
	for _, b := range breaks {
		if !b.confirmed {
			continue
		}
		w := weightBOS
		if b.isCHoCH {
			w = weightCHoCH
		}
		if b.bullish {
			bull += w * b.strength
		} else {
			bear += w * b.strength
		}
	}
	return bull, bear
}

// resolveDirection 方向判定
// 胜出方需达到最小证据权重，且不被更近的反向有效突破否定
func (e *Engine) resolveDirection(breaks []structureBreak, bullScore, bearScore float64) types.StructureDirection {
	var lastConfirmed *structureBreak
	for i := len(breaks) - 1; i >= 0; i-- {
		if breaks[i].confirmed {
			lastConfirmed = &breaks[i]
			break
		}
	}

	if bullScore >= e.config.MinEvidence && bullScore > bearScore {
		if lastConfirmed != nil && !lastConfirmed.bullish {
			return types.StructureRanging
		}
		return types.StructureBullish
	}
	if bearScore >= e.config.MinEvidence && bearScore > bullScore {
		if lastConfirmed != nil && lastConfirmed.bullish {
			return types.StructureRanging
		}
		return types.StructureBearish
	}
	return types.StructureRanging
}

// aggregateConfidence 置信度聚合，封顶maxConfidence
func (e *Engine) aggregateConfidence(direction types.StructureDirection, bullScore, bearScore, dominance float64) float64 {
	var score float64
	switch direction {
	case types.StructureBullish:
		score = bullScore + weightDominance*dominance
	case types.StructureBearish:
		score = bearScore + weightDominance*dominance
	default:
		// 震荡市也给出弱置信度，供调用方参考
		score = math.Max(bullScore, bearScore)
	}

	if score > maxConfidence {
		score = maxConfidence
	}
	if score < 0 {
		score = 0
	}
	return score
}

// breakStrength 突破幅度相对基准波幅，截断到[0,1]
func breakStrength(distance, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	s := distance / baseline
	if s > 1 {
		s = 1
	}
	return s
}

// averageTrueRange 窗口内真实波幅的简单均值，作为突破幅度基准
func averageTrueRange(window []types.Candle) float64 {
	if len(window) < 2 {
		return 0
	}

	sum := 0.0
	for i := 1; i < len(window); i++ {
		hl := window[i].High - window[i].Low
		hc := math.Abs(window[i].High - window[i-1].Close)
		lc := math.Abs(window[i].Low - window[i-1].Close)
		sum += math.Max(hl, math.Max(hc, lc))
	}

	return sum / float64(len(window)-1)
}

// traceID 由输入内容派生，相同窗口必得相同ID，便于审计比对
func traceID(symbol, timeframe string, window []types.Candle) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d|%d|%.8f",
		symbol, timeframe, len(window),
		window[len(window)-1].CloseTime.Unix(),
		window[len(window)-1].Close)
	return fmt.Sprintf("st-%016x", h.Sum64())
}
