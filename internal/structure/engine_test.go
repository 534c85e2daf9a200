package structure

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"signal-sentry/pkg/types"
)

func testConfig() types.StructureConfig {
	return types.StructureConfig{
		Sensitivity:     2,
		MinWindow:       10,
		FakeoutBars:     2,
		DominanceWindow: 8,
		MinEvidence:     0.2,
	}
}

// buildWindow 用(o,h,l,c)序列构造15m K线窗口
func buildWindow(t *testing.T, ohlc [][4]float64) []types.Candle {
	t.Helper()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	window := make([]types.Candle, 0, len(ohlc))
	for i, v := range ohlc {
		c := types.Candle{
			Symbol:    "EUR-USD",
			OpenTime:  base.Add(time.Duration(i) * 15 * time.Minute),
			CloseTime: base.Add(time.Duration(i+1) * 15 * time.Minute),
			Open:      v[0],
			High:      v[1],
			Low:       v[2],
			Close:     v[3],
			Volume:    100,
			Interval:  "15m",
		}
		if err := c.Validate(); err != nil {
			t.Fatalf("测试K线#%d非法: %v", i, err)
		}
		window = append(window, c)
	}
	return window
}

// 上升结构：i3摆动高点103.5，i5摆动低点100.4，i7收盘突破高点后持续走高
func bullishFixture(t *testing.T) []types.Candle {
	return buildWindow(t, [][4]float64{
		{100.0, 100.5, 99.6, 100.2},
		{100.2, 100.7, 99.8, 100.4},
		{100.4, 101.0, 99.9, 100.8},
		{100.8, 103.5, 100.6, 103.0},
		{103.0, 103.2, 101.8, 102.0},
		{102.0, 102.3, 100.4, 101.0},
		{101.0, 102.5, 100.9, 102.2},
		{102.2, 105.2, 102.0, 105.0},
		{105.0, 105.8, 104.4, 105.5},
		{105.5, 106.3, 105.0, 106.0},
		{106.0, 106.8, 105.6, 106.5},
		{106.5, 107.3, 106.0, 107.0},
	})
}

func TestAnalyzeDataInsufficient(t *testing.T) {
	engine := NewEngine(testConfig())

	window := buildWindow(t, [][4]float64{
		{100, 101, 99, 100.5},
		{100.5, 101.5, 100, 101},
		{101, 102, 100.5, 101.5},
	})

	_, err := engine.Analyze(window, "EUR-USD", "15m", "test")
	if !errors.Is(err, types.ErrDataInsufficient) {
		t.Fatalf("期望ErrDataInsufficient，实际 %v", err)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	engine := NewEngine(testConfig())
	window := bullishFixture(t)

	first, err := engine.Analyze(window, "EUR-USD", "15m", "test")
	if err != nil {
		t.Fatalf("分析失败: %v", err)
	}
	second, err := engine.Analyze(window, "EUR-USD", "15m", "test")
	if err != nil {
		t.Fatalf("分析失败: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("相同输入产出了不同结论:\n%+v\n%+v", first, second)
	}
}

func TestAnalyzeBullishBreakout(t *testing.T) {
	engine := NewEngine(testConfig())
	window := bullishFixture(t)

	state, err := engine.Analyze(window, "EUR-USD", "15m", "test")
	if err != nil {
		t.Fatalf("分析失败: %v", err)
	}

	if state.Direction != types.StructureBullish {
		t.Fatalf("期望bullish，实际 %s", state.Direction)
	}
	if state.Confidence <= 0 || state.Confidence > 0.98 {
		t.Fatalf("置信度越界: %f", state.Confidence)
	}
	if state.DominanceRatio != 1.0 {
		t.Fatalf("突破后全部收盘应在支点上方，主导率应为1.0，实际 %f", state.DominanceRatio)
	}

	// 证据中必须包含顺势突破
	foundBOS := false
	for _, ev := range state.Evidence {
		if ev.Type == types.EvidenceBOS {
			foundBOS = true
			if ev.Direction == nil || *ev.Direction != types.StructureBullish {
				t.Fatalf("BOS证据方向错误: %+v", ev)
			}
			if ev.PriceLevel == nil || *ev.PriceLevel != 103.5 {
				t.Fatalf("BOS证据价位错误: %+v", ev)
			}
		}
	}
	if !foundBOS {
		t.Fatal("证据列表缺少BOS条目")
	}

	// 生成时间取自输入窗口而非当前时钟，保证可复现
	if !state.GeneratedAt.Equal(window[len(window)-1].CloseTime) {
		t.Fatalf("GeneratedAt应等于末根K线收盘时间: %v", state.GeneratedAt)
	}
}

// 证据列表必须按K线顺序排列
func TestEvidenceChronologicalOrder(t *testing.T) {
	engine := NewEngine(testConfig())
	window := bullishFixture(t)

	state, err := engine.Analyze(window, "EUR-USD", "15m", "test")
	if err != nil {
		t.Fatalf("分析失败: %v", err)
	}

	prev := -1
	for _, ev := range state.Evidence {
		if ev.CandleIndex == nil {
			continue
		}
		if *ev.CandleIndex < prev {
			t.Fatalf("证据顺序乱序: %d 在 %d 之后", *ev.CandleIndex, prev)
		}
		prev = *ev.CandleIndex
	}
}

// 假突破：i7上破后两根K线内收盘跌回水平下方，不得计入证据
func TestAnalyzeFakeBreakoutFiltered(t *testing.T) {
	engine := NewEngine(testConfig())

	window := buildWindow(t, [][4]float64{
		{100.0, 100.5, 99.6, 100.2},
		{100.2, 100.7, 99.8, 100.4},
		{100.4, 101.0, 99.9, 100.8},
		{100.8, 103.5, 100.6, 103.0},
		{103.0, 103.2, 101.8, 102.0},
		{102.0, 102.3, 100.4, 101.0},
		{101.0, 102.5, 100.9, 102.2},
		{102.2, 105.2, 102.0, 105.0},
		{105.0, 105.1, 102.8, 103.0}, // 收盘回到103.5下方
		{103.0, 103.4, 102.5, 103.0},
		{103.0, 103.3, 102.4, 102.9},
		{102.9, 103.2, 102.3, 102.8},
	})

	state, err := engine.Analyze(window, "EUR-USD", "15m", "test")
	if err != nil {
		t.Fatalf("分析失败: %v", err)
	}

	if state.Direction != types.StructureRanging {
		t.Fatalf("假突破不应得出方向判断，实际 %s", state.Direction)
	}
	for _, ev := range state.Evidence {
		if ev.Type == types.EvidenceBOS || ev.Type == types.EvidenceCHoCH {
			t.Fatalf("假突破不应出现在证据列表: %+v", ev)
		}
	}
}

// 横盘窗口：无摆动点、无突破，方向为ranging
func TestAnalyzeFlatRanging(t *testing.T) {
	engine := NewEngine(testConfig())

	ohlc := make([][4]float64, 12)
	for i := range ohlc {
		ohlc[i] = [4]float64{100.0, 100.5, 99.5, 100.0}
	}
	window := buildWindow(t, ohlc)

	state, err := engine.Analyze(window, "EUR-USD", "15m", "test")
	if err != nil {
		t.Fatalf("分析失败: %v", err)
	}

	if state.Direction != types.StructureRanging {
		t.Fatalf("横盘应判定ranging，实际 %s", state.Direction)
	}
	if state.DominanceRatio != 0.5 {
		t.Fatalf("无摆动点时主导率应为0.5，实际 %f", state.DominanceRatio)
	}
}
