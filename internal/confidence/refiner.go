package confidence

import (
	"fmt"
	"time"

	"signal-sentry/pkg/types"
)

// 主要交易时段（UTC小时，半开区间[start,end)）
// 伦敦与纽约重叠窗口流动性最高，其余时段降权
const (
	londonStart  = 7
	londonEnd    = 12
	newYorkStart = 16
	newYorkEnd   = 21

	overlapWeight = 1.2
	primaryWeight = 1.0
	offHourWeight = 0.8

	rolloverPenalty = 0.5

	// 波动率比值的正常区间，区间外按偏离程度降权
	volRatioLow  = 0.75
	volRatioHigh = 1.5
	volFloor     = 0.5
)

// Refiner 发布置信度修正器
// 纯函数：结论只由(raw, now, recent)决定，时间显式传入以便测试
type Refiner struct {
	config types.ReleaseConfig
}

// NewRefiner 创建修正器
func NewRefiner(config types.ReleaseConfig) *Refiner {
	if config.OverlapEnd <= config.OverlapStart {
		config.OverlapStart = 12
		config.OverlapEnd = 16
	}
	if config.RolloverEnd <= config.RolloverStart {
		config.RolloverStart = 21
		config.RolloverEnd = 23
	}
	return &Refiner{config: config}
}

// CalculateReleaseScore 将原始置信度修正为发布分数
// score = clamp(raw × session × volatility × spread, 0, 1)
// 返回的说明串字段稳定，供审计解析
func (r *Refiner) CalculateReleaseScore(raw float64, now time.Time, recent []types.Candle) (float64, string) {
	raw = clamp01(raw)

	session := r.SessionWeight(now)
	vol := r.VolatilityFactor(recent)
	spread := r.SpreadFactor(now)

	score := clamp01(raw * session * vol * spread)

	explanation := fmt.Sprintf("raw=%.4f session=%.2f vol=%.2f spread=%.2f score=%.4f",
		raw, session, vol, spread, score)

	return score, explanation
}

// SessionWeight 按UTC小时查表
// 伦敦/纽约重叠时段1.2，单一主时段1.0，其余0.8
func (r *Refiner) SessionWeight(now time.Time) float64 {
	hour := now.UTC().Hour()

	if hour >= r.config.OverlapStart && hour < r.config.OverlapEnd {
		return overlapWeight
	}
	if (hour >= londonStart && hour < londonEnd) || (hour >= newYorkStart && hour < newYorkEnd) {
		return primaryWeight
	}
	return offHourWeight
}

// VolatilityFactor 末根K线振幅相对前序窗口均值的比值修正
// 过度扩张与异常安静同向降权，正常区间返回1.0
func (r *Refiner) VolatilityFactor(recent []types.Candle) float64 {
	if len(recent) < 2 {
		return 1.0
	}

	last := recent[len(recent)-1]

	sum := 0.0
	for _, c := range recent[:len(recent)-1] {
		sum += c.Range()
	}
	baseline := sum / float64(len(recent)-1)
	if baseline <= 0 {
		return 1.0
	}

	ratio := last.Range() / baseline

	switch {
	case ratio > volRatioHigh:
		return clampFactor(volRatioHigh / ratio)
	case ratio < volRatioLow:
		return clampFactor(ratio / volRatioLow)
	}
	return 1.0
}

// SpreadFactor 低流动性换日时段点差惩罚
func (r *Refiner) SpreadFactor(now time.Time) float64 {
	hour := now.UTC().Hour()
	if hour >= r.config.RolloverStart && hour < r.config.RolloverEnd {
		return rolloverPenalty
	}
	return 1.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampFactor(v float64) float64 {
	if v < volFloor {
		return volFloor
	}
	if v > 1 {
		return 1
	}
	return v
}
