package types

import "time"

// Candle K线数据结构（通用市场数据）
// 一旦由数据源产出即视为不可变
type Candle struct {
	Symbol    string    `json:"symbol"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"` // 场外市场成交量可能为0，属正常数据
	Interval  string    `json:"interval"`
}

// Validate 校验K线内部一致性
// low必须不高于开收盘，high必须不低于开收盘
func (c *Candle) Validate() error {
	lo := c.Open
	if c.Close < lo {
		lo = c.Close
	}
	hi := c.Open
	if c.Close > hi {
		hi = c.Close
	}
	if c.Low > lo || c.High < hi {
		return ErrMalformedCandle
	}
	return nil
}

// Range K线的全振幅
func (c *Candle) Range() float64 {
	return c.High - c.Low
}

// PriceDataPoint 价格数据点（最新价缓存使用）
type PriceDataPoint struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
