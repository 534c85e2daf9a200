package feed

import (
	"fmt"
	"strconv"
	"time"
)

// parseTimestamp 解析毫秒时间戳字符串
func parseTimestamp(ts string) (time.Time, error) {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("时间戳格式错误: %v", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// IntervalDuration 将K线周期字符串转换为时间长度
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1H":
		return time.Hour
	case "2H":
		return 2 * time.Hour
	case "4H":
		return 4 * time.Hour
	case "1D":
		return 24 * time.Hour
	default:
		return 15 * time.Minute
	}
}
