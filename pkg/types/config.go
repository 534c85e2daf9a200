package types

import "time"

// Config 主配置结构
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	DingTalk  DingTalkConfig  `mapstructure:"dingtalk"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Network   NetworkConfig   `mapstructure:"network"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Structure StructureConfig `mapstructure:"structure"`
	Release   ReleaseConfig   `mapstructure:"release"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // 日志级别
	FilePath   string `mapstructure:"file_path"`   // 日志输出路径名
	MaxSize    int    `mapstructure:"max_size"`    // 日志文件大小 单位：MB，超限后会自动切割
	MaxAge     int    `mapstructure:"max_age"`     // 日志文件存放时间 单位：天
	MaxBackups int    `mapstructure:"max_backups"` // 日志文件备份数量
	Compress   bool   `mapstructure:"compress"`    // 日志文件压缩
}

// RedisConfig Redis配置
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DingTalkConfig 钉钉通知配置
type DingTalkConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Secret     string `mapstructure:"secret"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
}

// MySQLConfig MySQL配置
type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// FeedConfig 行情数据源配置
type FeedConfig struct {
	Symbols              []string      `mapstructure:"symbols"`     // 监控的交易对
	Interval             string        `mapstructure:"interval"`    // K线周期，如 15m
	Lookback             int           `mapstructure:"lookback"`    // 每次拉取的历史K线数量
	WSEnabled            bool          `mapstructure:"ws_enabled"`  // 是否启用WebSocket实时K线
	WSEndpoint           string        `mapstructure:"ws_endpoint"` // WebSocket地址
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

// NetworkConfig 网络配置
type NetworkConfig struct {
	Proxy   string        `mapstructure:"proxy"`   // HTTP代理地址，如 http://127.0.0.1:7890
	Timeout time.Duration `mapstructure:"timeout"` // 网络超时时间
}

// WatcherConfig 信号生命周期监控配置
type WatcherConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`   // 轮询周期
	EntryWindow    time.Duration `mapstructure:"entry_window"`    // 入场有效窗口
	StaleThreshold time.Duration `mapstructure:"stale_threshold"` // 僵尸信号回收阈值
	HealthTimeout  time.Duration `mapstructure:"health_timeout"`  // 超过该时长无成功tick视为不健康
}

// StructureConfig 市场结构引擎配置
type StructureConfig struct {
	Sensitivity     int     `mapstructure:"sensitivity"`      // 摆动点检测半径，越大摆动点越少越显著
	MinWindow       int     `mapstructure:"min_window"`       // 最小分析窗口长度
	FakeoutBars     int     `mapstructure:"fakeout_bars"`     // 假突破回收确认K线数
	DominanceWindow int     `mapstructure:"dominance_window"` // 主导率统计窗口
	MinEvidence     float64 `mapstructure:"min_evidence"`     // 判定方向所需的最小证据权重
}

// ReleaseConfig 信号发布门槛配置
type ReleaseConfig struct {
	Threshold     float64 `mapstructure:"threshold"`      // 发布所需的最小release分数
	OverlapStart  int     `mapstructure:"overlap_start"`  // 高流动性重叠时段起始（UTC小时）
	OverlapEnd    int     `mapstructure:"overlap_end"`    // 高流动性重叠时段结束（半开区间）
	RolloverStart int     `mapstructure:"rollover_start"` // 低流动性换日时段起始
	RolloverEnd   int     `mapstructure:"rollover_end"`   // 低流动性换日时段结束
}
