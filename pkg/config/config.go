package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
	"signal-sentry/pkg/types"
)

// Load 加载配置
func Load() (*types.Config, error) {
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// 设置默认值
	setDefaults()

	// 读取环境变量
	viper.AutomaticEnv()

	// 优先尝试读取本地配置文件
	viper.SetConfigName("config.local")
	if err := viper.ReadInConfig(); err != nil {
		// 如果本地配置文件不存在，尝试读取默认配置文件
		viper.SetConfigName("config")
		if err := viper.ReadInConfig(); err != nil {
			var configFileNotFoundError viper.ConfigFileNotFoundError
			if !errors.As(err, &configFileNotFoundError) {
				return nil, err
			}
		}
	}

	var config types.Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file_path", "logs")
	viper.SetDefault("log.max_size", 200)
	viper.SetDefault("log.max_age", 30)
	viper.SetDefault("log.max_backups", 7)
	viper.SetDefault("log.compress", false)

	viper.SetDefault("redis.url", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("dingtalk.webhook_url", "")
	viper.SetDefault("dingtalk.secret", "")

	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", 3306)
	viper.SetDefault("database.mysql.max_idle_conns", 5)
	viper.SetDefault("database.mysql.max_open_conns", 20)

	viper.SetDefault("feed.symbols", []string{"BTC-USDT"})
	viper.SetDefault("feed.interval", "15m")
	viper.SetDefault("feed.lookback", 120)
	viper.SetDefault("feed.ws_enabled", false)
	viper.SetDefault("feed.ws_endpoint", "wss://ws.okx.com:8443/ws/v5/public")
	viper.SetDefault("feed.reconnect_interval", 5*time.Second)
	viper.SetDefault("feed.ping_interval", 20*time.Second)
	viper.SetDefault("feed.max_reconnect_attempts", 10)

	viper.SetDefault("network.proxy", "")
	viper.SetDefault("network.timeout", 30*time.Second)

	viper.SetDefault("watcher.poll_interval", 30*time.Second)
	viper.SetDefault("watcher.entry_window", 4*time.Hour)
	viper.SetDefault("watcher.stale_threshold", 72*time.Hour)
	viper.SetDefault("watcher.health_timeout", 5*time.Minute)

	viper.SetDefault("structure.sensitivity", 3)
	viper.SetDefault("structure.min_window", 30)
	viper.SetDefault("structure.fakeout_bars", 3)
	viper.SetDefault("structure.dominance_window", 20)
	viper.SetDefault("structure.min_evidence", 0.3)

	viper.SetDefault("release.threshold", 0.65)
	viper.SetDefault("release.overlap_start", 12)
	viper.SetDefault("release.overlap_end", 16)
	viper.SetDefault("release.rollover_start", 21)
	viper.SetDefault("release.rollover_end", 23)
}
