package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"signal-sentry/pkg/types"
)

// Manager MySQL信号存储
type Manager struct {
	db     *gorm.DB
	config types.MySQLConfig
}

// Signal 数据库信号模型
type Signal struct {
	ID                int64      `gorm:"primaryKey" json:"id"`
	Symbol            string     `gorm:"type:varchar(20);not null;index:idx_symbol_state" json:"symbol"`
	Direction         string     `gorm:"type:enum('BUY','SELL');not null" json:"direction"`
	EntryPrice        float64    `gorm:"type:decimal(20,8);not null" json:"entry_price"`
	TakeProfit        float64    `gorm:"type:decimal(20,8);not null" json:"take_profit"`
	StopLoss          float64    `gorm:"type:decimal(20,8);not null" json:"stop_loss"`
	RewardRisk        float64    `gorm:"type:decimal(10,4);not null" json:"reward_risk"`
	RawConfidence     float64    `gorm:"type:decimal(5,4);not null" json:"raw_confidence"`
	ReleaseConfidence float64    `gorm:"type:decimal(5,4);default:0" json:"release_confidence"`
	State             string     `gorm:"type:varchar(20);not null;index:idx_symbol_state" json:"state"`
	Status            string     `gorm:"type:varchar(10);not null;index" json:"status"`
	Result            *string    `gorm:"type:varchar(10)" json:"result"`
	Released          bool       `gorm:"default:false" json:"released"`
	GeneratedAt       time.Time  `gorm:"not null" json:"generated_at"`
	EntryHitAt        *time.Time `json:"entry_hit_at"`
	ClosedAt          *time.Time `json:"closed_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ValidationEvent 审计事件模型：每次状态推进与触发K线的绑定记录
type ValidationEvent struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	SignalID   int64     `gorm:"not null;index" json:"signal_id"`
	FromState  string    `gorm:"type:varchar(20);not null" json:"from_state"`
	ToState    string    `gorm:"type:varchar(20);not null" json:"to_state"`
	Reason     string    `gorm:"type:varchar(10);not null" json:"reason"` // market / admin
	CandleTime time.Time `json:"candle_time"`
	Open       float64   `gorm:"type:decimal(20,8)" json:"open"`
	High       float64   `gorm:"type:decimal(20,8)" json:"high"`
	Low        float64   `gorm:"type:decimal(20,8)" json:"low"`
	Close      float64   `gorm:"type:decimal(20,8)" json:"close"`
	CreatedAt  time.Time `json:"created_at"`
}

// CandleRecord K线落地模型
type CandleRecord struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"type:varchar(20);not null;uniqueIndex:uk_symbol_time" json:"symbol"`
	Interval  string    `gorm:"type:varchar(10);not null;uniqueIndex:uk_symbol_time" json:"interval"`
	OpenTime  time.Time `gorm:"not null;uniqueIndex:uk_symbol_time" json:"open_time"`
	CloseTime time.Time `gorm:"not null" json:"close_time"`
	Open      float64   `gorm:"type:decimal(20,8);not null" json:"open"`
	High      float64   `gorm:"type:decimal(20,8);not null" json:"high"`
	Low       float64   `gorm:"type:decimal(20,8);not null" json:"low"`
	Close     float64   `gorm:"type:decimal(20,8);not null" json:"close"`
	Volume    float64   `gorm:"type:decimal(20,8);not null" json:"volume"`
	CreatedAt time.Time `json:"created_at"`
}

// DailyPerformance 每日结局统计模型
type DailyPerformance struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Symbol      string    `gorm:"type:varchar(20);not null;uniqueIndex:uk_symbol_date" json:"symbol"`
	Date        time.Time `gorm:"type:date;not null;uniqueIndex:uk_symbol_date" json:"date"`
	Wins        int       `gorm:"default:0" json:"wins"`
	Losses      int       `gorm:"default:0" json:"losses"`
	Expired     int       `gorm:"default:0" json:"expired"`
	CumulativeR float64   `gorm:"type:decimal(10,4);default:0" json:"cumulative_r"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewManager 创建MySQL存储
// 存储句柄由调用方显式构造并注入，不使用进程级单例
func NewManager(config types.MySQLConfig) (*Manager, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 生产环境使用Silent
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库实例失败: %v", err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	manager := &Manager{
		db:     db,
		config: config,
	}

	if err := manager.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %v", err)
	}

	zap.L().Info("✅ MySQL数据库连接成功",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("database", config.Database))

	return manager, nil
}

// AutoMigrate 自动迁移表结构
func (m *Manager) AutoMigrate() error {
	return m.db.AutoMigrate(
		&Signal{},
		&ValidationEvent{},
		&CandleRecord{},
		&DailyPerformance{},
	)
}

// CreateSignal 创建信号，不变式不成立直接拒绝，绝不静默修复
func (m *Manager) CreateSignal(ctx context.Context, signal *types.Signal) error {
	if err := signal.ValidateLevels(); err != nil {
		return err
	}

	if signal.State == "" {
		signal.State = types.StateCandidate
	}
	signal.Status = types.StatusFor(signal.State)

	dbSignal := toDBSignal(signal)
	if err := m.db.WithContext(ctx).Create(dbSignal).Error; err != nil {
		return fmt.Errorf("保存信号失败: %v", err)
	}
	signal.ID = dbSignal.ID
	return nil
}

// GetSignal 按ID读取信号
func (m *Manager) GetSignal(ctx context.Context, id int64) (*types.Signal, error) {
	var dbSignal Signal
	if err := m.db.WithContext(ctx).First(&dbSignal, id).Error; err != nil {
		return nil, err
	}
	return fromDBSignal(&dbSignal), nil
}

// ListOpenSignals 列出所有非终态信号
func (m *Manager) ListOpenSignals(ctx context.Context) ([]*types.Signal, error) {
	var dbSignals []Signal
	err := m.db.WithContext(ctx).
		Where("status = ?", string(types.StatusActive)).
		Order("generated_at ASC").
		Find(&dbSignals).Error
	if err != nil {
		return nil, err
	}

	signals := make([]*types.Signal, 0, len(dbSignals))
	for i := range dbSignals {
		signals = append(signals, fromDBSignal(&dbSignals[i]))
	}
	return signals, nil
}

// ApplyTransition 条件更新状态并在同一事务内写入证据K线
// 守卫失配时整个事务不产生任何写入，返回(false, nil)
func (m *Manager) ApplyTransition(ctx context.Context, t Transition) (bool, error) {
	if !t.Expected.CanTransitionTo(t.Next) {
		return false, fmt.Errorf("非法状态推进 %s -> %s", t.Expected, t.Next)
	}

	applied := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"state":  string(t.Next),
			"status": string(types.StatusFor(t.Next)),
		}
		if t.Next == types.StateEntryHit {
			updates["entry_hit_at"] = t.At
		}
		if t.Next.IsTerminal() {
			updates["closed_at"] = t.At
			if t.Result != "" {
				updates["result"] = string(t.Result)
			}
		}

		res := tx.Model(&Signal{}).
			Where("id = ? AND state = ?", t.SignalID, string(t.Expected)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 守卫失配：另一个tick已经推进过，保持幂等
			return nil
		}

		applied = true

		if t.Event != nil {
			event := &ValidationEvent{
				SignalID:   t.SignalID,
				FromState:  string(t.Event.FromState),
				ToState:    string(t.Event.ToState),
				Reason:     t.Event.Reason,
				CandleTime: t.Event.CandleTime,
				Open:       t.Event.Open,
				High:       t.Event.High,
				Low:        t.Event.Low,
				Close:      t.Event.Close,
				CreatedAt:  time.Now(),
			}
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}
		return nil
	})

	return applied, err
}

// ReleaseSignal 发布门槛判定通过，CANDIDATE推进到WAITING_FOR_ENTRY
func (m *Manager) ReleaseSignal(ctx context.Context, id int64, score float64) (bool, error) {
	res := m.db.WithContext(ctx).Model(&Signal{}).
		Where("id = ? AND state = ?", id, string(types.StateCandidate)).
		Updates(map[string]interface{}{
			"state":              string(types.StateWaitingForEntry),
			"status":             string(types.StatusActive),
			"released":           true,
			"release_confidence": score,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SaveCandles 批量落地K线数据
func (m *Manager) SaveCandles(ctx context.Context, candles []types.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	records := make([]CandleRecord, 0, len(candles))
	now := time.Now()
	for _, c := range candles {
		records = append(records, CandleRecord{
			Symbol:    c.Symbol,
			Interval:  c.Interval,
			OpenTime:  c.OpenTime,
			CloseTime: c.CloseTime,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			CreatedAt: now,
		})
	}

	// 分批插入避免单个事务过大
	batchSize := 100
	if err := m.db.WithContext(ctx).CreateInBatches(records, batchSize).Error; err != nil {
		return fmt.Errorf("批量插入K线数据失败: %v", err)
	}

	zap.L().Debug("✅ 批量保存K线数据完成",
		zap.Int("count", len(candles)),
		zap.String("first_symbol", candles[0].Symbol))

	return nil
}

// GetCandlesSince 读取某交易对自某时刻起的K线，按时间升序
func (m *Manager) GetCandlesSince(ctx context.Context, symbol, interval string, since time.Time) ([]types.Candle, error) {
	var records []CandleRecord
	err := m.db.WithContext(ctx).
		Where("symbol = ? AND `interval` = ? AND open_time >= ?", symbol, interval, since).
		Order("open_time ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	candles := make([]types.Candle, 0, len(records))
	for _, r := range records {
		candles = append(candles, types.Candle{
			Symbol:    r.Symbol,
			OpenTime:  r.OpenTime,
			CloseTime: r.CloseTime,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			Interval:  r.Interval,
		})
	}
	return candles, nil
}

// RecordOutcome 更新当日结局统计
func (m *Manager) RecordOutcome(ctx context.Context, symbol string, result types.Outcome, rMultiple float64) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var perf DailyPerformance
		err := tx.Where("symbol = ? AND date = ?", symbol, today).First(&perf).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			perf = DailyPerformance{Symbol: symbol, Date: today}
		} else if err != nil {
			return err
		}

		switch result {
		case types.OutcomeHitTP:
			perf.Wins++
		case types.OutcomeHitSL:
			perf.Losses++
		case types.OutcomeExpired:
			perf.Expired++
		}
		perf.CumulativeR += rMultiple

		if perf.ID == 0 {
			return tx.Create(&perf).Error
		}
		return tx.Model(&perf).Where("id = ?", perf.ID).Updates(map[string]interface{}{
			"wins":         perf.Wins,
			"losses":       perf.Losses,
			"expired":      perf.Expired,
			"cumulative_r": perf.CumulativeR,
		}).Error
	})
}

// GetValidationEvents 读取某信号的审计轨迹
func (m *Manager) GetValidationEvents(ctx context.Context, signalID int64) ([]ValidationEvent, error) {
	var events []ValidationEvent
	err := m.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}

// Close 关闭数据库连接
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接健康状态
func (m *Manager) Health() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func toDBSignal(s *types.Signal) *Signal {
	dbSignal := &Signal{
		ID:                s.ID,
		Symbol:            s.Symbol,
		Direction:         string(s.Direction),
		EntryPrice:        s.EntryPrice,
		TakeProfit:        s.TakeProfit,
		StopLoss:          s.StopLoss,
		RewardRisk:        s.RewardRisk,
		RawConfidence:     s.RawConfidence,
		ReleaseConfidence: s.ReleaseConfidence,
		State:             string(s.State),
		Status:            string(s.Status),
		Released:          s.Released,
		GeneratedAt:       s.GeneratedAt,
		EntryHitAt:        s.EntryHitAt,
		ClosedAt:          s.ClosedAt,
	}
	if s.Result != "" {
		result := string(s.Result)
		dbSignal.Result = &result
	}
	return dbSignal
}

func fromDBSignal(s *Signal) *types.Signal {
	signal := &types.Signal{
		ID:                s.ID,
		Symbol:            s.Symbol,
		Direction:         types.SignalDirection(s.Direction),
		EntryPrice:        s.EntryPrice,
		TakeProfit:        s.TakeProfit,
		StopLoss:          s.StopLoss,
		RewardRisk:        s.RewardRisk,
		RawConfidence:     s.RawConfidence,
		ReleaseConfidence: s.ReleaseConfidence,
		State:             types.SignalState(s.State),
		Status:            types.SignalStatus(s.Status),
		Released:          s.Released,
		GeneratedAt:       s.GeneratedAt,
		EntryHitAt:        s.EntryHitAt,
		ClosedAt:          s.ClosedAt,
	}
	if s.Result != nil {
		signal.Result = types.Outcome(*s.Result)
	}
	return signal
}
