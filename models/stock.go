package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Bar periods stored in stock_bars / stock_indicators.
const (
	PeriodDaily  = "daily"
	PeriodWeekly = "weekly"
)

// Symbol represents one listed equity in the screening universe
type Symbol struct {
	Code      string    `gorm:"primaryKey;size:6" json:"code"`
	Name      string    `gorm:"not null" json:"name"`
	Exchange  string    `gorm:"size:2;not null" json:"exchange"` // SH, SZ, BJ
	Status    string    `gorm:"default:active" json:"status"`    // active, delisted, suspended
	UpdatedAt time.Time `json:"updated_at"`
}

func (Symbol) TableName() string { return "stock_basic" }

// Bar represents one trading session for one symbol.
// Rows are immutable once stored; corrections replace the row for
// (code, trade_date, period), never mutate it mid-computation.
type Bar struct {
	Code         string          `gorm:"primaryKey;size:6" json:"code"`
	TradeDate    time.Time       `gorm:"primaryKey;type:date" json:"trade_date"`
	Period       string          `gorm:"primaryKey;size:8;default:daily" json:"period"`
	Open         decimal.Decimal `gorm:"type:decimal(18,4)" json:"open"`
	High         decimal.Decimal `gorm:"type:decimal(18,4)" json:"high"`
	Low          decimal.Decimal `gorm:"type:decimal(18,4)" json:"low"`
	Close        decimal.Decimal `gorm:"type:decimal(18,4)" json:"close"`
	Volume       int64           `json:"volume"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	TurnoverRate decimal.Decimal `gorm:"type:decimal(10,4)" json:"turnover_rate"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (Bar) TableName() string { return "stock_bars" }

// IndicatorRow caches derived indicator values for one (symbol, trade date).
// Nil means "not computable at that bar" (e.g. the bull/bear line before 114 bars).
type IndicatorRow struct {
	Code           string    `gorm:"primaryKey;size:6" json:"code"`
	TradeDate      time.Time `gorm:"primaryKey;type:date" json:"trade_date"`
	Period         string    `gorm:"primaryKey;size:8;default:daily" json:"period"`
	MacdDif        *float64  `json:"macd_dif"`
	MacdDea        *float64  `json:"macd_dea"`
	MacdHist       *float64  `json:"macd_hist"`
	KdjK           *float64  `json:"kdj_k"`
	KdjD           *float64  `json:"kdj_d"`
	KdjJ           *float64  `json:"kdj_j"`
	ShortTrendLine *float64  `json:"short_trend_line"`
	BullBearLine   *float64  `json:"bull_bear_line"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (IndicatorRow) TableName() string { return "stock_indicators" }

// PickRow is one selected symbol of one screening run.
// The whole (rule_name, trade_date) set is replaced atomically per run.
type PickRow struct {
	RuleName  string    `gorm:"primaryKey" json:"rule_name"`
	TradeDate time.Time `gorm:"primaryKey;type:date" json:"trade_date"`
	Code      string    `gorm:"primaryKey;size:6;index" json:"code"`
	Name      string    `gorm:"not null" json:"name"`
	Exchange  string    `gorm:"size:2;not null" json:"exchange"`
	Metrics   []byte    `gorm:"type:jsonb" json:"metrics"`
	CreatedAt time.Time `json:"created_at"`
}

func (PickRow) TableName() string { return "stock_pick_results" }

// MigrateStockModels runs database migrations for screening models
func MigrateStockModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Symbol{},
		&Bar{},
		&IndicatorRow{},
		&PickRow{},
	)
}
