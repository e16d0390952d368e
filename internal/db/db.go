// Package db persists recorded PME price observations to Postgres.
//
// Persistence is optional: an empty database URL disables it and the
// coordinator writes report files only. One row is stored per recorded
// top-of-book observation, mirroring the report contents so sessions can
// be analyzed after the fact.
package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"imbalance-sentinel/internal/apperror"
)

// MarketData is one recorded top-of-book observation.
type MarketData struct {
	ID          int64               `gorm:"primaryKey;autoIncrement"`
	SessionKey  string              `gorm:"size:80;not null;index"`
	Ticker      string              `gorm:"size:50;not null;index"`
	StrikePrice decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	Timestamp   time.Time           `gorm:"not null;index"`
	YesAsk      decimal.Decimal     `gorm:"type:numeric(10,4)"`
	YesBid      decimal.Decimal     `gorm:"type:numeric(10,4)"`
	NoAsk       decimal.Decimal     `gorm:"type:numeric(10,4)"`
	NoBid       decimal.Decimal     `gorm:"type:numeric(10,4)"`
	Price       decimal.NullDecimal `gorm:"type:numeric(20,8)"`
}

// TableName keeps the historical table name.
func (MarketData) TableName() string { return "market_data" }

// DB wraps the gorm connection.
type DB struct {
	orm *gorm.DB
	log *slog.Logger
}

// Open connects and migrates the market_data table.
func Open(url string, log *slog.Logger) (*DB, error) {
	orm, err := gorm.Open(postgres.Open(url), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDatabase, "connect database")
	}
	if err := orm.AutoMigrate(&MarketData{}); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDatabase, "migrate market_data")
	}

	log.Info("✅ connected to database")
	return &DB{orm: orm, log: log.With("component", "db")}, nil
}

// Observation is the coordinator-facing row shape.
type Observation struct {
	SessionKey string
	Ticker     string
	Strike     *float64
	Timestamp  time.Time
	YesAsk     float64
	YesBid     float64
	NoAsk      float64
	NoBid      float64
	Price      *float64
}

// InsertObservations stores a session's recorded observations in one batch.
func (d *DB) InsertObservations(ctx context.Context, observations []Observation) error {
	if len(observations) == 0 {
		return nil
	}

	rows := make([]MarketData, len(observations))
	for i, o := range observations {
		rows[i] = MarketData{
			SessionKey:  o.SessionKey,
			Ticker:      o.Ticker,
			StrikePrice: nullDecimal(o.Strike),
			Timestamp:   o.Timestamp,
			YesAsk:      priceDecimal(o.YesAsk),
			YesBid:      priceDecimal(o.YesBid),
			NoAsk:       priceDecimal(o.NoAsk),
			NoBid:       priceDecimal(o.NoBid),
			Price:       nullDecimal(o.Price),
		}
	}

	if err := d.orm.WithContext(ctx).Create(&rows).Error; err != nil {
		return apperror.Wrap(err, apperror.CodeDatabase, "insert observations")
	}
	d.log.Debug("observations stored", "count", len(rows))
	return nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.orm.DB()
	if err != nil {
		return apperror.Wrap(err, apperror.CodeDatabase, "unwrap connection")
	}
	return sqlDB.Close()
}

func priceDecimal(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(4)
}

func nullDecimal(v *float64) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(*v), Valid: true}
}
