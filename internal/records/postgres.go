package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// BattleRecord is one finished battle row.
type BattleRecord struct {
	ID            uint   `gorm:"primaryKey"`
	SessionID     string `gorm:"index"`
	WinnerAddress string `gorm:"index"`
	WinnerName    string
	LoserAddress  string `gorm:"index"`
	LoserName     string
	Forfeit       bool
	Turns         int
	TotalDamage   int
	ElementsUsed  string
	DurationMS    int64
	EndedAt       time.Time
}

// Postgres writes finished battles through gorm.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects and migrates the battle record table.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&BattleRecord{}); err != nil {
		return nil, fmt.Errorf("migrate battle records: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Record(ctx context.Context, o Outcome) error {
	rec := BattleRecord{
		SessionID:     o.SessionID,
		WinnerAddress: o.WinnerAddress,
		WinnerName:    o.WinnerName,
		LoserAddress:  o.LoserAddress,
		LoserName:     o.LoserName,
		Forfeit:       o.Forfeit,
		Turns:         o.Turns,
		TotalDamage:   o.TotalDamage,
		ElementsUsed:  strings.Join(o.ElementsUsed, ","),
		DurationMS:    o.Duration.Milliseconds(),
		EndedAt:       o.EndedAt,
	}
	if err := p.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert battle record: %w", err)
	}
	return nil
}
