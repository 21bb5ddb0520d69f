package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// GormKV 用一张 (tbl, key) 复合主键的表模拟按逻辑表划分的 KV。
type GormKV struct {
	db *gorm.DB
}

type kvEntry struct {
	Tbl       string    `gorm:"primaryKey;size:64"`
	Key       string    `gorm:"column:kv_key;primaryKey;size:255"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (kvEntry) TableName() string { return "subpool_kv" }

func NewGormKV(ctx context.Context, driver, dsn string) (*GormKV, error) {
	if dsn == "" {
		return nil, errors.New("storage dsn is empty")
	}

	var dialector gorm.Dialector
	switch driver {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("migrate kv table: %w", err)
	}
	return &GormKV{db: db}, nil
}

func (g *GormKV) Get(ctx context.Context, table, key string) (string, error) {
	var row kvEntry
	err := g.db.WithContext(ctx).Where("tbl = ? AND kv_key = ?", table, key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

func (g *GormKV) Put(ctx context.Context, table, key, value string) error {
	row := kvEntry{Tbl: table, Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tbl"}, {Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (g *GormKV) Delete(ctx context.Context, table, key string) error {
	return g.db.WithContext(ctx).Where("tbl = ? AND kv_key = ?", table, key).Delete(&kvEntry{}).Error
}

func (g *GormKV) Exists(ctx context.Context, table, key string) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&kvEntry{}).Where("tbl = ? AND kv_key = ?", table, key).Count(&count).Error
	return count > 0, err
}

func (g *GormKV) Values(ctx context.Context, table string) ([]string, error) {
	var values []string
	err := g.db.WithContext(ctx).Model(&kvEntry{}).Where("tbl = ?", table).Order("kv_key").Pluck("value", &values).Error
	return values, err
}

func (g *GormKV) Items(ctx context.Context, table string) (map[string]string, error) {
	var rows []kvEntry
	if err := g.db.WithContext(ctx).Where("tbl = ?", table).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (g *GormKV) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return nil
	}
	return sqlDB.Close()
}
