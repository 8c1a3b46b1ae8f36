// Package sink 把爬取到的记录幂等地写入数据库，自然键为 (name, tag)。
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"crawlpool/internal/crawl"
	"crawlpool/internal/shared/logger"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Outcome 与爬取循环共用同一组结果值。
type Outcome = crawl.Outcome

// CardRow 是一条已入库的记录。
type CardRow struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"not null;uniqueIndex:idx_natural_key"`
	Tag       string    `gorm:"not null;default:'';uniqueIndex:idx_natural_key"`
	Fields    string    `gorm:"type:text"` // JSON 对象
	SourceURL string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// DBSink 通过 gorm 写入 postgres 或 sqlite。
type DBSink struct {
	db    *gorm.DB
	table string
}

// Open 根据 driver 打开数据库并迁移表结构。
func Open(driver, dsn, table string) (*DBSink, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("sink: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sink: open connection: %w", err)
	}
	return New(db, table)
}

// New 在已有连接上创建 DBSink。
func New(db *gorm.DB, table string) (*DBSink, error) {
	if table == "" {
		table = "cards"
	}
	if err := db.Table(table).AutoMigrate(&CardRow{}); err != nil {
		return nil, fmt.Errorf("sink: auto migrate: %w", err)
	}
	l := logger.WithComponent("Sink/DB")
	l.Info().Str("dialect", db.Dialector.Name()).Str("table", table).Msg("Sink ready.")
	return &DBSink{db: db, table: table}, nil
}

// Upsert 执行 INSERT ... ON CONFLICT (name, tag) DO NOTHING。
// 没有插入任何行即为 Duplicate。
func (s *DBSink) Upsert(ctx context.Context, r crawl.Record) (Outcome, error) {
	if r.Name == "" {
		return crawl.Failed, fmt.Errorf("sink: record has no name")
	}

	row := CardRow{Name: r.Name, Tag: r.Tag, SourceURL: r.SourceURL}
	if len(r.Fields) > 0 {
		data, err := json.Marshal(r.Fields)
		if err != nil {
			return crawl.Failed, fmt.Errorf("sink: encode fields: %w", err)
		}
		row.Fields = string(data)
	}

	res := s.db.WithContext(ctx).
		Table(s.table).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}, {Name: "tag"}},
			DoNothing: true,
		}).
		Create(&row)
	if res.Error != nil {
		return crawl.Failed, fmt.Errorf("sink: upsert %q/%q: %w", r.Name, r.Tag, res.Error)
	}
	if res.RowsAffected == 0 {
		return crawl.Duplicate, nil
	}
	return crawl.Inserted, nil
}

// Count 返回表中的行数。
func (s *DBSink) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Table(s.table).Count(&n).Error
	return n, err
}

func (s *DBSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Collector 包装一个 Sink，记住所有转发过的记录，供运行结束时导出。
type Collector struct {
	next crawl.Sink

	mu      sync.Mutex
	records []crawl.Record
}

func NewCollector(next crawl.Sink) *Collector {
	return &Collector{next: next}
}

func (c *Collector) Upsert(ctx context.Context, r crawl.Record) (Outcome, error) {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
	return c.next.Upsert(ctx, r)
}

// Records 返回收集到的记录副本。
func (c *Collector) Records() []crawl.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]crawl.Record(nil), c.records...)
}

// Discard 是一个总是成功的 Sink，用于 dry run。
type Discard struct{}

func (Discard) Upsert(ctx context.Context, r crawl.Record) (Outcome, error) {
	return crawl.Inserted, nil
}
