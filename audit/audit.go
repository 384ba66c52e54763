// Package audit 把每次预测请求写入 SQLite，用于离线核对和问题排查。
package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Entry 是一条审计记录
type Entry struct {
	ID        int64
	RequestID string
	// Record 原始请求体
	Record map[string]any
	// Prediction 失败时为 nil
	Prediction *float64
	Status     string
	Code       string
	Message    string
	Version    string
	Latency    time.Duration
	Cached     bool
	CreatedAt  time.Time
}

// Log 是基于 SQLite 的审计日志，可并发写入
type Log struct {
	db     *sql.DB
	insert *sql.Stmt
}

// Open 打开（必要时创建）审计库，dsn 为 go-sqlite3 的数据源，例如 "audit.db" 或 "file::memory:?cache=shared"
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", dsn, err)
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	insert, err := db.Prepare(`INSERT INTO predictions
        (request_id, record, prediction, status, code, message, version, latency_us, cached, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: prepare insert: %w", err)
	}
	return &Log{db: db, insert: insert}, nil
}

// migrateUp 执行内嵌的 schema 迁移，已是最新版本时不做任何事
func migrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	// 不调用 m.Close()，它会关闭底层 db
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("audit: migrate up: %w", err)
	}
	return nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("audit: migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("audit: sqlite3 migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("audit: migrate instance: %w", err)
	}
	return m, nil
}

// SchemaVersion 返回当前 schema 版本和 dirty 标记
func (l *Log) SchemaVersion() (uint, bool, error) {
	m, err := newMigrate(l.db)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Record 写入一条记录
func (l *Log) Record(ctx context.Context, e Entry) error {
	record, err := json.Marshal(e.Record)
	if err != nil {
		return fmt.Errorf("audit: encode record: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var pred sql.NullFloat64
	if e.Prediction != nil {
		pred = sql.NullFloat64{Float64: *e.Prediction, Valid: true}
	}
	_, err = l.insert.ExecContext(ctx,
		e.RequestID, string(record), pred, e.Status, e.Code, e.Message, e.Version,
		e.Latency.Microseconds(), e.Cached, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Recent 按写入倒序返回最近 limit 条记录
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, request_id, record, prediction, status, code, message,
        version, latency_us, cached, created_at FROM predictions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			record  string
			pred    sql.NullFloat64
			latency int64
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &record, &pred, &e.Status, &e.Code, &e.Message,
			&e.Version, &latency, &e.Cached, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(record), &e.Record); err != nil {
			return nil, fmt.Errorf("audit: decode record %d: %w", e.ID, err)
		}
		if pred.Valid {
			p := pred.Float64
			e.Prediction = &p
		}
		e.Latency = time.Duration(latency) * time.Microsecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count 返回指定状态的记录数，status 为空时返回总数
func (l *Log) Count(ctx context.Context, status string) (int64, error) {
	var n int64
	var err error
	if status == "" {
		err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&n)
	} else {
		err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions WHERE status = ?`, status).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("audit: count: %w", err)
	}
	return n, nil
}

// Close 关闭数据库
func (l *Log) Close() error {
	l.insert.Close()
	return l.db.Close()
}
