// 包 store 提供运行历史的存储实现（SQLite），记录每轮运行及各社区的抓取结果。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"meetups-data-fetcher/internal/model"
)

// SQLite 封装 *sql.DB，基于 modernc.org/sqlite（纯 Go 实现）。
type SQLite struct {
	db *sql.DB
}

// Run 为一轮运行的历史记录。
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
	Results    []RunResult
}

// RunResult 为单个社区在某轮中的结果。
type RunResult struct {
	Slug        string
	Success     bool
	Error       string
	EventsCount sql.NullInt64
	DurationMS  int64
}

// OpenSQLite 打开 SQLite 数据库并执行自动迁移。
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// migrate 执行建表语句，保持幂等。
func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            started_at TIMESTAMP,
            finished_at TIMESTAMP,
            succeeded INTEGER,
            failed INTEGER
        );`,
		`CREATE TABLE IF NOT EXISTS results (
            run_id TEXT REFERENCES runs(id),
            slug TEXT,
            success INTEGER,
            error TEXT,
            events_count INTEGER,
            duration_ms INTEGER,
            PRIMARY KEY (run_id, slug)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_results_slug ON results(slug);`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec migrate: %w", err)
		}
	}
	return nil
}

// RecordRun 在一个事务中写入一轮运行及其全部结果，返回生成的运行 ID。
func (s *SQLite) RecordRun(ctx context.Context, sum model.Summary, results []model.Result) (string, error) {
	id := uuid.NewString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(id, started_at, finished_at, succeeded, failed) VALUES(?,?,?,?,?)`,
		id, sum.StartedAt.UTC(), sum.FinishedAt.UTC(), sum.Succeeded, sum.Failed); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	for _, r := range results {
		var count sql.NullInt64
		if r.EventsCount != nil {
			count = sql.NullInt64{Int64: int64(*r.EventsCount), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO results(run_id, slug, success, error, events_count, duration_ms) VALUES(?,?,?,?,?,?)`,
			id, r.Slug, r.Success, r.Error, count, r.Duration.Milliseconds()); err != nil {
			return "", fmt.Errorf("insert result %s: %w", r.Slug, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// ListRuns 返回最近的 limit 轮运行（新→旧），含各社区结果。
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, started_at, finished_at, succeeded, failed FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Succeeded, &r.Failed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan runs: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	rows.Close()
	// 单连接下先关闭外层游标再查询子表
	for i := range out {
		res, err := s.results(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Results = res
	}
	return out, nil
}

func (s *SQLite) results(ctx context.Context, runID string) ([]RunResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, success, COALESCE(error,''), events_count, duration_ms FROM results WHERE run_id = ? ORDER BY slug`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()
	var out []RunResult
	for rows.Next() {
		var r RunResult
		if err := rows.Scan(&r.Slug, &r.Success, &r.Error, &r.EventsCount, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("scan results: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// Prune 只保留最近 keep 轮运行。
func (s *SQLite) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	const oldRuns = `SELECT id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?`
	if _, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE run_id IN (`+oldRuns+`)`, keep); err != nil {
		return fmt.Errorf("prune results: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id IN (`+oldRuns+`)`, keep); err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}
