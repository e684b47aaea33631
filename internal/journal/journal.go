package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Hara602/dirSentry/internal/model"
)

// DefaultPath 监控端历史记录库
const DefaultPath = "/var/lib/dirsentry/journal.db"

// Journal 被拦截记录的本地历史
type Journal struct {
	db *sql.DB
}

// Open 打开 (必要时创建) 数据库并初始化表结构
func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// 单写者, 避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS blocked_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL,
		pid INTEGER NOT NULL,
		process_image TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL,
		truncated INTEGER NOT NULL DEFAULT 0,
		received_at INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_blocked_attempts_received ON blocked_attempts(received_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record 写入一条记录
func (j *Journal) Record(ctx context.Context, a model.BlockedAttempt) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO blocked_attempts(message_id, pid, process_image, file_path, truncated, received_at) VALUES (?, ?, ?, ?, ?, ?)",
		int64(a.MessageID), int64(a.PID), a.ProcessImage, a.FilePath, a.Truncated, a.ReceivedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert blocked attempt: %w", err)
	}
	return nil
}

// Recent 按时间倒序返回最近 limit 条
func (j *Journal) Recent(ctx context.Context, limit int) ([]model.BlockedAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		"SELECT message_id, pid, process_image, file_path, truncated, received_at FROM blocked_attempts ORDER BY received_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query blocked attempts: %w", err)
	}
	defer rows.Close()

	var out []model.BlockedAttempt
	for rows.Next() {
		var (
			a          model.BlockedAttempt
			messageID  int64
			pid        int64
			receivedAt int64
		)
		if err := rows.Scan(&messageID, &pid, &a.ProcessImage, &a.FilePath, &a.Truncated, &receivedAt); err != nil {
			return nil, err
		}
		a.MessageID = uint64(messageID)
		a.PID = uint32(pid)
		a.ReceivedAt = time.Unix(0, receivedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
