package flipflop

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore 将防反手状态持久化到 SQLite，重启后冷却期仍然有效。
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore 打开（或创建）path 处的 SQLite 文件。
func NewSQLStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("flip-flop store path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS flipflop_state (
		account TEXT NOT NULL,
		symbol TEXT NOT NULL,
		last_trade_at INTEGER NOT NULL,
		last_direction TEXT,
		reversals_json TEXT,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (account, symbol)
	)`)
	return err
}

func (s *SQLStore) Load(ctx context.Context, account string) (map[string]State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, last_trade_at, last_direction, reversals_json FROM flipflop_state WHERE account = ?`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]State)
	for rows.Next() {
		var (
			sym, dir string
			lastMs   int64
			revRaw   sql.NullString
		)
		if err := rows.Scan(&sym, &lastMs, &dir, &revRaw); err != nil {
			return nil, err
		}
		st := State{Symbol: sym, LastDirection: Direction(dir)}
		if lastMs > 0 {
			st.LastTradeAt = time.UnixMilli(lastMs).UTC()
		}
		if revRaw.Valid && revRaw.String != "" {
			var ms []int64
			if err := json.Unmarshal([]byte(revRaw.String), &ms); err != nil {
				return nil, fmt.Errorf("decode reversals for %s: %w", sym, err)
			}
			for _, v := range ms {
				st.Reversals = append(st.Reversals, time.UnixMilli(v).UTC())
			}
		}
		out[sym] = st
	}
	return out, rows.Err()
}

func (s *SQLStore) Save(ctx context.Context, account string, st State) error {
	ms := make([]int64, len(st.Reversals))
	for i, r := range st.Reversals {
		ms[i] = r.UnixMilli()
	}
	revRaw, err := json.Marshal(ms)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO flipflop_state (account, symbol, last_trade_at, last_direction, reversals_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, symbol) DO UPDATE SET
			last_trade_at = excluded.last_trade_at,
			last_direction = excluded.last_direction,
			reversals_json = excluded.reversals_json,
			updated_at = excluded.updated_at`,
		account, st.Symbol, st.LastTradeAt.UnixMilli(), string(st.LastDirection), string(revRaw), time.Now().UnixMilli())
	return err
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
