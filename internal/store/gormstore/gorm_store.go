package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("gorm store: record not found")

// CycleStatus 描述一轮决策的最终结果。
type CycleStatus string

const (
	CycleOK      CycleStatus = "ok"
	CycleAllHold CycleStatus = "all-hold"
	CycleAborted CycleStatus = "aborted"
	CycleStale   CycleStatus = "stale"
)

// CycleRecord 是一轮决策的完整审计记录。JSON 字段由调用方序列化。
type CycleRecord struct {
	TraceID        string          `json:"trace_id"`
	Account        string          `json:"account"`
	Generation     uint64          `json:"generation"`
	Template       string          `json:"template"`
	Status         CycleStatus     `json:"status"`
	Provider       string          `json:"provider,omitempty"`
	Model          string          `json:"model,omitempty"`
	Source         string          `json:"source,omitempty"`
	Prompt         string          `json:"prompt,omitempty"`
	RawResponse    string          `json:"raw_response,omitempty"`
	NormalizedJSON string          `json:"normalized_json,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Regime         json.RawMessage `json:"regime,omitempty"`
	Decisions      json.RawMessage `json:"decisions,omitempty"`
	Diagnostics    json.RawMessage `json:"diagnostics,omitempty"`
	Error          string          `json:"error,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// ExecutionRecord 是执行引擎回报的一次成交确认。
type ExecutionRecord struct {
	Account   string    `json:"account"`
	TraceID   string    `json:"trace_id,omitempty"`
	Symbol    string    `json:"symbol"`
	Direction string    `json:"direction"`
	Operation string    `json:"operation,omitempty"`
	FilledAt  time.Time `json:"filled_at"`
}

// CycleFilter 用于列表查询，零值表示不过滤。
type CycleFilter struct {
	Account string
	Status  CycleStatus
	Before  time.Time
	Limit   int
}

// Store 是基于 Gorm + SQLite 的审计日志。
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 决策日志路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&cycleModel{}, &executionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little read parallelism for the HTTP API, low lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveCycle 按 trace_id 写入或覆盖一轮记录。
func (s *Store) SaveCycle(ctx context.Context, rec CycleRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if strings.TrimSpace(rec.TraceID) == "" {
		return fmt.Errorf("trace_id 必填")
	}
	m := newCycleModel(rec)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trace_id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (s *Store) GetCycle(ctx context.Context, traceID string) (CycleRecord, error) {
	if s == nil || s.db == nil {
		return CycleRecord{}, fmt.Errorf("gorm store 未初始化")
	}
	var m cycleModel
	err := s.db.WithContext(ctx).Where("trace_id = ?", strings.TrimSpace(traceID)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CycleRecord{}, ErrNotFound
	}
	if err != nil {
		return CycleRecord{}, err
	}
	return m.record(), nil
}

// ListCycles 按开始时间倒序返回。
func (s *Store) ListCycles(ctx context.Context, f CycleFilter) ([]CycleRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if f.Account != "" {
		q = q.Where("account = ?", f.Account)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if !f.Before.IsZero() {
		q = q.Where("started_at < ?", f.Before.UnixMilli())
	}
	var models []cycleModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]CycleRecord, 0, len(models))
	for _, m := range models {
		out = append(out, m.record())
	}
	return out, nil
}

// PruneCycles 删除 cutoff 之前开始的记录，返回删除条数。
func (s *Store) PruneCycles(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store 未初始化")
	}
	res := s.db.WithContext(ctx).Where("started_at < ?", cutoff.UnixMilli()).Delete(&cycleModel{})
	return res.RowsAffected, res.Error
}

func (s *Store) SaveExecution(ctx context.Context, rec ExecutionRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	m := executionModel{
		Account:   rec.Account,
		TraceID:   rec.TraceID,
		Symbol:    strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Direction: rec.Direction,
		Operation: rec.Operation,
		FilledAt:  rec.FilledAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// ListExecutions 按成交时间倒序返回某账户的确认记录。
func (s *Store) ListExecutions(ctx context.Context, account string, limit int) ([]ExecutionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 {
		limit = 100
	}
	var models []executionModel
	q := s.db.WithContext(ctx).Order("filled_at DESC").Limit(limit)
	if account != "" {
		q = q.Where("account = ?", account)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]ExecutionRecord, 0, len(models))
	for _, m := range models {
		out = append(out, ExecutionRecord{
			Account:   m.Account,
			TraceID:   m.TraceID,
			Symbol:    m.Symbol,
			Direction: m.Direction,
			Operation: m.Operation,
			FilledAt:  millisToTime(m.FilledAt),
		})
	}
	return out, nil
}

// --------------------------- Models ------------------------------

type cycleModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	TraceID        string         `gorm:"column:trace_id;uniqueIndex"`
	Account        string         `gorm:"column:account;index"`
	Generation     uint64         `gorm:"column:generation"`
	Template       string         `gorm:"column:template"`
	Status         string         `gorm:"column:status;index"`
	Provider       string         `gorm:"column:provider"`
	Model          string         `gorm:"column:model"`
	Source         string         `gorm:"column:source"`
	Prompt         string         `gorm:"column:prompt"`
	RawResponse    string         `gorm:"column:raw_response"`
	NormalizedJSON string         `gorm:"column:normalized_json"`
	Warnings       datatypes.JSON `gorm:"column:warnings"`
	Regime         datatypes.JSON `gorm:"column:regime"`
	Decisions      datatypes.JSON `gorm:"column:decisions"`
	Diagnostics    datatypes.JSON `gorm:"column:diagnostics"`
	Error          string         `gorm:"column:error"`
	StartedAt      int64          `gorm:"column:started_at;index"`
	FinishedAt     int64          `gorm:"column:finished_at"`
}

func (cycleModel) TableName() string { return "decision_cycles" }

type executionModel struct {
	ID        int64  `gorm:"column:id;primaryKey"`
	Account   string `gorm:"column:account;index"`
	TraceID   string `gorm:"column:trace_id"`
	Symbol    string `gorm:"column:symbol"`
	Direction string `gorm:"column:direction"`
	Operation string `gorm:"column:operation"`
	FilledAt  int64  `gorm:"column:filled_at;index"`
}

func (executionModel) TableName() string { return "execution_confirmations" }

func newCycleModel(rec CycleRecord) cycleModel {
	warnings, _ := json.Marshal(rec.Warnings)
	return cycleModel{
		TraceID:        strings.TrimSpace(rec.TraceID),
		Account:        rec.Account,
		Generation:     rec.Generation,
		Template:       rec.Template,
		Status:         string(rec.Status),
		Provider:       rec.Provider,
		Model:          rec.Model,
		Source:         rec.Source,
		Prompt:         rec.Prompt,
		RawResponse:    rec.RawResponse,
		NormalizedJSON: rec.NormalizedJSON,
		Warnings:       datatypes.JSON(warnings),
		Regime:         jsonOrNull(rec.Regime),
		Decisions:      jsonOrNull(rec.Decisions),
		Diagnostics:    jsonOrNull(rec.Diagnostics),
		Error:          rec.Error,
		StartedAt:      rec.StartedAt.UnixMilli(),
		FinishedAt:     rec.FinishedAt.UnixMilli(),
	}
}

func (m cycleModel) record() CycleRecord {
	var warnings []string
	if len(m.Warnings) > 0 {
		_ = json.Unmarshal(m.Warnings, &warnings)
	}
	return CycleRecord{
		TraceID:        m.TraceID,
		Account:        m.Account,
		Generation:     m.Generation,
		Template:       m.Template,
		Status:         CycleStatus(m.Status),
		Provider:       m.Provider,
		Model:          m.Model,
		Source:         m.Source,
		Prompt:         m.Prompt,
		RawResponse:    m.RawResponse,
		NormalizedJSON: m.NormalizedJSON,
		Warnings:       warnings,
		Regime:         rawOrNil(m.Regime),
		Decisions:      rawOrNil(m.Decisions),
		Diagnostics:    rawOrNil(m.Diagnostics),
		Error:          m.Error,
		StartedAt:      millisToTime(m.StartedAt),
		FinishedAt:     millisToTime(m.FinishedAt),
	}
}

func jsonOrNull(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(raw)
}

func rawOrNil(data datatypes.JSON) json.RawMessage {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.RawMessage(data)
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
