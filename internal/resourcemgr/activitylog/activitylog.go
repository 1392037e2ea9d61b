// Package activitylog is the resource manager's optional durable journal
// (SPEC_FULL.md §11): a small sqlite-backed audit trail of lifecycle events
// (configure, flush, reset, reclaim, close) an embedder can query after the
// fact, separate from the live in-memory view resourcemgr.Manager.Instances
// already exposes. Nothing in the codec core depends on this package; the
// manager calls it the same way the teacher's job scheduler writes a
// completed job's outcome to its repository after the fact.
package activitylog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Action classifies one recorded lifecycle event.
type Action string

const (
	ActionRegistered  Action = "registered"
	ActionConfigured  Action = "configured"
	ActionFlushed     Action = "flushed"
	ActionReset       Action = "reset"
	ActionReclaimed   Action = "reclaimed"
	ActionClosed      Action = "closed"
	ActionBackendFail Action = "backend_failed"
)

// Event is one row of the activity journal.
type Event struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	InstanceID string `gorm:"index"`
	GroupID    string `gorm:"index"`
	Kind       string
	Action     Action `gorm:"index"`
	Detail     string
}

// Journal wraps a sqlite-backed gorm.DB scoped to the activity log table.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (creating if absent) a sqlite database at dsn and migrates the
// Event table into it. dsn is a plain filesystem path, or ":memory:" for a
// private in-process database (tests).
func Open(dsn string, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	if dsn == "" {
		dsn = "activitylog.sqlite"
	}

	pragmaDSN := dsn
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		pragmaDSN += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := gorm.Open(sqlite.Open(pragmaDSN), &gorm.Config{
		Logger:                 newGormLogger(log),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("activitylog: open: %w", err)
	}

	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("activitylog: migrate: %w", err)
	}

	return &Journal{db: db, logger: log}, nil
}

// Record appends one lifecycle event. Failures are logged, not returned to
// the caller: a journal write failure must never block a reclaim sweep or a
// state transition.
func (j *Journal) Record(ctx context.Context, instanceID, groupID, kind string, action Action, detail string) {
	event := Event{InstanceID: instanceID, GroupID: groupID, Kind: kind, Action: action, Detail: detail}
	if err := j.db.WithContext(ctx).Create(&event).Error; err != nil {
		j.logger.Warn("activitylog: failed to record event",
			slog.String("instance_id", instanceID), slog.String("action", string(action)),
			slog.String("error", err.Error()))
	}
}

// Recent returns the most recent events, newest first, capped at limit.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []Event
	err := j.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("activitylog: query recent: %w", err)
	}
	return events, nil
}

// ForInstance returns every recorded event for one instance, oldest first.
func (j *Journal) ForInstance(ctx context.Context, instanceID string) ([]Event, error) {
	var events []Event
	err := j.db.WithContext(ctx).Where("instance_id = ?", instanceID).Order("id asc").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("activitylog: query instance: %w", err)
	}
	return events, nil
}

// Close releases the underlying sql.DB connection.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogGormLogger adapts gorm's logger.Interface onto slog, trimmed from the
// teacher's internal/database logger down to the handful of fields a small
// journal table needs (no slow-query/connection-pool instrumentation).
type slogGormLogger struct {
	logger *slog.Logger
	level  logger.LogLevel
}

func newGormLogger(log *slog.Logger) *slogGormLogger {
	return &slogGormLogger{logger: log, level: logger.Warn}
}

func (l *slogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &slogGormLogger{logger: l.logger, level: level}
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	if err != nil && l.level >= logger.Error {
		sqlStr, rows := fc()
		l.logger.ErrorContext(ctx, "activitylog query error",
			slog.String("sql", sqlStr), slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed), slog.String("error", err.Error()))
		return
	}
	if l.level >= logger.Info && l.logger.Enabled(ctx, slog.LevelDebug) {
		sqlStr, rows := fc()
		l.logger.DebugContext(ctx, "activitylog query",
			slog.String("sql", sqlStr), slog.Int64("rows", rows), slog.Duration("elapsed", elapsed))
	}
}
