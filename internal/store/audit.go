package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/fleetbot/core/logger"
	"github.com/m3rciful/fleetbot/internal/runner"
)

// Entry is one finished run in the audit log.
type Entry struct {
	ID         int64     `db:"id"`
	OperatorID int64     `db:"operator_id"`
	RunID      string    `db:"run_id"`
	Action     string    `db:"action"`
	Total      int       `db:"total"`
	Success    int       `db:"success"`
	Failed     int       `db:"failed"`
	Sent       int       `db:"sent"`
	Cancelled  bool      `db:"cancelled"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	CreatedAt  time.Time `db:"created_at"`
}

// EntryFromReport flattens a run report.
func EntryFromReport(operatorID int64, rep runner.Report) Entry {
	return Entry{
		OperatorID: operatorID,
		RunID:      rep.RunID,
		Action:     string(rep.Action),
		Total:      rep.Counters.Total,
		Success:    rep.Counters.Success,
		Failed:     rep.Counters.Failed,
		Sent:       rep.Counters.Sent,
		Cancelled:  rep.Cancelled,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
	}
}

// ActionLog records finished runs.
type ActionLog struct {
	db *sqlx.DB
}

// NewActionLog wraps db.
func NewActionLog(db *sqlx.DB) *ActionLog {
	return &ActionLog{db: db}
}

// Record appends the report of a finished run. Recording the same run twice
// keeps the first row.
func (l *ActionLog) Record(ctx context.Context, operatorID int64, rep runner.Report) error {
	e := EntryFromReport(operatorID, rep)
	_, err := l.db.NamedExecContext(ctx, `
		INSERT INTO action_log (operator_id, run_id, action, total, success, failed, sent, cancelled, started_at, finished_at)
		VALUES (:operator_id, :run_id, :action, :total, :success, :failed, :sent, :cancelled, :started_at, :finished_at)
		ON CONFLICT (run_id) DO NOTHING`, e)
	if err != nil {
		return fmt.Errorf("store: record run %s: %w", rep.RunID, err)
	}
	logger.Debug(ctx, component, "run.recorded",
		slog.String("run_id", rep.RunID),
		slog.Int64("operator_id", operatorID),
	)
	return nil
}

// Recent returns the operator's latest runs, newest first.
func (l *ActionLog) Recent(ctx context.Context, operatorID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []Entry
	err := l.db.SelectContext(ctx, &out, `
		SELECT id, operator_id, run_id, action, total, success, failed, sent, cancelled, started_at, finished_at, created_at
		FROM action_log WHERE operator_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, operatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent runs: %w", err)
	}
	return out, nil
}
