package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kernos-ai/kernos/internal/host"
)

// KernelSession is one row of kernel session history.
type KernelSession struct {
	ID        string
	Kernel    string
	Command   string
	PID       int
	ParentID  string
	Status    string
	Reason    string
	StartedAt string
	StoppedAt string
}

// Session statuses.
const (
	SessionStatusRunning = "running"
	SessionStatusStopped = "stopped"
)

// RecordSessionStarted implements host.Recorder.
func (s *Store) RecordSessionStarted(ctx context.Context, rec host.SessionRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO kernel_sessions (id, kernel, command, pid, parent_id, status, started_at)
            VALUES (?, ?, ?, ?, ?, ?, ?)
        `, rec.ID, rec.Kernel, rec.Command, rec.PID, nullableString(rec.ParentID),
			SessionStatusRunning, rec.Started.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("store: record session %s start: %w", rec.ID, err)
		}
		return nil
	})
}

// RecordSessionStopped implements host.Recorder.
func (s *Store) RecordSessionStopped(ctx context.Context, id, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE kernel_sessions
            SET status = ?, reason = ?, stopped_at = ?
            WHERE id = ?
        `, SessionStatusStopped, nullableString(reason), time.Now().UTC().Format(time.RFC3339), id)
		if err != nil {
			return fmt.Errorf("store: record session %s stop: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: record session %s stop: %w", id, err)
		}
		if affected == 0 {
			return NotFoundError{Entity: "kernel session", Key: id}
		}
		return nil
	})
}

// GetSession retrieves one session history row.
func (s *Store) GetSession(ctx context.Context, id string) (KernelSession, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, kernel, command, pid, parent_id, status, reason, started_at, stopped_at
        FROM kernel_sessions
        WHERE id = ?
    `, id)

	session, err := scanKernelSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return KernelSession{}, NotFoundError{Entity: "kernel session", Key: id}
		}
		return KernelSession{}, fmt.Errorf("store: get session %q: %w", id, err)
	}
	return session, nil
}

// ListSessions returns session history, newest first. A non-empty status
// filters to that lifecycle state.
func (s *Store) ListSessions(ctx context.Context, status string) ([]KernelSession, error) {
	query := `
        SELECT id, kernel, command, pid, parent_id, status, reason, started_at, stopped_at
        FROM kernel_sessions
    `
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return scanList(rows, scanKernelSession, "store: scan session", "store: iterate sessions")
}

// PruneStoppedSessions deletes stopped sessions older than the cutoff.
func (s *Store) PruneStoppedSessions(ctx context.Context, before time.Time) (int64, error) {
	var pruned int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            DELETE FROM kernel_sessions
            WHERE status = ? AND stopped_at < ?
        `, SessionStatusStopped, before.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("store: prune sessions: %w", err)
		}
		pruned, err = res.RowsAffected()
		return err
	})
	return pruned, err
}
