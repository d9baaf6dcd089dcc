package task

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store backed by a local SQLite file — the default
// for single-host deployments that don't run a shared database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) the SQLite file at path. Pass
// ":memory:" for an ephemeral store, matching internal/store's SQLiteStore
// convention for an empty path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cron_task(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cron_job TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		start_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME
	);`)
	return err
}

func (s *SQLiteStore) RunNow(ctx context.Context, cronJob, params string, now time.Time) (Task, bool, error) {
	lo := now.Add(-runNowTolerance)
	hi := now.Add(runNowTolerance)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cron_job, params, status, pid, start_at, started_at, finished_at
		FROM cron_task
		WHERE cron_job = ? AND params = ? AND start_at > ? AND start_at < ?
		ORDER BY id LIMIT 1;`, cronJob, params, lo, hi)
	if t, err := scanTask(row); err == nil {
		return t, false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cron_task(cron_job, params, status, start_at) VALUES (?, ?, ?, ?);`,
		cronJob, params, StatusWaiting, now)
	if err != nil {
		return Task{}, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, false, err
	}
	return Task{ID: id, CronJob: cronJob, Params: params, Status: StatusWaiting, StartAt: now}, true, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (Task, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cron_job, params, status, pid, start_at, started_at, finished_at
		FROM cron_task WHERE id = ?;`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	return t, true, nil
}

func (s *SQLiteStore) MarkQueued(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cron_task SET status = ? WHERE id = ?;`, StatusQueued, id)
	return err
}

func (s *SQLiteStore) MarkStarted(ctx context.Context, id int64, pid int, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cron_task SET status = ?, pid = ?, started_at = ? WHERE id = ?;`,
		StatusStarted, pid, startedAt, id)
	return err
}

func (s *SQLiteStore) MarkFinished(ctx context.Context, id int64, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cron_task SET status = ?, finished_at = ? WHERE id = ?;`,
		StatusFinished, finishedAt, id)
	return err
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cron_task SET status = ? WHERE id = ?;`, StatusFailed, id)
	return err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (Task, error) {
	var t Task
	var startedAt, finishedAt sql.NullTime
	var pid sql.NullInt64
	if err := row.Scan(&t.ID, &t.CronJob, &t.Params, &t.Status, &pid, &t.StartAt, &startedAt, &finishedAt); err != nil {
		return Task{}, err
	}
	t.PID = int(pid.Int64)
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		t.FinishedAt = &finishedAt.Time
	}
	return t, nil
}
