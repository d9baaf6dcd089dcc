package task

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store against a shared PostgreSQL database —
// the multi-host deployment where several scheduler/worker hosts must
// agree on CronTask state (spec.md's domain stack wiring for pgx).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool for dsn (a standard postgres://
// URL or libpq keyword string), grounded on internal/store/postgres's
// "pgx" stdlib-driver registration.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cron_task(
		id BIGSERIAL PRIMARY KEY,
		cron_job TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		start_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ
	);`)
	return err
}

func (s *PostgresStore) RunNow(ctx context.Context, cronJob, params string, now time.Time) (Task, bool, error) {
	lo := now.Add(-runNowTolerance)
	hi := now.Add(runNowTolerance)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cron_job, params, status, pid, start_at, started_at, finished_at
		FROM cron_task
		WHERE cron_job = $1 AND params = $2 AND start_at > $3 AND start_at < $4
		ORDER BY id LIMIT 1;`, cronJob, params, lo, hi)
	if t, err := scanTask(row); err == nil {
		return t, false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, err
	}

	row = s.db.QueryRowContext(ctx, `
		INSERT INTO cron_task(cron_job, params, status, start_at)
		VALUES ($1, $2, $3, $4) RETURNING id;`,
		cronJob, params, StatusWaiting, now)
	var id int64
	if err := row.Scan(&id); err != nil {
		return Task{}, false, err
	}
	return Task{ID: id, CronJob: cronJob, Params: params, Status: StatusWaiting, StartAt: now}, true, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (Task, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cron_job, params, status, pid, start_at, started_at, finished_at
		FROM cron_task WHERE id = $1;`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	return t, true, nil
}

func (s *PostgresStore) MarkQueued(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cron_task SET status = $1 WHERE id = $2;`, StatusQueued, id)
	return err
}

func (s *PostgresStore) MarkStarted(ctx context.Context, id int64, pid int, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cron_task SET status = $1, pid = $2, started_at = $3 WHERE id = $4;`,
		StatusStarted, pid, startedAt, id)
	return err
}

func (s *PostgresStore) MarkFinished(ctx context.Context, id int64, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cron_task SET status = $1, finished_at = $2 WHERE id = $3;`,
		StatusFinished, finishedAt, id)
	return err
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cron_task SET status = $1 WHERE id = $2;`, StatusFailed, id)
	return err
}
