package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"streak_bot/internal/model"
	"streak_bot/migrations"
)

// Postgres implements Storage backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgres connects to dsn and runs pending migrations.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	db := stdlib.OpenDB(*cfg.ConnConfig)
	err = migrations.Run(db, migrations.Postgres)
	_ = db.Close()
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases every pooled connection.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Ping checks that the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// CreateSubject inserts a new subject and populates its ID and CreatedAt.
func (p *Postgres) CreateSubject(ctx context.Context, subj *model.Subject) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO subjects (login, email, last_entry_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (login) DO NOTHING
		 RETURNING id, created_at`,
		subj.Login, subj.Email, subj.LastEntryID,
	).Scan(&subj.ID, &subj.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("subject %q: %w", subj.Login, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}
	subj.Version = 0
	return nil
}

// GetSubject returns a single subject by its ID.
func (p *Postgres) GetSubject(ctx context.Context, id int64) (*model.Subject, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+subjectColumns+` FROM subjects WHERE id = $1`, id,
	)
	return scanPGSubject(row)
}

// GetSubjectByLogin returns a single subject by its login.
func (p *Postgres) GetSubjectByLogin(ctx context.Context, login string) (*model.Subject, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+subjectColumns+` FROM subjects WHERE login = $1`, login,
	)
	return scanPGSubject(row)
}

// ListSubjectsAfter returns the next batch of subjects ordered by id.
func (p *Postgres) ListSubjectsAfter(ctx context.Context, afterID int64, limit int) ([]model.Subject, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+subjectColumns+` FROM subjects WHERE id > $1 ORDER BY id LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()
	return scanPGSubjects(rows)
}

// BestCurrentStreaks returns the longest running streaks.
func (p *Postgres) BestCurrentStreaks(ctx context.Context, today civil.Date, limit int) ([]model.Subject, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+subjectColumns+` FROM subjects
		 WHERE current_length > 0 AND current_end >= $1
		 ORDER BY current_length DESC, login
		 LIMIT $2`,
		pgDate(today.AddDays(-1)), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query current streaks: %w", err)
	}
	defer rows.Close()
	return scanPGSubjects(rows)
}

// BestLongestStreaks returns the longest streaks ever recorded.
func (p *Postgres) BestLongestStreaks(ctx context.Context, limit int) ([]model.Subject, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+subjectColumns+` FROM subjects
		 WHERE longest_length > 0
		 ORDER BY longest_length DESC, login
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query longest streaks: %w", err)
	}
	defer rows.Close()
	return scanPGSubjects(rows)
}

// ListDays returns recorded days of a subject within [from, to].
func (p *Postgres) ListDays(ctx context.Context, subjectID int64, from, to civil.Date) ([]civil.Date, error) {
	return listPGDays(ctx, p.pool, subjectID, from, to)
}

// ExpireLapsedStreaks zeroes current streaks that ended before yesterday.
func (p *Postgres) ExpireLapsedStreaks(ctx context.Context, today civil.Date) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE subjects SET current_length = 0, version = version + 1
		 WHERE current_length > 0 AND current_end < $1`,
		pgDate(today.AddDays(-1)),
	)
	if err != nil {
		return 0, fmt.Errorf("expire streaks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InTx runs fn inside a transaction and commits when it succeeds.
func (p *Postgres) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) RecordedDays(ctx context.Context, subjectID int64, from, to civil.Date) ([]civil.Date, error) {
	return listPGDays(ctx, t.tx, subjectID, from, to)
}

func (t *postgresTx) AddDay(ctx context.Context, subjectID int64, day civil.Date) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO activity_days (subject_id, day) VALUES ($1, $2)
		 ON CONFLICT (subject_id, day) DO NOTHING`,
		subjectID, pgDate(day),
	)
	if err != nil {
		return false, fmt.Errorf("insert day: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *postgresTx) UpdateSubject(ctx context.Context, subj *model.Subject) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE subjects SET
			last_entry_id = $1,
			current_start = $2, current_end = $3, current_length = $4,
			longest_start = $5, longest_end = $6, longest_length = $7,
			version = version + 1
		 WHERE id = $8 AND version = $9`,
		subj.LastEntryID,
		pgDate(subj.CurrentStart), pgDate(subj.CurrentEnd), subj.CurrentLength,
		pgDate(subj.LongestStart), pgDate(subj.LongestEnd), subj.LongestLength,
		subj.ID, subj.Version,
	)
	if err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subject %d at version %d: %w", subj.ID, subj.Version, ErrConflict)
	}
	subj.Version++
	return nil
}

func listPGDays(ctx context.Context, q pgQuerier, subjectID int64, from, to civil.Date) ([]civil.Date, error) {
	rows, err := q.Query(ctx,
		`SELECT day FROM activity_days
		 WHERE subject_id = $1 AND day BETWEEN $2 AND $3
		 ORDER BY day`,
		subjectID, pgDate(from), pgDate(to),
	)
	if err != nil {
		return nil, fmt.Errorf("query days: %w", err)
	}
	defer rows.Close()

	var days []civil.Date
	for rows.Next() {
		var d pgtype.Date
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		days = append(days, civilDate(d))
	}
	return days, rows.Err()
}

// pgDate maps the zero date to NULL.
func pgDate(d civil.Date) pgtype.Date {
	if d.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.In(time.UTC), Valid: true}
}

func civilDate(d pgtype.Date) civil.Date {
	if !d.Valid {
		return civil.Date{}
	}
	return civil.DateOf(d.Time)
}

func scanPGSubject(row scannable) (*model.Subject, error) {
	var (
		subj               model.Subject
		curStart, curEnd   pgtype.Date
		longStart, longEnd pgtype.Date
	)
	err := row.Scan(&subj.ID, &subj.Login, &subj.Email, &subj.LastEntryID,
		&curStart, &curEnd, &subj.CurrentLength,
		&longStart, &longEnd, &subj.LongestLength,
		&subj.Version, &subj.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subject: %w", err)
	}
	subj.CurrentStart = civilDate(curStart)
	subj.CurrentEnd = civilDate(curEnd)
	subj.LongestStart = civilDate(longStart)
	subj.LongestEnd = civilDate(longEnd)
	return &subj, nil
}

func scanPGSubjects(rows pgx.Rows) ([]model.Subject, error) {
	var subjects []model.Subject
	for rows.Next() {
		subj, err := scanPGSubject(rows)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, *subj)
	}
	return subjects, rows.Err()
}
