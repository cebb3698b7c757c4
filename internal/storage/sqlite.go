package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"streak_bot/internal/model"
	"streak_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const subjectColumns = `id, login, email, last_entry_id,
	current_start, current_end, current_length,
	longest_start, longest_end, longest_length,
	version, created_at`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSubject inserts a new subject and populates its ID and CreatedAt.
func (s *SQLite) CreateSubject(ctx context.Context, subj *model.Subject) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subjects (login, email, last_entry_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(login) DO NOTHING`,
		subj.Login, subj.Email, subj.LastEntryID, now,
	)
	if err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subject %q: %w", subj.Login, ErrAlreadyExists)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	subj.ID = id
	subj.Version = 0
	subj.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetSubject returns a single subject by its ID.
func (s *SQLite) GetSubject(ctx context.Context, id int64) (*model.Subject, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subjectColumns+` FROM subjects WHERE id = ?`, id,
	)
	return scanSubject(row)
}

// GetSubjectByLogin returns a single subject by its login.
func (s *SQLite) GetSubjectByLogin(ctx context.Context, login string) (*model.Subject, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subjectColumns+` FROM subjects WHERE login = ?`, login,
	)
	return scanSubject(row)
}

// ListSubjectsAfter returns the next batch of subjects ordered by id.
func (s *SQLite) ListSubjectsAfter(ctx context.Context, afterID int64, limit int) ([]model.Subject, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subjectColumns+` FROM subjects WHERE id > ? ORDER BY id LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubjects(rows)
}

// BestCurrentStreaks returns the longest running streaks.
func (s *SQLite) BestCurrentStreaks(ctx context.Context, today civil.Date, limit int) ([]model.Subject, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subjectColumns+` FROM subjects
		 WHERE current_length > 0 AND current_end >= ?
		 ORDER BY current_length DESC, login
		 LIMIT ?`,
		today.AddDays(-1).String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query current streaks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubjects(rows)
}

// BestLongestStreaks returns the longest streaks ever recorded.
func (s *SQLite) BestLongestStreaks(ctx context.Context, limit int) ([]model.Subject, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subjectColumns+` FROM subjects
		 WHERE longest_length > 0
		 ORDER BY longest_length DESC, login
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query longest streaks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubjects(rows)
}

// ListDays returns recorded days of a subject within [from, to].
func (s *SQLite) ListDays(ctx context.Context, subjectID int64, from, to civil.Date) ([]civil.Date, error) {
	return listDays(ctx, s.db, subjectID, from, to)
}

// ExpireLapsedStreaks zeroes current streaks that ended before yesterday.
func (s *SQLite) ExpireLapsedStreaks(ctx context.Context, today civil.Date) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subjects SET current_length = 0, version = version + 1
		 WHERE current_length > 0 AND current_end < ?`,
		today.AddDays(-1).String(),
	)
	if err != nil {
		return 0, fmt.Errorf("expire streaks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// InTx runs fn inside a transaction and commits when it succeeds.
func (s *SQLite) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) RecordedDays(ctx context.Context, subjectID int64, from, to civil.Date) ([]civil.Date, error) {
	return listDays(ctx, t.tx, subjectID, from, to)
}

func (t *sqliteTx) AddDay(ctx context.Context, subjectID int64, day civil.Date) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO activity_days (subject_id, day, created_at) VALUES (?, ?, ?)`,
		subjectID, day.String(), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("insert day: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (t *sqliteTx) UpdateSubject(ctx context.Context, subj *model.Subject) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE subjects SET
			last_entry_id = ?,
			current_start = ?, current_end = ?, current_length = ?,
			longest_start = ?, longest_end = ?, longest_length = ?,
			version = version + 1
		 WHERE id = ? AND version = ?`,
		subj.LastEntryID,
		dateValue(subj.CurrentStart), dateValue(subj.CurrentEnd), subj.CurrentLength,
		dateValue(subj.LongestStart), dateValue(subj.LongestEnd), subj.LongestLength,
		subj.ID, subj.Version,
	)
	if err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subject %d at version %d: %w", subj.ID, subj.Version, ErrConflict)
	}
	subj.Version++
	return nil
}

func listDays(ctx context.Context, q querier, subjectID int64, from, to civil.Date) ([]civil.Date, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT day FROM activity_days
		 WHERE subject_id = ? AND day >= ? AND day <= ?
		 ORDER BY day`,
		subjectID, from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query days: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var days []civil.Date
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		d, err := civil.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("parse day %q: %w", s, err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// dateValue stores the zero date as NULL.
func dateValue(d civil.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func parseNullDate(s sql.NullString) (civil.Date, error) {
	if !s.Valid || s.String == "" {
		return civil.Date{}, nil
	}
	return civil.ParseDate(s.String)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubject(row scannable) (*model.Subject, error) {
	var (
		subj                        model.Subject
		curStart, curEnd            sql.NullString
		longStart, longEnd, created sql.NullString
	)
	err := row.Scan(&subj.ID, &subj.Login, &subj.Email, &subj.LastEntryID,
		&curStart, &curEnd, &subj.CurrentLength,
		&longStart, &longEnd, &subj.LongestLength,
		&subj.Version, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subject: %w", err)
	}

	for _, f := range []struct {
		dst *civil.Date
		src sql.NullString
	}{
		{&subj.CurrentStart, curStart},
		{&subj.CurrentEnd, curEnd},
		{&subj.LongestStart, longStart},
		{&subj.LongestEnd, longEnd},
	} {
		d, err := parseNullDate(f.src)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", f.src.String, err)
		}
		*f.dst = d
	}
	if created.Valid {
		subj.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &subj, nil
}

func scanSubjects(rows *sql.Rows) ([]model.Subject, error) {
	var subjects []model.Subject
	for rows.Next() {
		subj, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, *subj)
	}
	return subjects, rows.Err()
}
