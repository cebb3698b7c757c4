// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"

	"streak_bot/internal/model"
)

var (
	// ErrNotFound is returned when a subject does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write lost to another writer.
	ErrConflict = errors.New("version conflict")
	// ErrAlreadyExists is returned when creating a subject whose login is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateSubject(ctx context.Context, s *model.Subject) error
	GetSubject(ctx context.Context, id int64) (*model.Subject, error)
	GetSubjectByLogin(ctx context.Context, login string) (*model.Subject, error)
	// ListSubjectsAfter returns up to limit subjects with id > afterID, ordered by id.
	ListSubjectsAfter(ctx context.Context, afterID int64, limit int) ([]model.Subject, error)

	// BestCurrentStreaks ranks subjects whose current streak ended today or yesterday.
	BestCurrentStreaks(ctx context.Context, today civil.Date, limit int) ([]model.Subject, error)
	BestLongestStreaks(ctx context.Context, limit int) ([]model.Subject, error)

	// ListDays returns the recorded days in [from, to], oldest first.
	ListDays(ctx context.Context, subjectID int64, from, to civil.Date) ([]civil.Date, error)

	// ExpireLapsedStreaks zeroes the current length of every streak that ended
	// before yesterday and reports how many subjects changed.
	ExpireLapsedStreaks(ctx context.Context, today civil.Date) (int64, error)

	// InTx runs fn in a single transaction. The transaction is rolled back
	// when fn returns an error.
	InTx(ctx context.Context, fn func(Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of operations available inside InTx.
type Tx interface {
	RecordedDays(ctx context.Context, subjectID int64, from, to civil.Date) ([]civil.Date, error)
	// AddDay records a day and reports whether it was new.
	AddDay(ctx context.Context, subjectID int64, day civil.Date) (bool, error)
	// UpdateSubject writes s if its Version is still current, then bumps
	// s.Version. It returns ErrConflict otherwise.
	UpdateSubject(ctx context.Context, s *model.Subject) error
}
