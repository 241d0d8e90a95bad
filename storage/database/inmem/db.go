package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/feedback"
	"github.com/trezcool/darasa/core/user"
)

// DB is an in-memory store. Slices keep insertion order.
// A single lock guards every table so that cascading deletes are atomic.
type DB struct {
	mu sync.RWMutex

	users       []*userRow
	classes     []*classroom.Class
	enrollments []classroom.Enrollment
	assignments []*classroom.Assignment
	submissions []*classroom.Submission
	feedback    []feedback.Feedback
}

type userRow struct {
	user.User
	legacyClasses []string // joined classes carried by imported records
}

var _ core.DB = (*DB)(nil)

func Open() *DB {
	return &DB{}
}

func (db *DB) Close() error { return nil }

func (db *DB) PingContext(context.Context) error { return nil }

// Reset drops all the data.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users = nil
	db.classes = nil
	db.enrollments = nil
	db.assignments = nil
	db.submissions = nil
	db.feedback = nil
}
