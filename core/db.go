package core

import (
	"context"
	"io"
)

// DB is any storage backend the application holds a connection to.
type DB interface {
	io.Closer
	PingContext(ctx context.Context) error
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
