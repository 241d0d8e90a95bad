// Package sqlxrepos implements the repositories on PostgreSQL.
package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// postgres error codes
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func pqCode(err error) string {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return string(pqErr.Code)
	}
	return ""
}

// trapNoRowsErr maps "no rows" errors to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// inTx runs fn in a transaction, rolled back when fn fails.
func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// selectIn runs a query holding "IN (?)" clauses, expanded by sqlx.In.
func selectIn(ctx context.Context, q sqlx.ExtContext, dest interface{}, query string, args ...interface{}) error {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...)
}
