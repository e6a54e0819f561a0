package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation.
// When hints are given, at least one must appear in the constraint name or
// driver message, which lets SQLite (column-based messages) and Postgres
// (constraint-based) share one check.
func IsUniqueViolation(err error, hints ...string) bool {
	if err == nil {
		return false
	}

	var detail string
	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		if pgxErr.Code != pgUniqueViolation {
			return false
		}
		detail = pgxErr.ConstraintName + " " + pgxErr.Message
	case errors.As(err, &pqErr):
		if string(pqErr.Code) != pgUniqueViolation {
			return false
		}
		detail = pqErr.Constraint + " " + pqErr.Message
	default:
		msg := err.Error()
		if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
			return false
		}
		detail = msg
	}

	if len(hints) == 0 {
		return true
	}
	for _, hint := range hints {
		if hint != "" && strings.Contains(detail, hint) {
			return true
		}
	}
	return false
}
