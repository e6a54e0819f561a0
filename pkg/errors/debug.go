package errors

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump is the operator view of an error. It goes to logs and to the
// error_detail and detail columns, never to API responses.
type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`

	Chain []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Retryable = MetadataFor(d.Code).Retryable
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	d.fillPG(err)
	return d
}

func (d *ErrorDump) fillPG(err error) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		d.PGCode = pgxErr.Code
		d.PGConstraint = pgxErr.ConstraintName
		d.PGTable = pgxErr.TableName
		d.PGColumn = pgxErr.ColumnName
		d.PGDetail = pgxErr.Detail
		d.PGMessage = pgxErr.Message
		return
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		d.PGCode = string(pqErr.Code)
		d.PGConstraint = pqErr.Constraint
		d.PGTable = pqErr.Table
		d.PGColumn = pqErr.Column
		d.PGDetail = pqErr.Detail
		d.PGMessage = pqErr.Message
	}
}

// Detail renders the dump as a single line of at most max bytes, safe to
// store in a TEXT column.
//
//	DEPENDENCY_ERROR: commit orders batch: ... [pg 23505 ux_raw_records_natural_key on raw_records: Key (...) exists]
func (d ErrorDump) Detail(max int) string {
	if d.TopMessage == "" {
		return ""
	}
	var b strings.Builder
	if d.Code != "" && !strings.HasPrefix(d.TopMessage, string(d.Code)+": ") {
		b.WriteString(string(d.Code))
		b.WriteString(": ")
	}
	b.WriteString(d.TopMessage)
	if d.PGCode != "" {
		b.WriteString(" [pg ")
		b.WriteString(d.PGCode)
		if d.PGConstraint != "" {
			b.WriteString(" " + d.PGConstraint)
		}
		if d.PGTable != "" {
			b.WriteString(" on " + d.PGTable)
		}
		if d.PGDetail != "" {
			b.WriteString(": " + d.PGDetail)
		}
		b.WriteString("]")
	}
	return Truncate(b.String(), max)
}

// OperatorDetail is Dump(err).Detail(max).
func OperatorDetail(err error, max int) string {
	return Dump(err).Detail(max)
}

// Truncate cuts s to at most n bytes without splitting a rune. Invalid UTF-8
// is replaced and NUL bytes are dropped first; TEXT columns reject both.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
