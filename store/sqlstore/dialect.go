package sqlstore

import (
	"fmt"
	"strings"
	"time"
)

// Dialect covers the DDL differences between SQLite and PostgreSQL. DML is
// written once with ? placeholders and rebound for PostgreSQL.
type Dialect interface {
	Name() string
	AutoIncrementPK() string
	BigInt() string
	BoolType() string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string            { return "sqlite" }
func (sqliteDialect) AutoIncrementPK() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (sqliteDialect) BigInt() string          { return "INTEGER" }
func (sqliteDialect) BoolType() string        { return "INTEGER" }

type postgresDialect struct{}

func (postgresDialect) Name() string            { return "postgres" }
func (postgresDialect) AutoIncrementPK() string { return "BIGSERIAL PRIMARY KEY" }
func (postgresDialect) BigInt() string          { return "BIGINT" }
func (postgresDialect) BoolType() string        { return "BOOLEAN" }

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

// Timestamps are stored as fixed-width UTC text so that lexical order is
// chronological in both dialects.
const (
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	dateLayout = "2006-01-02"
)

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano, dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	return &t
}

func timePtrString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}
