package sqlstore

import (
	"strconv"
	"strings"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

type dialect struct {
	driverName string
	schema     []string
	// rebind rewrites "?" placeholders for drivers that want numbered ones.
	rebind func(string) string
}

var dialects = map[Driver]dialect{
	DriverPostgres: {
		driverName: "postgres",
		rebind:     dollarPlaceholders,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS leads (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    company TEXT NOT NULL,
    industry TEXT NOT NULL,
    size INTEGER NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    summary TEXT,
    lead_quality TEXT CHECK (lead_quality IN ('High', 'Medium', 'Low')),
    enrichment_status TEXT NOT NULL DEFAULT 'raw',
    created_at TIMESTAMPTZ NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_leads_industry_size ON leads(industry, size)`,
			`CREATE TABLE IF NOT EXISTS events (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    action TEXT NOT NULL,
    metadata JSONB,
    occurred_at TIMESTAMPTZ NOT NULL
)`,
		},
	},
	DriverSQLite: {
		driverName: "sqlite",
		rebind:     func(q string) string { return q },
		schema: []string{
			`CREATE TABLE IF NOT EXISTS leads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL DEFAULT '',
    company TEXT NOT NULL,
    industry TEXT NOT NULL,
    size INTEGER NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    summary TEXT,
    lead_quality TEXT CHECK (lead_quality IN ('High', 'Medium', 'Low')),
    enrichment_status TEXT NOT NULL DEFAULT 'raw',
    created_at TIMESTAMP NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_leads_industry_size ON leads(industry, size)`,
			`CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    action TEXT NOT NULL,
    metadata TEXT,
    occurred_at TIMESTAMP NOT NULL
)`,
		},
	},
}

func dollarPlaceholders(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLiteDSN builds a modernc.org/sqlite DSN for a database file with a busy
// timeout and WAL journaling.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}
