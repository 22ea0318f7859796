package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the few places where PostgreSQL and MySQL disagree.
// Queries in this package are written with ? placeholders and rebound
// for the target database.
type Dialect struct {
	// Name is the database/sql driver name.
	Name string

	// numbered selects $1, $2, ... placeholders.
	numbered bool

	// insertUserIfAbsent inserts a user row and does nothing if the
	// subject already exists.
	insertUserIfAbsent string

	schema []string
}

var Postgres = Dialect{
	Name:     "postgres",
	numbered: true,
	insertUserIfAbsent: `INSERT INTO users (subject_id, email, is_admin, created_at)
		VALUES (?, ?, FALSE, ?) ON CONFLICT (subject_id) DO NOTHING`,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			subject_id VARCHAR(128) PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR(36) PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			owner_subject_id VARCHAR(128) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS tasks_owner_created_idx ON tasks (owner_subject_id, created_at DESC)`,
	},
}

var MySQL = Dialect{
	Name: "mysql",
	insertUserIfAbsent: `INSERT IGNORE INTO users (subject_id, email, is_admin, created_at)
		VALUES (?, ?, FALSE, ?)`,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			subject_id VARCHAR(128) PRIMARY KEY,
			email VARCHAR(320) NOT NULL DEFAULT '',
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME(3) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR(36) PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			owner_subject_id VARCHAR(128) NOT NULL,
			created_at DATETIME(3) NOT NULL,
			updated_at DATETIME(3) NOT NULL,
			INDEX tasks_owner_created_idx (owner_subject_id, created_at)
		)`,
	},
}

// DialectFor returns the dialect for a driver name.
func DialectFor(name string) (Dialect, bool) {
	switch name {
	case Postgres.Name:
		return Postgres, true
	case MySQL.Name:
		return MySQL, true
	}
	return Dialect{}, false
}

// Rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
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
