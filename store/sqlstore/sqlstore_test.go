package sqlstore

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/thejerf/abtime"

	"github.com/abefas/tasktracker/store"
	"github.com/abefas/tasktracker/store/storetest"
)

func TestRebind(t *testing.T) {
	query := "UPDATE tasks SET title = ?, completed = ? WHERE id = ?"
	if got := MySQL.Rebind(query); got != query {
		t.Errorf("MySQL.Rebind changed the query: %q", got)
	}
	want := "UPDATE tasks SET title = $1, completed = $2 WHERE id = $3"
	if got := Postgres.Rebind(query); got != want {
		t.Errorf("Postgres.Rebind = %q, want %q", got, want)
	}
}

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"postgres", "mysql"} {
		d, ok := DialectFor(name)
		if !ok || d.Name != name {
			t.Errorf("DialectFor(%q) = %q, %v", name, d.Name, ok)
		}
	}
	if _, ok := DialectFor("sqlite"); ok {
		t.Error("DialectFor(sqlite) should not resolve")
	}
}

// conformance runs the shared suite against a live database named by the
// environment variable, skipping when it is unset.
func conformance(t *testing.T, dialect Dialect, envVar string) {
	dsn := os.Getenv(envVar)
	if dsn == "" {
		t.Skipf("%s not set", envVar)
	}
	storetest.Run(t, func(t *testing.T, clock abtime.AbstractTime) store.Store {
		db, err := sql.Open(dialect.Name, dsn)
		if err != nil {
			t.Fatalf("sql.Open: %v", err)
		}
		s := New(db, dialect, clock)
		ctx := context.Background()
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		for _, table := range []string{"tasks", "users"} {
			if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				t.Fatalf("clearing %s: %v", table, err)
			}
		}
		return s
	})
}

func TestPostgresConformance(t *testing.T) {
	conformance(t, Postgres, "TASKTRACKER_TEST_POSTGRES_DSN")
}

// The MySQL DSN must carry parseTime=true, as database.MySQLDSN arranges.
func TestMySQLConformance(t *testing.T) {
	conformance(t, MySQL, "TASKTRACKER_TEST_MYSQL_DSN")
}
