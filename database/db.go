// --- database/db.go ---
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/thejerf/abtime"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/abefas/tasktracker/config"
	"github.com/abefas/tasktracker/store"
	"github.com/abefas/tasktracker/store/mongostore"
	"github.com/abefas/tasktracker/store/sqlstore"
)

// connectTimeout bounds connecting, pinging and migrating at startup.
const connectTimeout = 15 * time.Second

// Open connects to the backend selected by cfg and prepares its schema.
func Open(ctx context.Context, cfg config.StoreConfig, clock abtime.AbstractTime, logger *slog.Logger) (store.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using the in-memory store; data is lost on restart")
		return store.NewMemory(clock), nil

	case config.DriverPostgres:
		db, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		logger.Info("Successfully connected to the PostgreSQL database", "host", cfg.Postgres.Host, "dbname", cfg.Postgres.DBName)
		return migrate(ctx, sqlstore.New(db, sqlstore.Postgres, clock))

	case config.DriverMySQL:
		db, err := OpenMySQL(ctx, cfg.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		logger.Info("Successfully connected to the MySQL database")
		return migrate(ctx, sqlstore.New(db, sqlstore.MySQL, clock))

	case config.DriverMongo:
		client, err := OpenMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, err
		}
		s := mongostore.New(client, cfg.Mongo.Database, clock)
		if err := s.EnsureIndexes(ctx); err != nil {
			client.Disconnect(context.Background())
			return nil, err
		}
		logger.Info("Successfully connected to MongoDB", "database", cfg.Mongo.Database)
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func migrate(ctx context.Context, s *sqlstore.Store) (store.Store, error) {
	if err := s.Migrate(ctx); err != nil {
		s.DB.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres initializes a connection to the PostgreSQL database.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// MySQLDSN returns dsn with the options the store depends on: DATETIME
// columns scanned into time.Time, in UTC.
func MySQLDSN(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parsing MySQL DSN: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}

// OpenMySQL initializes a connection to the MySQL database.
func OpenMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	dsn, err := MySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// OpenMongo connects to MongoDB and verifies the connection.
func OpenMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}
