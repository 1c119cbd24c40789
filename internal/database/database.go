package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"           // Required by the library implementation.
	_ "github.com/mattn/go-sqlite3" // Required by the library implementation.
)

type dialect string

const (
	dialectSQLite   dialect = "sqlite3"
	dialectPostgres dialect = "postgres"
)

type Database struct {
	db      *sql.DB
	dialect dialect
	log     *slog.Logger
}

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// New opens Postgres when databaseURL is set and the SQLite file at dbPath otherwise, then
// applies pending migrations.
func New(ctx context.Context, dbPath string, databaseURL string, log *slog.Logger) (*Database, error) {
	d := dialectSQLite
	dsn := dbPath
	if databaseURL != "" {
		d = dialectPostgres
		dsn = databaseURL
	}

	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, fmt.Errorf("open DB: %w", err)
	}

	if d == dialectSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	if err = db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping DB: %w", err), db.Close())
	}

	if err = migrateUp(ctx, db, d, log); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return &Database{db: db, dialect: d, log: log}, nil
}

func migrateUp(ctx context.Context, db *sql.DB, d dialect, log *slog.Logger) error {
	var (
		dbInstance migratedb.Driver
		dir        string
		err        error
	)

	switch d {
	case dialectPostgres:
		dir = "migrations/postgres"
		dbInstance, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		dir = "migrations/sqlite"
		dbInstance, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	}
	if err != nil {
		return fmt.Errorf("create DB instance: %w", err)
	}

	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("open migrations dir: %w", err)
	}

	srcInstance, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcInstance, string(d), dbInstance)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	migrateErr := m.Up()

	version, dirty, versionErr := m.Version()
	fields := []any{
		"dialect", d,
	}

	if versionErr == nil {
		fields = append(fields, "version", version, "dirty", dirty)
	} else if !errors.Is(versionErr, migrate.ErrNilVersion) {
		log.WarnContext(ctx, "Failed to fetch migration version",
			"error", versionErr,
			"dialect", d)
	}

	if migrateErr != nil {
		if !errors.Is(migrateErr, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", migrateErr)
		}

		log.InfoContext(ctx, "No migrations to apply", fields...)
	} else {
		log.InfoContext(ctx, "DB is migrated", fields...)
	}

	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// rebind turns ? placeholders into $n for Postgres.
func (d *Database) rebind(query string) string {
	if d.dialect != dialectPostgres {
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
