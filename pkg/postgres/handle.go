// pkg/postgres/handle.go

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	cerr "github.com/cockroachdb/errors"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const connectTimeout = 5 * time.Second

// Handle is the database handle probed by the health checker: a database/sql
// pool for round trips and a GORM view of the same pool for schema queries.
type Handle struct {
	db   *sql.DB
	gorm *gorm.DB
}

// Open opens a pool with lib/pq and verifies connectivity with Ping.
func Open(ctx context.Context, dsn string) (*Handle, error) {
	h, err := Dial(dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := h.Ping(pingCtx); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return h, nil
}

// Dial prepares a pool without connecting. The first probe connects, so a
// database that is still starting is reported by the health check instead
// of failing startup here.
func Dial(dsn string) (*Handle, error) {
	if dsn == "" {
		return nil, cerr.WithHint(cerr.New("postgres DSN is empty"), "set postgres.dsn or HORAE_POSTGRES_DSN")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(time.Minute)

	h, err := FromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

// FromDB upgrades an existing pool.
func FromDB(db *sql.DB) (*Handle, error) {
	g, err := gorm.Open(gormpg.New(gormpg.Config{Conn: db}), &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gorm over postgres pool: %w", err)
	}
	return &Handle{db: db, gorm: g}, nil
}

// Ping runs a round trip on the pool.
func (h *Handle) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Tables lists the tables of the current schema.
func (h *Handle) Tables(ctx context.Context) ([]string, error) {
	tables, err := h.gorm.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// DB exposes the pool for callers that share it with the application.
func (h *Handle) DB() *sql.DB { return h.db }

// Close releases the pool.
func (h *Handle) Close() error { return h.db.Close() }
