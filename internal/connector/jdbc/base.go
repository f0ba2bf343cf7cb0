// Package jdbc connects to the site databases a sync job extracts from.
//
// Vendors:
//
//	MSSQL  - github.com/microsoft/go-mssqldb (driver "sqlserver")
//	MYSQL  - github.com/go-sql-driver/mysql
//	PGSQL  - github.com/lib/pq (driver "postgres")
//
// Each job opens its own handle and closes it when extraction ends.
package jdbc

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OpenFunc opens a database handle. Tests substitute an in-process engine.
type OpenFunc func(driver, dsn string) (*sql.DB, error)

// Base is an open connection for one extraction.
type Base struct {
	Config *Config
	DB     *sql.DB
}

// Open connects using cfg and verifies the connection with a ping.
// A nil open uses sql.Open.
func Open(ctx context.Context, cfg *Config, open OpenFunc) (*Base, error) {
	if open == nil {
		open = sql.Open
	}
	db, err := open(cfg.Driver, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One query per job.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s at %s: %w", cfg.Source, cfg.Host, err)
	}
	return &Base{Config: cfg, DB: db}, nil
}

// Close releases database resources.
func (b *Base) Close() error {
	if b.DB != nil {
		return b.DB.Close()
	}
	return nil
}

// Query runs query and streams every row to onRow in result order. cols is
// the driver's column order and is the same slice for every call. It returns
// the number of rows delivered.
func (b *Base) Query(ctx context.Context, query string, onRow func(cols []string, values []any) error) (int64, error) {
	rows, err := b.DB.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("failed to get columns: %w", err)
	}

	var n int64
	values := make([]any, len(cols))
	valuePtrs := make([]any, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	for rows.Next() {
		for i := range values {
			values[i] = nil
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return n, fmt.Errorf("scan failed: %w", err)
		}
		if err := onRow(cols, values); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("row iteration failed: %w", err)
	}
	return n, nil
}
