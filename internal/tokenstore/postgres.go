package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/oauth2"

	"github.com/nucleus/sync-agent/internal/auth"
)

var _ auth.TokenStore = (*PostgresStore)(nil)

// PostgresStore keeps tokens in a shared table keyed by OAuth2 client id, so
// several agents can share one database.
type PostgresStore struct {
	pool     *pgxpool.Pool
	db       *sql.DB
	clientID string
}

// PostgresConfig configures the pool.
type PostgresConfig struct {
	DSN         string
	ClientID    string
	MaxConns    int32
	DialTimeout time.Duration
}

// NewPostgresStore connects and ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("token store DSN is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("token store client id is required")
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse token store DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	} else {
		pc.MaxConns = 2
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "sync-agent"

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect token store: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := ensureTable(ctx, db); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("ensure token table: %w", err)
	}
	return &PostgresStore{pool: pool, db: db, clientID: cfg.ClientID}, nil
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sync_agent_tokens (
  client_id text PRIMARY KEY,
  token jsonb NOT NULL,
  expires_at timestamptz,
  updated_at timestamptz NOT NULL DEFAULT now()
);
`
	_, err := db.ExecContext(ctx, ddl)
	return err
}

// Load returns the client's token or auth.ErrNoToken.
func (s *PostgresStore) Load(ctx context.Context) (*oauth2.Token, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT token FROM sync_agent_tokens WHERE client_id=$1`, s.clientID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

// Save upserts the client's token.
func (s *PostgresStore) Save(ctx context.Context, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	var expires any
	if !tok.Expiry.IsZero() {
		expires = tok.Expiry
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sync_agent_tokens (client_id, token, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (client_id) DO UPDATE SET token=EXCLUDED.token, expires_at=EXCLUDED.expires_at, updated_at=now()`,
		s.clientID, string(raw), expires)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Delete removes the client's token.
func (s *PostgresStore) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_agent_tokens WHERE client_id=$1`, s.clientID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	s.pool.Close()
	return err
}
