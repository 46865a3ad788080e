package mockserver

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"branchlab/internal/config"
)

// appRole owns every branch database and all objects inside it. Credential
// roles log in with their own name but assume this role at session start, so
// objects created through one credential stay usable through the next.
const appRole = "branchlab_app"

// Cloner is the Postgres side of the store: databases stand in for branches,
// template copies stand in for copy-on-write. An in-memory fake backs the
// unit tests.
type Cloner interface {
	CreateDatabase(ctx context.Context, name string) error
	Clone(ctx context.Context, src, dst string) error
	Drop(ctx context.Context, name string) error
	CreateLoginRole(ctx context.Context, user, password string, validUntil time.Time) error
}

type pgCloner struct {
	pool *pgxpool.Pool
}

// NewPGCloner connects an admin pool and makes sure the shared app role
// exists. The admin user must be allowed to create databases and roles.
func NewPGCloner(ctx context.Context, cfg *config.MockConfig) (Cloner, error) {
	userInfo := url.UserPassword(cfg.DBAdminUser, cfg.DBAdminPassword)
	dsn := fmt.Sprintf(
		"postgres://%s@%s:%d/postgres?sslmode=disable",
		userInfo.String(),
		cfg.DBHost,
		cfg.DBPort,
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse admin connection string: %w", err)
	}
	poolCfg.MaxConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	c := &pgCloner{pool: pool}
	if err := c.ensureAppRole(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *pgCloner) ensureAppRole(ctx context.Context) error {
	var exists bool
	err := c.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_roles WHERE rolname = $1)", appRole,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check app role: %w", err)
	}
	if exists {
		return nil
	}

	createSQL := fmt.Sprintf("CREATE ROLE %s NOLOGIN", pgx.Identifier{appRole}.Sanitize())
	if _, err := c.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create app role: %w", err)
	}
	return nil
}

func (c *pgCloner) CreateDatabase(ctx context.Context, name string) error {
	sql := fmt.Sprintf(
		"CREATE DATABASE %s OWNER %s",
		pgx.Identifier{name}.Sanitize(),
		pgx.Identifier{appRole}.Sanitize(),
	)
	if _, err := c.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to create database %q: %w", name, err)
	}
	return nil
}

// Clone copies src into dst via CREATE DATABASE ... TEMPLATE. Postgres
// refuses to template a database with live connections, so they are
// terminated first. Callers are expected to have closed their sessions
// already; this only clears stragglers such as pooled idle connections.
func (c *pgCloner) Clone(ctx context.Context, src, dst string) error {
	_, err := c.pool.Exec(ctx,
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()",
		src,
	)
	if err != nil {
		return fmt.Errorf("failed to terminate connections to %q: %w", src, err)
	}

	sql := fmt.Sprintf(
		"CREATE DATABASE %s TEMPLATE %s OWNER %s",
		pgx.Identifier{dst}.Sanitize(),
		pgx.Identifier{src}.Sanitize(),
		pgx.Identifier{appRole}.Sanitize(),
	)
	if _, err := c.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to clone %q into %q: %w", src, dst, err)
	}
	return nil
}

func (c *pgCloner) Drop(ctx context.Context, name string) error {
	sql := fmt.Sprintf(
		"DROP DATABASE IF EXISTS %s WITH (FORCE)",
		pgx.Identifier{name}.Sanitize(),
	)
	if _, err := c.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to drop database %q: %w", name, err)
	}
	return nil
}

// CreateLoginRole provisions the Postgres side of a minted credential: a
// login role whose password is the token, expiring with it, and which
// assumes the shared app role on login.
func (c *pgCloner) CreateLoginRole(ctx context.Context, user, password string, validUntil time.Time) error {
	roleIdent := pgx.Identifier{user}.Sanitize()

	createSQL := fmt.Sprintf(
		"CREATE ROLE %s LOGIN PASSWORD %s VALID UNTIL %s IN ROLE %s",
		roleIdent,
		quoteLiteral(password),
		quoteLiteral(validUntil.UTC().Format(time.RFC3339)),
		pgx.Identifier{appRole}.Sanitize(),
	)
	if _, err := c.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create login role %q: %w", user, err)
	}

	setRoleSQL := fmt.Sprintf("ALTER ROLE %s SET role = %s", roleIdent, quoteLiteral(appRole))
	if _, err := c.pool.Exec(ctx, setRoleSQL); err != nil {
		return fmt.Errorf("failed to set default role for %q: %w", user, err)
	}
	return nil
}

// quoteLiteral escapes a string literal. Tokens and timestamps pass through
// here; identifiers go through pgx.Identifier instead.
func quoteLiteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}
