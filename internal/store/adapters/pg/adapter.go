// Package pg implementa el adapter PostgreSQL sobre pgxpool.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/johnid/internal/domain/repository"
	"github.com/dropDatabas3/johnid/internal/store"
	migrations "github.com/dropDatabas3/johnid/migrations/postgres"
)

func init() {
	store.RegisterAdapter(&postgresAdapter{})
}

// postgresAdapter implementa store.Adapter para PostgreSQL.
type postgresAdapter struct{}

func (a *postgresAdapter) Name() string { return "postgres" }

func (a *postgresAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}

	// Configurar pool
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pg: new pool: %w", err)
	}
	// Conectar para fallar rápido si hay problema
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}

	conn := New(pool)
	if _, err := conn.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: migrate: %w", err)
	}
	return conn, nil
}

// Connection envuelve un pool ya abierto.
type Connection struct {
	pool *pgxpool.Pool
}

// New crea una conexión sobre un pool existente. No migra.
func New(pool *pgxpool.Pool) *Connection { return &Connection{pool: pool} }

func (c *Connection) Name() string                   { return "postgres" }
func (c *Connection) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }
func (c *Connection) Close() error {
	c.pool.Close()
	return nil
}

func (c *Connection) Users() repository.UserRepository                   { return &userRepo{c.pool} }
func (c *Connection) Roles() repository.RoleRepository                   { return &roleRepo{c.pool} }
func (c *Connection) Claims() repository.ClaimRepository                 { return &claimRepo{c.pool} }
func (c *Connection) ExternalLogins() repository.ExternalLoginRepository { return &loginRepo{c.pool} }
func (c *Connection) RefreshTokens() repository.RefreshTokenRepository   { return &refreshRepo{c.pool} }
func (c *Connection) PurposeTokens() repository.PurposeTokenRepository   { return &purposeRepo{c.pool} }
func (c *Connection) TwoFactor() repository.TwoFactorRepository          { return &twoFactorRepo{c.pool} }

// Migrate aplica las migraciones embebidas pendientes.
func (c *Connection) Migrate(ctx context.Context) (*store.MigrationResult, error) {
	return store.NewMigrator(migrations.FS, migrations.Dir).Run(ctx, &migrationExec{c.pool})
}

type migrationExec struct{ pool *pgxpool.Pool }

func (m *migrationExec) EnsureTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version    INT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

func (m *migrationExec) AppliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := m.pool.Query(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (m *migrationExec) Apply(ctx context.Context, mig store.Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO _migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ─── helpers ───

// nullIfEmpty devuelve nil para strings vacíos (columna NULL).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// pgCode devuelve el SQLSTATE y el constraint de un *pgconn.PgError.
func pgCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)
