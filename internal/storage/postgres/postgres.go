// Package postgres provides PostgreSQL persistence for battle scenes,
// campaign rosters and campaign membership using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/battlekeep/internal/config"
	"github.com/cory-johannsen/battlekeep/internal/game/battle"
)

// Pool wraps the pgx pool shared by the scene, roster and membership
// repositories.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool creates a new PostgreSQL connection pool from the given configuration.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a connected Pool or a non-nil error. The pool is ready
// for queries upon successful return.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// Health checks that the battle schema answers within the given timeout.
// A reachable database without the migrations applied is unhealthy.
//
// Precondition: The pool must not be closed.
// Postcondition: Returns nil if battle_scenes is readable within the timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	_, err := p.SceneCounts(ctx, timeout)
	return err
}

// SceneCounts returns the number of stored battles per status. Statuses with
// no battles are reported as 0.
//
// Postcondition: Returns one entry per battle status, or a non-nil error.
func (p *Pool) SceneCounts(ctx context.Context, timeout time.Duration) (map[battle.Status]int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := p.pool.Query(ctx, `SELECT status, count(*) FROM battle_scenes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting battle scenes: %w", err)
	}
	defer rows.Close()

	counts := map[battle.Status]int{
		battle.StatusPrepared:  0,
		battle.StatusActive:    0,
		battle.StatusCompleted: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning battle scene count: %w", err)
		}
		counts[battle.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting battle scenes: %w", err)
	}
	return counts, nil
}

// Close releases all pool resources.
//
// Postcondition: The pool is no longer usable after calling Close.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool for use by repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
