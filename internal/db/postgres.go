package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

var ErrNotFound = errors.New("not found")

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresRepository struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	defaults models.SyncSettings
}

func NewPostgresRepository(ctx context.Context, connString string, l *slog.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("erro ao configurar pool do postgres: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("erro ao criar pool do postgres: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("sem resposta do postgres: %w", err)
	}

	return &PostgresRepository{pool: p, logger: l}, nil
}

// SetDefaults configures the settings used when a key has no row yet
func (r *PostgresRepository) SetDefaults(s models.SyncSettings) {
	r.defaults = s
}

// Migrate applies the idempotent schema
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	r.logger.Info("Schema applied")
	return nil
}

// Store returns a pool-bound store
func (r *PostgresRepository) Store() *Store {
	return &Store{q: r.pool, defaults: r.defaults}
}

// WithTx runs fn inside a transaction. Any error rolls everything back
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(*Store) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback is a no-op once Commit succeeded
	defer tx.Rollback(ctx)

	if err := fn(&Store{q: tx, defaults: r.defaults}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// Store holds every query of the service. It is bound to either the pool or a transaction
type Store struct {
	q        querier
	defaults models.SyncSettings
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
