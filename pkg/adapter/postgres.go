package adapter

import (
	"context"
	"time"

	"github.com/camuchapp/storeassist/pkg/utils/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
)

const (
	defaultPostgresMaxConns    = 10
	defaultPostgresPingTimeout = 3 * time.Second
)

// pgxBeginner is the subset of *pgxpool.Pool used by Postgres
type pgxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// Postgres executes statements over a bounded connection pool. Every statement runs in its own
// read-only transaction that is rolled back when the rows have been read.
type Postgres struct {
	pool pgxBeginner
}

type PostgresOption func(*pgxpool.Config)

func WithPostgresMaxConns(n int32) PostgresOption {
	return func(cfg *pgxpool.Config) {
		if n > 0 {
			cfg.MaxConns = n
		}
	}
}

func NewPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*Postgres, error) {
	pool, err := NewPostgresPool(ctx, dsn, opts...)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresPool opens and pings a bounded pool. It is shared with the pgvector store.
func NewPostgresPool(ctx context.Context, dsn string, opts ...PostgresOption) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse postgres DSN")
	}
	cfg.MaxConns = defaultPostgresMaxConns
	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create postgres pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPostgresPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "failed to ping postgres")
	}

	logging.From(ctx).Info("postgres pool initialized",
		"host", cfg.ConnConfig.Host,
		"database", cfg.ConnConfig.Database,
		"max_conns", cfg.MaxConns,
	)

	return pool, nil
}

// NewPostgresWithPool wraps an existing pool (or a test double)
func NewPostgresWithPool(pool pgxBeginner) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	// the transaction holds the pooled connection; Rollback returns it on every path
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to begin read-only transaction")
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
			logging.From(ctx).Warn("failed to rollback read-only transaction", "error", err)
		}
	}()

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run query", goerr.V("query", query))
	}

	results, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read query result", goerr.V("query", query))
	}
	if results == nil {
		results = []map[string]any{}
	}

	return results, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
