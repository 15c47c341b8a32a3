package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/m-mizutani/goerr/v2"
	pgvector "github.com/pgvector/pgvector-go"
)

// PgxPool is the subset of *pgxpool.Pool used by PGVector
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PGVector is a VectorStore keeping one table per collection
type PGVector struct {
	pool      PgxPool
	dimension int
}

func NewPGVector(pool PgxPool, dimension int) *PGVector {
	return &PGVector{pool: pool, dimension: dimension}
}

func (p *PGVector) Collection(ctx context.Context, name string) (VectorCollection, error) {
	c := p.newCollection(name)

	// looked up by the quoted identifier so the name keeps its case
	var exists bool
	if err := p.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", c.tableIdent).Scan(&exists); err != nil {
		return nil, goerr.Wrap(err, "failed to look up collection table", goerr.V("collection", name))
	}
	if !exists {
		return nil, goerr.Wrap(model.ErrCollectionNotFound, "collection table does not exist", goerr.V("collection", name))
	}
	return c, nil
}

func (p *PGVector) EnsureCollection(ctx context.Context, name string) (VectorCollection, error) {
	c := p.newCollection(name)

	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, goerr.Wrap(err, "failed to enable vector extension")
	}
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d),
		document TEXT,
		metadata JSONB,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`, c.tableIdent, p.dimension)
	if _, err := p.pool.Exec(ctx, createTable); err != nil {
		return nil, goerr.Wrap(err, "failed to create collection table", goerr.V("collection", name))
	}
	return c, nil
}

func (p *PGVector) newCollection(name string) *pgCollection {
	return &pgCollection{
		pool:       p.pool,
		name:       name,
		tableIdent: pgx.Identifier{name}.Sanitize(),
		dimension:  p.dimension,
	}
}

type pgCollection struct {
	pool       PgxPool
	name       string
	tableIdent string
	dimension  int
}

func (c *pgCollection) Query(ctx context.Context, vector []float32, k int) ([]*model.Document, error) {
	if c.dimension > 0 && len(vector) != c.dimension {
		return nil, goerr.New("query dimension mismatch",
			goerr.V("got", len(vector)),
			goerr.V("want", c.dimension))
	}
	if k <= 0 {
		k = 5
	}

	query := fmt.Sprintf(
		"SELECT id, COALESCE(document, ''), metadata, 1 - (embedding <=> $1) AS score FROM %s ORDER BY embedding <=> $1 ASC LIMIT $2",
		c.tableIdent)
	rows, err := c.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search collection", goerr.V("collection", c.name))
	}
	defer rows.Close()

	docs := make([]*model.Document, 0, k)
	for rows.Next() {
		var (
			id          string
			document    string
			metadataRaw []byte
			score       float64
		)
		if err := rows.Scan(&id, &document, &metadataRaw, &score); err != nil {
			return nil, goerr.Wrap(err, "failed to scan search result", goerr.V("collection", c.name))
		}

		doc := &model.Document{ID: id, Text: document, Similarity: score}
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &doc.Metadata); err != nil {
				return nil, goerr.Wrap(err, "failed to decode metadata", goerr.V("id", id))
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read search rows", goerr.V("collection", c.name))
	}

	return docs, nil
}

func (c *pgCollection) Upsert(ctx context.Context, docs []*model.Document) (err error) {
	if len(docs) == 0 {
		return nil
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return goerr.Wrap(err, "failed to begin upsert transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = goerr.Wrap(err, "rollback failed", goerr.V("rollback_error", rbErr.Error()))
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = goerr.Wrap(commitErr, "failed to commit upsert")
		}
	}()

	stmt := fmt.Sprintf(`INSERT INTO %s (id, embedding, document, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    embedding = excluded.embedding,
    document = excluded.document,
    metadata = excluded.metadata,
    updated_at = excluded.updated_at`, c.tableIdent)

	for _, doc := range docs {
		if c.dimension > 0 && len(doc.Embedding) != c.dimension {
			return goerr.New("document dimension mismatch",
				goerr.V("id", doc.ID),
				goerr.V("got", len(doc.Embedding)),
				goerr.V("want", c.dimension))
		}
		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal metadata", goerr.V("id", doc.ID))
		}
		if _, err := tx.Exec(ctx, stmt, doc.ID, pgvector.NewVector(doc.Embedding), doc.Text, metadata, time.Now().UTC()); err != nil {
			return goerr.Wrap(err, "failed to upsert document", goerr.V("id", doc.ID))
		}
	}
	return nil
}
