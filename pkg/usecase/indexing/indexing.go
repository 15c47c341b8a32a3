package indexing

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"

	"github.com/camuchapp/storeassist/pkg/adapter"
	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/camuchapp/storeassist/pkg/repository"
	"github.com/camuchapp/storeassist/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

// ProductQuery selects the active catalogue with the columns documents are built from
const ProductQuery = `SELECT p.id, p.nombre, COALESCE(c.nombre, '') AS categoria, COALESCE(p.descripcion, '') AS descripcion, p.precio, p.stock
FROM producto p
LEFT JOIN categoria c ON c.id = p.categoria_id
WHERE p.esta_activo = TRUE
ORDER BY p.id`

const (
	defaultBatchSize   = 20
	defaultConcurrency = 4
)

// Report summarizes one sync run
type Report struct {
	Products int
	Indexed  int
	Skipped  int
	Failed   int
}

// Indexer copies the product catalogue into the vector collection
type Indexer struct {
	store       adapter.RelationalStore
	gemini      adapter.Gemini
	vectors     repository.VectorStore
	collection  string
	query       string
	batchSize   int
	concurrency int
}

type Option func(*Indexer)

func WithBatchSize(n int) Option {
	return func(x *Indexer) {
		if n > 0 {
			x.batchSize = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(x *Indexer) {
		if n > 0 {
			x.concurrency = n
		}
	}
}

// WithQuery replaces ProductQuery. Rows must carry id and nombre; categoria, descripcion
// and precio are optional.
func WithQuery(q string) Option {
	return func(x *Indexer) {
		x.query = q
	}
}

func New(store adapter.RelationalStore, gemini adapter.Gemini, vectors repository.VectorStore, collection string, opts ...Option) *Indexer {
	x := &Indexer{
		store:       store,
		gemini:      gemini,
		vectors:     vectors,
		collection:  collection,
		query:       ProductQuery,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Sync reads the active products, embeds them and upserts them into the collection. A batch
// that fails to embed or upsert is logged and counted in Report.Failed.
func (x *Indexer) Sync(ctx context.Context) (*Report, error) {
	logger := logging.From(ctx)

	rows, err := x.store.Execute(ctx, x.query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read products")
	}

	report := &Report{Products: len(rows)}
	docs := make([]*model.Document, 0, len(rows))
	for _, row := range rows {
		doc := BuildDocument(row)
		if doc == nil {
			report.Skipped++
			continue
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		logger.Info("no products to index", "products", report.Products)
		return report, nil
	}

	coll, err := x.vectors.EnsureCollection(ctx, x.collection)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare collection", goerr.V("collection", x.collection))
	}

	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(x.concurrency)

	for start := 0; start < len(docs); start += x.batchSize {
		end := min(start+x.batchSize, len(docs))
		batch := docs[start:end]

		eg.Go(func() error {
			n := len(batch)
			if err := x.indexBatch(ctx, coll, batch); err != nil {
				logger.Warn("failed to index batch", "error", err, "offset", start, "size", n)
				mu.Lock()
				report.Failed += n
				mu.Unlock()
				return nil
			}
			mu.Lock()
			report.Indexed += n
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, goerr.Wrap(err, "indexing aborted")
	}

	logger.Info("catalogue indexed",
		"collection", x.collection,
		"products", report.Products,
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

func (x *Indexer) indexBatch(ctx context.Context, coll repository.VectorCollection, batch []*model.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	texts := make([]string, len(batch))
	for i, doc := range batch {
		texts[i] = doc.Text
	}

	vectors, err := x.gemini.Embedding(ctx, texts)
	if err != nil {
		return goerr.Wrap(err, "failed to embed batch")
	}
	if len(vectors) != len(batch) {
		return goerr.New("embedding count mismatch", goerr.V("expected", len(batch)), goerr.V("actual", len(vectors)))
	}

	for i, doc := range batch {
		doc.Embedding = vectors[i]
	}

	if err := coll.Upsert(ctx, batch); err != nil {
		return goerr.Wrap(err, "failed to upsert batch")
	}
	return nil
}

// BuildDocument renders one product row. Rows without id or name yield nil.
func BuildDocument(row model.Row) *model.Document {
	id := field(row, "id")
	name := field(row, "nombre")
	if id == "" || name == "" {
		return nil
	}

	category := field(row, "categoria")
	description := field(row, "descripcion")
	price := field(row, "precio")

	var b strings.Builder
	fmt.Fprintf(&b, "Producto: %s.", name)
	if category != "" {
		fmt.Fprintf(&b, " Categoría: %s.", category)
	}
	if description != "" {
		fmt.Fprintf(&b, " Descripción: %s.", strings.TrimRight(description, "."))
	}
	if price != "" {
		fmt.Fprintf(&b, " Precio: %s.", price)
	}

	metadata := map[string]any{
		"product_id": id,
		"nombre":     name,
	}
	if category != "" {
		metadata["categoria"] = category
	}
	if price != "" {
		metadata["precio"] = price
	}
	if stock := field(row, "stock"); stock != "" {
		metadata["stock"] = stock
	}

	return &model.Document{
		ID:       "producto-" + id,
		Text:     b.String(),
		Metadata: metadata,
	}
}

func field(row model.Row, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil || dv == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(dv))
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return fmt.Sprint(t)
	}
}
