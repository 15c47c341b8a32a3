package rag

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/camuchapp/storeassist/pkg/adapter"
	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/camuchapp/storeassist/pkg/repository"
	"github.com/camuchapp/storeassist/pkg/utils/logging"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/synthesize.md
var synthesizePromptRaw string

//go:embed prompt/fallback.md
var fallbackPromptRaw string

var (
	synthesizePrompt = template.Must(template.New("synthesize").Parse(synthesizePromptRaw))
	fallbackPrompt   = template.Must(template.New("fallback").Parse(fallbackPromptRaw))
)

const (
	catalogPrefix = "Encontré esta información en nuestro catálogo:\n\n"
	apology       = "Lo siento, en este momento no puedo acceder a mi base de conocimientos ni procesar tu solicitud."
)

type Source string

const (
	SourceVector   Source = "vector"
	SourceFallback Source = "fallback"
)

// Answer is what SearchWithTrace produced and where it came from
type Answer struct {
	Content   string
	Source    Source
	Documents []*model.Document
}

// Agent answers from the product collection and falls back to general knowledge when the
// collection cannot be used.
type Agent struct {
	gemini     adapter.Gemini
	store      repository.VectorStore
	collection string
	topK       int
	persona    model.Persona
	timeout    time.Duration
	embeddings *lru.Cache[string, []float32]

	collMu sync.Mutex
	coll   repository.VectorCollection
}

type AgentOption func(*Agent)

func WithTopK(k int) AgentOption {
	return func(a *Agent) {
		if k > 0 {
			a.topK = k
		}
	}
}

func WithPersona(p model.Persona) AgentOption {
	return func(a *Agent) {
		a.persona = p
	}
}

func WithTimeout(d time.Duration) AgentOption {
	return func(a *Agent) {
		a.timeout = d
	}
}

// WithEmbeddingCache keeps up to size query embeddings in memory. 0 disables the cache.
func WithEmbeddingCache(size int) AgentOption {
	return func(a *Agent) {
		if size <= 0 {
			a.embeddings = nil
			return
		}
		cache, err := lru.New[string, []float32](size)
		if err == nil {
			a.embeddings = cache
		}
	}
}

// New creates the agent. store may be nil, in which case every search takes the fallback path.
func New(gemini adapter.Gemini, store repository.VectorStore, collection string, opts ...AgentOption) *Agent {
	a := &Agent{
		gemini:     gemini,
		store:      store,
		collection: collection,
		topK:       5,
		persona:    model.DefaultPersona(),
		timeout:    30 * time.Second,
	}
	WithEmbeddingCache(256)(a)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SearchWithTrace never fails. Content is always non-empty.
func (a *Agent) SearchWithTrace(ctx context.Context, query string) *Answer {
	logger := logging.From(ctx)

	docs, err := a.retrieve(ctx, query)
	if err != nil {
		logger.Warn("vector retrieval unavailable, answering without catalogue", "error", err)
		return &Answer{Content: a.answerWithoutCatalog(ctx, query), Source: SourceFallback}
	}

	texts := make([]string, 0, len(docs))
	for _, doc := range docs {
		texts = append(texts, doc.Text)
	}
	catalog := strings.Join(texts, "\n\n")

	content, err := a.synthesize(ctx, query, catalog)
	if err != nil {
		logger.Warn("synthesis failed, returning raw catalogue context", "error", err)
		content = catalogPrefix + catalog
	}

	return &Answer{Content: content, Source: SourceVector, Documents: docs}
}

func (a *Agent) collectionHandle(ctx context.Context) (repository.VectorCollection, error) {
	a.collMu.Lock()
	defer a.collMu.Unlock()

	if a.coll != nil {
		return a.coll, nil
	}

	coll, err := a.store.Collection(ctx, a.collection)
	if err != nil {
		return nil, err
	}
	a.coll = coll
	return coll, nil
}

func (a *Agent) resetCollectionHandle() {
	a.collMu.Lock()
	a.coll = nil
	a.collMu.Unlock()
}

func (a *Agent) retrieve(ctx context.Context, query string) ([]*model.Document, error) {
	if a.store == nil {
		return nil, goerr.Wrap(model.ErrRetrievalUnavailable, "no vector store configured")
	}

	coll, err := a.collectionHandle(ctx)
	if err != nil {
		return nil, goerr.Wrap(model.ErrRetrievalUnavailable, "collection unavailable",
			goerr.V("collection", a.collection),
			goerr.V("cause", err.Error()))
	}

	vector, err := a.embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(model.ErrRetrievalUnavailable, "failed to embed query", goerr.V("cause", err.Error()))
	}

	found, err := callWithTimeout(ctx, a.timeout, func(ctx context.Context) ([]*model.Document, error) {
		return coll.Query(ctx, vector, a.topK)
	})
	if err != nil {
		// the handle may be stale (collection dropped and recreated)
		a.resetCollectionHandle()
		return nil, goerr.Wrap(model.ErrRetrievalUnavailable, "vector query failed", goerr.V("cause", err.Error()))
	}

	docs := make([]*model.Document, 0, len(found))
	for _, doc := range found {
		if doc != nil && strings.TrimSpace(doc.Text) != "" {
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return nil, goerr.Wrap(model.ErrRetrievalUnavailable, "no documents matched", goerr.V("returned", len(found)))
	}

	return docs, nil
}

func (a *Agent) embed(ctx context.Context, query string) ([]float32, error) {
	if a.embeddings != nil {
		if vector, ok := a.embeddings.Get(query); ok {
			return vector, nil
		}
	}

	vectors, err := callWithTimeout(ctx, a.timeout, func(ctx context.Context) ([][]float32, error) {
		return a.gemini.Embedding(ctx, []string{query})
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, goerr.New("embedding provider returned no vector")
	}

	if a.embeddings != nil {
		a.embeddings.Add(query, vectors[0])
	}
	return vectors[0], nil
}

type promptData struct {
	Persona model.Persona
	Query   string
	Context string
}

func (a *Agent) synthesize(ctx context.Context, query, catalog string) (string, error) {
	var buf bytes.Buffer
	if err := synthesizePrompt.Execute(&buf, promptData{Persona: a.persona, Query: query, Context: catalog}); err != nil {
		return "", goerr.Wrap(err, "failed to render synthesis prompt")
	}
	return a.generate(ctx, buf.String())
}

func (a *Agent) answerWithoutCatalog(ctx context.Context, query string) string {
	var buf bytes.Buffer
	if err := fallbackPrompt.Execute(&buf, promptData{Persona: a.persona, Query: query}); err != nil {
		logging.From(ctx).Error("failed to render fallback prompt", "error", err)
		return apology
	}

	text, err := a.generate(ctx, buf.String())
	if err != nil {
		logging.From(ctx).Warn("fallback generation failed", "error", err)
		return apology
	}
	return text
}

func (a *Agent) generate(ctx context.Context, prompt string) (string, error) {
	text, err := callWithTimeout(ctx, a.timeout, func(ctx context.Context) (string, error) {
		return adapter.GenerateText(ctx, a.gemini, prompt, nil)
	})
	if err != nil {
		return "", goerr.Wrap(model.ErrGeneration, "completion failed", goerr.V("cause", err.Error()))
	}
	return strings.TrimSpace(text), nil
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}
