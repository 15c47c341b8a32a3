package cli

import (
	"context"
	"time"

	"github.com/camuchapp/storeassist/pkg/adapter"
	"github.com/camuchapp/storeassist/pkg/agent/cache"
	"github.com/camuchapp/storeassist/pkg/agent/rag"
	sqlagent "github.com/camuchapp/storeassist/pkg/agent/sql"
	"github.com/camuchapp/storeassist/pkg/repository"
	"github.com/camuchapp/storeassist/pkg/router"
	"github.com/camuchapp/storeassist/pkg/usecase/conversation"
	"github.com/camuchapp/storeassist/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

const (
	sqlBackendPostgres = "postgres"
	sqlBackendBigQuery = "bigquery"

	vectorBackendFirestore = "firestore"
	vectorBackendPGVector  = "pgvector"
	vectorBackendNone      = "none"
)

// config holds configuration values
type config struct {
	// Gemini
	geminiProject      string
	geminiLocation     string
	geminiAPIKey       string
	generativeModel    string
	embeddingModel     string
	embeddingDimension int64

	// Relational store
	sqlBackend       string
	postgresDSN      string
	postgresMaxConns int64
	bigqueryProject  string
	bigqueryDataset  string
	scanLimitMB      int64
	schemaPath       string
	policyDir        string

	// Vector store
	vectorBackend     string
	firestoreProject  string
	firestoreDatabase string
	pgvectorDSN       string
	collection        string
	topK              int64

	// Assistant
	cachePath      string
	hotReload      bool
	vocabularyPath string
	topicFilter    bool
	timeout        time.Duration

	// History
	redisAddr     string
	redisPassword string
	redisDB       int64
	historyTTL    time.Duration
	historyMax    int64
}

// closers runs cleanup in reverse order of registration
type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// llmFlags returns flags for Gemini with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini (Vertex AI)",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key, used when no project is set",
			Sources:     cli.EnvVars("GEMINI_API_KEY", "GOOGLE_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "generative-model",
			Usage:       "Model used for classification and generation",
			Value:       "gemini-2.0-flash",
			Sources:     cli.EnvVars("STOREASSIST_GENERATIVE_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Model used for embeddings",
			Value:       "text-embedding-004",
			Sources:     cli.EnvVars("STOREASSIST_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Usage:       "Embedding vector dimension",
			Value:       768,
			Sources:     cli.EnvVars("STOREASSIST_EMBEDDING_DIMENSION"),
			Destination: &cfg.embeddingDimension,
		},
	}
}

// storeFlags returns flags for the relational store
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "sql-backend",
			Usage:       "Relational store: postgres or bigquery",
			Value:       sqlBackendPostgres,
			Sources:     cli.EnvVars("STOREASSIST_SQL_BACKEND"),
			Destination: &cfg.sqlBackend,
		},
		&cli.StringFlag{
			Name:        "postgres-dsn",
			Usage:       "PostgreSQL connection string",
			Sources:     cli.EnvVars("DATABASE_URL"),
			Destination: &cfg.postgresDSN,
		},
		&cli.IntFlag{
			Name:        "postgres-max-conns",
			Usage:       "Maximum pooled PostgreSQL connections",
			Value:       10,
			Sources:     cli.EnvVars("STOREASSIST_POSTGRES_MAX_CONNS"),
			Destination: &cfg.postgresMaxConns,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "BigQuery project ID",
			Sources:     cli.EnvVars("BIGQUERY_PROJECT_ID"),
			Destination: &cfg.bigqueryProject,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset holding the store tables",
			Sources:     cli.EnvVars("BIGQUERY_DATASET_ID"),
			Destination: &cfg.bigqueryDataset,
		},
		&cli.IntFlag{
			Name:        "scan-limit-mb",
			Usage:       "Maximum BigQuery scan size per statement in MB",
			Value:       1024,
			Sources:     cli.EnvVars("STOREASSIST_SCAN_LIMIT_MB"),
			Destination: &cfg.scanLimitMB,
		},
		&cli.StringFlag{
			Name:        "schema",
			Usage:       "Path to a schema YAML file (embedded schema when empty)",
			Sources:     cli.EnvVars("STOREASSIST_SCHEMA"),
			Destination: &cfg.schemaPath,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego files for data.sqlguard.deny (embedded policy when empty)",
			Sources:     cli.EnvVars("STOREASSIST_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// vectorFlags returns flags for the product collection
func vectorFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "vector-backend",
			Usage:       "Vector store: firestore, pgvector or none",
			Value:       vectorBackendFirestore,
			Sources:     cli.EnvVars("STOREASSIST_VECTOR_BACKEND"),
			Destination: &cfg.vectorBackend,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Firestore project ID",
			Sources:     cli.EnvVars("FIRESTORE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.firestoreDatabase,
		},
		&cli.StringFlag{
			Name:        "pgvector-dsn",
			Usage:       "PostgreSQL connection string for pgvector (postgres-dsn when empty)",
			Sources:     cli.EnvVars("PGVECTOR_DSN"),
			Destination: &cfg.pgvectorDSN,
		},
		&cli.StringFlag{
			Name:        "collection",
			Usage:       "Vector collection holding product documents",
			Value:       "productos",
			Sources:     cli.EnvVars("STOREASSIST_COLLECTION"),
			Destination: &cfg.collection,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Documents retrieved per question",
			Value:       5,
			Sources:     cli.EnvVars("STOREASSIST_TOP_K"),
			Destination: &cfg.topK,
		},
	}
}

// assistantFlags returns flags for the router and the cache agent
func assistantFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "cache",
			Usage:       "Cache snapshot: local JSON file or gs://bucket/object",
			Value:       "data/cache.json",
			Sources:     cli.EnvVars("STOREASSIST_CACHE"),
			Destination: &cfg.cachePath,
		},
		&cli.BoolFlag{
			Name:        "hot-reload",
			Usage:       "Reload the cache snapshot on every lookup",
			Sources:     cli.EnvVars("STOREASSIST_HOT_RELOAD"),
			Destination: &cfg.hotReload,
		},
		&cli.StringFlag{
			Name:        "vocabulary",
			Usage:       "Path to a vocabulary YAML file (embedded vocabulary when empty)",
			Sources:     cli.EnvVars("STOREASSIST_VOCABULARY"),
			Destination: &cfg.vocabularyPath,
		},
		&cli.BoolFlag{
			Name:        "topic-filter",
			Usage:       "Refuse messages unrelated to the store",
			Value:       true,
			Sources:     cli.EnvVars("STOREASSIST_TOPIC_FILTER"),
			Destination: &cfg.topicFilter,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "Timeout of every provider call",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("STOREASSIST_TIMEOUT"),
			Destination: &cfg.timeout,
		},
	}
}

// historyFlags returns flags for the conversation history
func historyFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Redis address for conversation history (history disabled when empty)",
			Sources:     cli.EnvVars("REDIS_ADDR"),
			Destination: &cfg.redisAddr,
		},
		&cli.StringFlag{
			Name:        "redis-password",
			Usage:       "Redis password",
			Sources:     cli.EnvVars("REDIS_PASSWORD"),
			Destination: &cfg.redisPassword,
		},
		&cli.IntFlag{
			Name:        "redis-db",
			Usage:       "Redis database number",
			Sources:     cli.EnvVars("REDIS_DB"),
			Destination: &cfg.redisDB,
		},
		&cli.DurationFlag{
			Name:        "history-ttl",
			Usage:       "Lifetime of an idle conversation",
			Value:       repository.DefaultHistoryTTL,
			Sources:     cli.EnvVars("STOREASSIST_HISTORY_TTL"),
			Destination: &cfg.historyTTL,
		},
		&cli.IntFlag{
			Name:        "history-max",
			Usage:       "Messages kept per conversation",
			Value:       repository.DefaultHistoryMaxMessages,
			Sources:     cli.EnvVars("STOREASSIST_HISTORY_MAX"),
			Destination: &cfg.historyMax,
		},
	}
}

// allFlags returns every flag needed to build the assistant
func allFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, storeFlags(cfg)...)
	flags = append(flags, vectorFlags(cfg)...)
	flags = append(flags, assistantFlags(cfg)...)
	flags = append(flags, historyFlags(cfg)...)
	return flags
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiProject == "" && cfg.geminiAPIKey == "" {
		return nil, goerr.New("gemini-project or gemini-api-key is required")
	}
	if cfg.geminiProject != "" && cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, cfg.geminiAPIKey,
		adapter.WithGenerativeModel(cfg.generativeModel),
		adapter.WithEmbeddingModel(cfg.embeddingModel),
		adapter.WithEmbeddingDimension(int32(cfg.embeddingDimension)),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return gemini, nil
}

// newRelationalStore creates the store generated statements run against
func (cfg *config) newRelationalStore(ctx context.Context, cl *closers) (adapter.RelationalStore, error) {
	switch cfg.sqlBackend {
	case sqlBackendPostgres:
		if cfg.postgresDSN == "" {
			return nil, goerr.New("postgres-dsn is required for the postgres backend")
		}
		pg, err := adapter.NewPostgres(ctx, cfg.postgresDSN, adapter.WithPostgresMaxConns(int32(cfg.postgresMaxConns)))
		if err != nil {
			return nil, err
		}
		cl.add(pg.Close)
		return pg, nil

	case sqlBackendBigQuery:
		if cfg.bigqueryProject == "" || cfg.bigqueryDataset == "" {
			return nil, goerr.New("bigquery-project and bigquery-dataset are required for the bigquery backend")
		}
		return adapter.NewBigQuery(ctx, cfg.bigqueryProject, cfg.bigqueryDataset, adapter.WithScanLimitMB(cfg.scanLimitMB))

	default:
		return nil, goerr.New("unsupported sql backend",
			goerr.V("backend", cfg.sqlBackend),
			goerr.V("supported", []string{sqlBackendPostgres, sqlBackendBigQuery}))
	}
}

// newVectorStore returns nil for the "none" backend
func (cfg *config) newVectorStore(ctx context.Context, cl *closers) (repository.VectorStore, error) {
	switch cfg.vectorBackend {
	case vectorBackendFirestore:
		if cfg.firestoreProject == "" {
			return nil, goerr.New("firestore-project is required for the firestore backend")
		}
		fs, err := repository.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase)
		if err != nil {
			return nil, err
		}
		cl.add(func() {
			if err := fs.Close(); err != nil {
				logging.From(ctx).Warn("failed to close firestore", "error", err)
			}
		})
		return fs, nil

	case vectorBackendPGVector:
		dsn := cfg.pgvectorDSN
		if dsn == "" {
			dsn = cfg.postgresDSN
		}
		if dsn == "" {
			return nil, goerr.New("pgvector-dsn or postgres-dsn is required for the pgvector backend")
		}
		pool, err := adapter.NewPostgresPool(ctx, dsn, adapter.WithPostgresMaxConns(int32(cfg.postgresMaxConns)))
		if err != nil {
			return nil, err
		}
		cl.add(pool.Close)
		return repository.NewPGVector(pool, int(cfg.embeddingDimension)), nil

	case vectorBackendNone, "":
		return nil, nil

	default:
		return nil, goerr.New("unsupported vector backend",
			goerr.V("backend", cfg.vectorBackend),
			goerr.V("supported", []string{vectorBackendFirestore, vectorBackendPGVector, vectorBackendNone}))
	}
}

// newCacheAgent loads the snapshot from a local file or from Cloud Storage
func (cfg *config) newCacheAgent(ctx context.Context) (*cache.Agent, error) {
	loader := cache.FileLoader(cfg.cachePath)
	if bucket, object, ok := adapter.ParseGCSURL(cfg.cachePath); ok {
		storage, err := adapter.NewStorage(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		loader = cache.StorageLoader(storage, bucket, object)
	}
	return cache.New(ctx, loader, cache.WithHotReload(cfg.hotReload)), nil
}

// newHistory returns nil when no Redis address is configured
func (cfg *config) newHistory(ctx context.Context, cl *closers) (repository.HistoryStore, error) {
	if cfg.redisAddr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.redisAddr,
		Password: cfg.redisPassword,
		DB:       int(cfg.redisDB),
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", cfg.redisAddr))
	}
	cl.add(func() { _ = rdb.Close() })

	return repository.NewRedisHistory(rdb,
		repository.WithHistoryTTL(cfg.historyTTL),
		repository.WithHistoryMaxMessages(int(cfg.historyMax)),
	), nil
}

func (cfg *config) newVocabulary() (*router.Vocabulary, error) {
	if cfg.vocabularyPath == "" {
		return router.DefaultVocabulary(), nil
	}
	return router.LoadVocabulary(cfg.vocabularyPath)
}

func (cfg *config) newSQLAgent(ctx context.Context, gemini adapter.Gemini, store adapter.RelationalStore, vocab *router.Vocabulary) (*sqlagent.Agent, error) {
	schema := sqlagent.DefaultSchema()
	if cfg.schemaPath != "" {
		loaded, err := sqlagent.LoadSchema(cfg.schemaPath)
		if err != nil {
			return nil, err
		}
		schema = loaded
	}
	if cfg.sqlBackend == sqlBackendBigQuery {
		schema.Dialect = sqlagent.DialectBigQuery
	}

	var policy *sqlagent.Policy
	var err error
	if cfg.policyDir != "" {
		policy, err = sqlagent.LoadPolicy(ctx, cfg.policyDir)
	} else {
		policy, err = sqlagent.DefaultPolicy(ctx)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare sql policy")
	}

	return sqlagent.New(gemini, store,
		sqlagent.WithSchema(schema),
		sqlagent.WithPolicy(policy),
		sqlagent.WithPersona(vocab.Persona),
		sqlagent.WithTimeout(cfg.timeout),
	), nil
}

// newAssistant wires every agent behind the router and the conversation service
func (cfg *config) newAssistant(ctx context.Context, cl *closers) (*conversation.Service, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}

	vocab, err := cfg.newVocabulary()
	if err != nil {
		return nil, err
	}

	store, err := cfg.newRelationalStore(ctx, cl)
	if err != nil {
		return nil, err
	}

	vectors, err := cfg.newVectorStore(ctx, cl)
	if err != nil {
		return nil, err
	}

	cacheAgent, err := cfg.newCacheAgent(ctx)
	if err != nil {
		return nil, err
	}

	history, err := cfg.newHistory(ctx, cl)
	if err != nil {
		return nil, err
	}

	sqlAgent, err := cfg.newSQLAgent(ctx, gemini, store, vocab)
	if err != nil {
		return nil, err
	}

	ragAgent := rag.New(gemini, vectors, cfg.collection,
		rag.WithTopK(int(cfg.topK)),
		rag.WithPersona(vocab.Persona),
		rag.WithTimeout(cfg.timeout),
	)

	classifier := router.NewClassifier(gemini,
		router.WithTopicFilter(cfg.topicFilter),
		router.WithClassifierVocabulary(vocab),
		router.WithClassifierTimeout(cfg.timeout),
	)

	r := router.New(classifier, sqlAgent, ragAgent, cacheAgent, router.WithVocabulary(vocab))

	opts := []conversation.Option{
		conversation.WithPersona(vocab.Persona),
		conversation.WithTimeout(cfg.timeout),
	}
	if history != nil {
		opts = append(opts, conversation.WithHistory(history, gemini))
	}

	logging.From(ctx).Debug("assistant initialized",
		"sql_backend", cfg.sqlBackend,
		"vector_backend", cfg.vectorBackend,
		"history", history != nil,
		"topic_filter", cfg.topicFilter,
	)

	return conversation.New(r, opts...), nil
}
