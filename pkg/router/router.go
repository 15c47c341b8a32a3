package router

import (
	"context"
	"errors"

	"github.com/camuchapp/storeassist/pkg/agent/rag"
	sqlagent "github.com/camuchapp/storeassist/pkg/agent/sql"
	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/camuchapp/storeassist/pkg/utils/logging"
)

type IntentClassifier interface {
	Classify(ctx context.Context, message string) model.Intent
}

type SQLAgent interface {
	ProcessQuery(ctx context.Context, question string) (*sqlagent.Result, error)
}

type RAGAgent interface {
	SearchWithTrace(ctx context.Context, query string) *rag.Answer
}

type CacheAgent interface {
	Lookup(ctx context.Context, key string) string
}

// strategy answers message for one intent. fallback is true when it runs after another
// strategy came back empty.
type strategy func(ctx context.Context, message string, trace *model.Trace, fallback bool) *model.StrategyResult

// Router classifies a message, dispatches it and records every step in a trace
type Router struct {
	classifier IntentClassifier
	sql        SQLAgent
	rag        RAGAgent
	cache      CacheAgent
	vocabulary *Vocabulary

	strategies map[model.Intent]strategy
	fallbacks  map[model.Intent]model.Intent
}

type Option func(*Router)

func WithVocabulary(v *Vocabulary) Option {
	return func(r *Router) {
		r.vocabulary = v
	}
}

// WithFallback makes an empty result of from continue with to. Each intent has at most one target.
func WithFallback(from, to model.Intent) Option {
	return func(r *Router) {
		r.fallbacks[from] = to
	}
}

// WithoutFallback clears the fallback of from
func WithoutFallback(from model.Intent) Option {
	return func(r *Router) {
		delete(r.fallbacks, from)
	}
}

func New(classifier IntentClassifier, sql SQLAgent, rag RAGAgent, cache CacheAgent, opts ...Option) *Router {
	r := &Router{
		classifier: classifier,
		sql:        sql,
		rag:        rag,
		cache:      cache,
		vocabulary: DefaultVocabulary(),
		fallbacks: map[model.Intent]model.Intent{
			model.IntentSQL: model.IntentRAG,
		},
	}
	r.strategies = map[model.Intent]strategy{
		model.IntentSQL:    r.runSQL,
		model.IntentRAG:    r.runRAG,
		model.IntentCached: r.runCache,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route always answers. Operational failures become static answers attributed to CACHED.
func (r *Router) Route(ctx context.Context, message string) *model.Response {
	logger := logging.From(ctx)
	trace := model.NewTrace()
	trace.Add(`📥 Mensaje recibido: "%s"`, message)

	intent := r.classifier.Classify(ctx, message)
	trace.Add("🧠 Clasificador: Intención detectada -> %s", intent)

	var result *model.StrategyResult
	if intent == model.IntentInvalid {
		trace.Add("🚫 Tema no permitido detectado.")
		result = model.Success(model.IntentCached, r.vocabulary.Answers.Refusal)
	} else {
		result = r.cascade(ctx, intent, message, trace)
	}

	resp := r.respond(ctx, result, trace)
	trace.Add("📤 Enviando respuesta final.")
	resp.Trace = trace.Entries()

	logger.Info("message routed",
		"intent", intent,
		"agent_used", resp.AgentUsed,
		"outcome", result.Outcome,
		"trace_len", len(resp.Trace),
	)
	return resp
}

// cascade runs the strategy for intent and follows the fallback table while results are
// empty. An intent is never run twice for the same message.
func (r *Router) cascade(ctx context.Context, intent model.Intent, message string, trace *model.Trace) *model.StrategyResult {
	if _, ok := r.strategies[intent]; !ok {
		logging.From(ctx).Warn("no strategy for intent, using RAG", "intent", intent)
		intent = model.IntentRAG
	}

	visited := make(map[model.Intent]bool, len(r.strategies))
	current, fallback := intent, false
	for {
		visited[current] = true
		result := r.strategies[current](ctx, message, trace, fallback)
		if result.Outcome != model.OutcomeEmpty {
			return result
		}

		next, ok := r.fallbacks[current]
		if _, known := r.strategies[next]; !ok || !known || visited[next] {
			return result
		}

		trace.Add("🔄 Cambiando estrategia: Activando %s para buscar en conocimiento general.", agentLabel(next))
		current, fallback = next, true
	}
}

func agentLabel(intent model.Intent) string {
	switch intent {
	case model.IntentSQL:
		return "Agente SQL"
	case model.IntentRAG:
		return "Agente RAG"
	case model.IntentCached:
		return "Agente Cache"
	default:
		return intent.String()
	}
}

func (r *Router) runSQL(ctx context.Context, message string, trace *model.Trace, fallback bool) *model.StrategyResult {
	trace.Add("🤖 Agente SQL seleccionado.")

	result, err := r.sql.ProcessQuery(ctx, message)
	if result != nil && result.Query != "" {
		trace.Add(`📝 SQL Generado: "%s"`, result.Query)
	}

	switch {
	case err == nil:
	case errors.Is(err, model.ErrSanitization):
		trace.Add("🛡️ Consulta bloqueada por el filtro de seguridad.")
		return model.Failed(model.IntentSQL, err)
	case errors.Is(err, model.ErrExecution):
		trace.Add("💾 Ejecutando consulta en base de datos...")
		trace.Add("❌ La base de datos rechazó la consulta.")
		return model.Failed(model.IntentSQL, err)
	default:
		trace.Add("❌ No se pudo generar la consulta SQL.")
		return model.Failed(model.IntentSQL, err)
	}

	trace.Add("💾 Ejecutando consulta en base de datos...")
	if len(result.Rows) == 0 {
		trace.Add("⚠️ La consulta SQL no devolvió resultados.")
		empty := model.Empty(model.IntentSQL)
		empty.Query = result.Query
		return empty
	}

	trace.Add("✅ La consulta devolvió %d fila(s).", len(result.Rows))
	success := model.Success(model.IntentSQL, result.Rows)
	success.Query = result.Query
	return success
}

func (r *Router) runRAG(ctx context.Context, message string, trace *model.Trace, fallback bool) *model.StrategyResult {
	if !fallback {
		trace.Add("📚 Agente RAG seleccionado.")
	}

	answer := r.rag.SearchWithTrace(ctx, message)

	prefix := ""
	if fallback {
		prefix = "(Fallback) "
	}
	if answer.Source == rag.SourceVector {
		trace.Add("🔎 %sBuscando en Vector DB...", prefix)
		trace.Add("✅ %d documento(s) encontrados en Vector DB.", len(answer.Documents))
	} else {
		trace.Add("⚠️ %sVector DB no disponible o sin resultados.", prefix)
		trace.Add("🧠 %sUsando Fallback: Generación con Gemini.", prefix)
	}

	return model.Success(model.IntentRAG, answer.Content)
}

func (r *Router) runCache(ctx context.Context, message string, trace *model.Trace, fallback bool) *model.StrategyResult {
	trace.Add("⚡ Agente Cache seleccionado.")

	key := r.vocabulary.CacheKey(message)
	trace.Add("🗝️ Clave de caché: %s", key)

	return model.Success(model.IntentCached, r.cache.Lookup(ctx, key))
}

func (r *Router) respond(ctx context.Context, result *model.StrategyResult, trace *model.Trace) *model.Response {
	answers := r.vocabulary.Answers

	switch result.Outcome {
	case model.OutcomeSuccess:
		resp := &model.Response{Answer: result.Answer, AgentUsed: result.Source}
		if result.Source == model.IntentSQL {
			resp.SQL = result.Query
		}
		return resp

	case model.OutcomeEmpty:
		trace.Add("ℹ️ Sin resultados en ninguna estrategia.")
		return &model.Response{Answer: answers.Empty, AgentUsed: model.IntentCached}

	default:
		logging.From(ctx).Error("strategy failed", "source", result.Source, "error", result.Err)
		answer := answers.Failure
		switch {
		case errors.Is(result.Err, model.ErrSanitization):
			answer = answers.Security
		case errors.Is(result.Err, model.ErrGeneration):
			answer = answers.Apology
		}
		return &model.Response{Answer: answer, AgentUsed: model.IntentCached}
	}
}
