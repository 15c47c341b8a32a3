package router_test

import (
	"context"
	"strings"
	"testing"

	"github.com/camuchapp/storeassist/pkg/agent/rag"
	sqlagent "github.com/camuchapp/storeassist/pkg/agent/sql"
	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/camuchapp/storeassist/pkg/router"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type fixedClassifier model.Intent

func (c fixedClassifier) Classify(ctx context.Context, message string) model.Intent {
	return model.Intent(c)
}

type mockSQL struct {
	processFunc func(ctx context.Context, question string) (*sqlagent.Result, error)
	calls       int
}

func (m *mockSQL) ProcessQuery(ctx context.Context, question string) (*sqlagent.Result, error) {
	m.calls++
	return m.processFunc(ctx, question)
}

func sqlReturning(query string, rows []map[string]any) *mockSQL {
	return &mockSQL{
		processFunc: func(ctx context.Context, question string) (*sqlagent.Result, error) {
			return &sqlagent.Result{Query: query, Rows: rows}, nil
		},
	}
}

type mockRAG struct {
	answer  *rag.Answer
	queries []string
}

func (m *mockRAG) SearchWithTrace(ctx context.Context, query string) *rag.Answer {
	m.queries = append(m.queries, query)
	return m.answer
}

type mockCache struct {
	keys []string
}

func (m *mockCache) Lookup(ctx context.Context, key string) string {
	m.keys = append(m.keys, key)
	return "respuesta para " + key
}

func vectorAnswer(content string) *mockRAG {
	return &mockRAG{answer: &rag.Answer{Content: content, Source: rag.SourceVector, Documents: []*model.Document{{ID: "1"}}}}
}

func indexOf(entries []string, substr string) int {
	for i, e := range entries {
		if strings.Contains(e, substr) {
			return i
		}
	}
	return -1
}

func assertTraceFrame(t *testing.T, resp *model.Response, message string) {
	t.Helper()
	gt.True(t, len(resp.Trace) >= 2)
	gt.S(t, resp.Trace[0]).Contains(`"` + message + `"`)
	gt.S(t, resp.Trace[len(resp.Trace)-1]).Contains("Enviando respuesta final")
}

func TestRouteCachedScenario(t *testing.T) {
	ctx := context.Background()
	gemini := answering("SQL")
	cache := &mockCache{}
	sql := sqlReturning("SELECT 1", nil)
	r := router.New(router.NewClassifier(gemini), sql, vectorAnswer("x"), cache)

	resp := r.Route(ctx, "horario de atención")
	gt.Equal(t, resp.AgentUsed, model.IntentCached)
	gt.Equal(t, resp.Answer, any("respuesta para horarios"))
	gt.Equal(t, cache.keys, []string{"horarios"})
	gt.A(t, gemini.prompts).Length(0)
	gt.Equal(t, sql.calls, 0)
	gt.True(t, indexOf(resp.Trace, "Clave de caché: horarios") > 0)
	gt.Equal(t, resp.SQL, "")
	assertTraceFrame(t, resp, "horario de atención")
}

func TestRouteSQLScenario(t *testing.T) {
	ctx := context.Background()
	query := "SELECT nombre, precio FROM producto WHERE nombre ILIKE '%X%' LIMIT 10"
	rows := []map[string]any{{"nombre": "X", "precio": 19.90}}
	ragAgent := vectorAnswer("no debería usarse")
	r := router.New(fixedClassifier(model.IntentSQL), sqlReturning(query, rows), ragAgent, &mockCache{})

	resp := r.Route(ctx, "precio del producto X")
	gt.Equal(t, resp.AgentUsed, model.IntentSQL)
	gt.Equal(t, resp.SQL, query)

	answer, ok := resp.Answer.([]map[string]any)
	gt.True(t, ok)
	gt.A(t, answer).Length(1)
	gt.Equal(t, answer[0]["nombre"], any("X"))

	gt.True(t, indexOf(resp.Trace, query) > 0)
	gt.True(t, indexOf(resp.Trace, "Ejecutando consulta") > indexOf(resp.Trace, query))
	gt.A(t, ragAgent.queries).Length(0)
	assertTraceFrame(t, resp, "precio del producto X")
}

func TestRouteEmptySQLFallsBackToRAG(t *testing.T) {
	ctx := context.Background()
	message := "precio del producto inexistente Z"
	ragAgent := vectorAnswer("No encontré Z, pero tenemos productos similares.")
	r := router.New(fixedClassifier(model.IntentSQL), sqlReturning("SELECT * FROM producto WHERE nombre ILIKE '%Z%'", []map[string]any{}), ragAgent, &mockCache{})

	resp := r.Route(ctx, message)
	gt.Equal(t, resp.AgentUsed, model.IntentRAG)
	gt.Equal(t, resp.Answer, any("No encontré Z, pero tenemos productos similares."))
	gt.Equal(t, resp.SQL, "")
	gt.Equal(t, ragAgent.queries, []string{message})

	empty := indexOf(resp.Trace, "no devolvió resultados")
	switched := indexOf(resp.Trace, "Cambiando estrategia")
	fallbackSearch := indexOf(resp.Trace, "(Fallback) Buscando en Vector DB")
	gt.True(t, empty > 0)
	gt.True(t, switched > empty)
	gt.True(t, fallbackSearch > switched)
	assertTraceFrame(t, resp, message)
}

func TestRouteEmptyWithoutFallback(t *testing.T) {
	ctx := context.Background()
	ragAgent := vectorAnswer("x")
	r := router.New(fixedClassifier(model.IntentSQL), sqlReturning("SELECT 1", nil), ragAgent, &mockCache{},
		router.WithoutFallback(model.IntentSQL))

	resp := r.Route(ctx, "ventas de 1990")
	gt.Equal(t, resp.AgentUsed, model.IntentCached)
	gt.Equal(t, resp.Answer, any(router.DefaultVocabulary().Answers.Empty))
	gt.A(t, ragAgent.queries).Length(0)
}

func TestRouteFallbackIsSingleHop(t *testing.T) {
	ctx := context.Background()
	sql := sqlReturning("SELECT 1", nil)
	// a cycle in the table must not run SQL twice
	r := router.New(fixedClassifier(model.IntentSQL), sql, vectorAnswer("x"), &mockCache{},
		router.WithFallback(model.IntentSQL, model.IntentSQL))

	resp := r.Route(ctx, "ventas")
	gt.Equal(t, sql.calls, 1)
	gt.Equal(t, resp.AgentUsed, model.IntentCached)
}

func TestRouteRAG(t *testing.T) {
	ctx := context.Background()

	t.Run("vector source", func(t *testing.T) {
		r := router.New(fixedClassifier(model.IntentRAG), sqlReturning("", nil), vectorAnswer("Te recomiendo shorts"), &mockCache{})
		resp := r.Route(ctx, "recomiéndame algo para la playa")
		gt.Equal(t, resp.AgentUsed, model.IntentRAG)
		gt.Equal(t, resp.Answer, any("Te recomiendo shorts"))
		gt.True(t, indexOf(resp.Trace, "Buscando en Vector DB") > 0)
		gt.Equal(t, indexOf(resp.Trace, "(Fallback)"), -1)
	})

	t.Run("fallback source", func(t *testing.T) {
		ragAgent := &mockRAG{answer: &rag.Answer{Content: "consejo general", Source: rag.SourceFallback}}
		r := router.New(fixedClassifier(model.IntentRAG), sqlReturning("", nil), ragAgent, &mockCache{})
		resp := r.Route(ctx, "¿qué tela es mejor?")
		gt.Equal(t, resp.AgentUsed, model.IntentRAG)
		gt.True(t, indexOf(resp.Trace, "Vector DB no disponible") > 0)
		gt.True(t, indexOf(resp.Trace, "Usando Fallback") > 0)
	})
}

func TestRouteInvalid(t *testing.T) {
	ctx := context.Background()
	sql := sqlReturning("SELECT 1", nil)
	ragAgent := vectorAnswer("x")
	cache := &mockCache{}
	r := router.New(fixedClassifier(model.IntentInvalid), sql, ragAgent, cache)

	resp := r.Route(ctx, "¿quién ganó las elecciones?")
	gt.Equal(t, resp.AgentUsed, model.IntentCached)
	gt.S(t, resp.Answer.(string)).Contains("Solo puedo ayudarte")
	gt.Equal(t, sql.calls, 0)
	gt.A(t, ragAgent.queries).Length(0)
	gt.A(t, cache.keys).Length(0)
	assertTraceFrame(t, resp, "¿quién ganó las elecciones?")
}

func TestRouteSQLFailures(t *testing.T) {
	ctx := context.Background()
	answers := router.DefaultVocabulary().Answers

	testCases := []struct {
		name   string
		result *sqlagent.Result
		err    error
		answer string
		marker string
	}{
		{
			name:   "sanitization",
			result: &sqlagent.Result{Query: "DELETE FROM producto"},
			err:    goerr.Wrap(model.ErrSanitization, "only SELECT"),
			answer: answers.Security,
			marker: "filtro de seguridad",
		},
		{
			name:   "generation",
			err:    goerr.Wrap(model.ErrGeneration, "quota"),
			answer: answers.Apology,
			marker: "No se pudo generar",
		},
		{
			name:   "execution",
			result: &sqlagent.Result{Query: "SELECT * FROM productos"},
			err:    goerr.Wrap(model.ErrExecution, "relation does not exist"),
			answer: answers.Failure,
			marker: "rechazó la consulta",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sql := &mockSQL{processFunc: func(ctx context.Context, question string) (*sqlagent.Result, error) {
				return tc.result, tc.err
			}}
			ragAgent := vectorAnswer("x")
			r := router.New(fixedClassifier(model.IntentSQL), sql, ragAgent, &mockCache{})

			resp := r.Route(ctx, "borra los productos")
			gt.Equal(t, resp.AgentUsed, model.IntentCached)
			gt.Equal(t, resp.Answer, any(tc.answer))
			gt.Equal(t, resp.SQL, "")
			gt.True(t, indexOf(resp.Trace, tc.marker) > 0)
			gt.A(t, ragAgent.queries).Length(0)
			assertTraceFrame(t, resp, "borra los productos")
		})
	}
}

func TestRouteTraceQuotesMessageVerbatim(t *testing.T) {
	ctx := context.Background()
	message := `100% "algodón"? {raro} %s`
	r := router.New(fixedClassifier(model.IntentRAG), sqlReturning("", nil), vectorAnswer("ok"), &mockCache{})

	resp := r.Route(ctx, message)
	gt.Equal(t, resp.Trace[0], `📥 Mensaje recibido: "`+message+`"`)
}

func TestRouteCustomAnswers(t *testing.T) {
	ctx := context.Background()
	vocab, err := router.ParseVocabulary([]byte(`
answers:
  refusal: "Solo hablo de la farmacia."
`))
	gt.NoError(t, err)

	r := router.New(fixedClassifier(model.IntentInvalid), sqlReturning("", nil), vectorAnswer("x"), &mockCache{},
		router.WithVocabulary(vocab))
	resp := r.Route(ctx, "política")
	gt.Equal(t, resp.Answer, any("Solo hablo de la farmacia."))
}
