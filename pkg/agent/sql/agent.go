package sql

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"
	"time"

	"github.com/camuchapp/storeassist/pkg/adapter"
	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/camuchapp/storeassist/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/generate.md
var generatePromptRaw string

var generatePrompt = template.Must(template.New("generate").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(generatePromptRaw))

// Agent turns a question into a single read-only statement and runs it
type Agent struct {
	gemini  adapter.Gemini
	store   adapter.RelationalStore
	schema  *Schema
	policy  *Policy
	persona model.Persona
	limit   int
	timeout time.Duration
}

// Result is the statement that was run and the rows it returned. Rows is never nil.
type Result struct {
	Query string
	Rows  []map[string]any
}

type AgentOption func(*Agent)

func WithSchema(schema *Schema) AgentOption {
	return func(a *Agent) {
		a.schema = schema
	}
}

// WithPolicy adds Rego rules evaluated after the built-in gate
func WithPolicy(policy *Policy) AgentOption {
	return func(a *Agent) {
		a.policy = policy
	}
}

func WithPersona(p model.Persona) AgentOption {
	return func(a *Agent) {
		a.persona = p
	}
}

// WithDefaultLimit sets the LIMIT the model is told to add when the question has no explicit count
func WithDefaultLimit(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.limit = n
		}
	}
}

func WithTimeout(d time.Duration) AgentOption {
	return func(a *Agent) {
		a.timeout = d
	}
}

func New(gemini adapter.Gemini, store adapter.RelationalStore, opts ...AgentOption) *Agent {
	a := &Agent{
		gemini:  gemini,
		store:   store,
		schema:  DefaultSchema(),
		persona: model.DefaultPersona(),
		limit:   10,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ProcessQuery generates, checks and runs a statement for question. Session turns attached
// with model.WithHistory are rendered into the prompt. Errors wrap one of
// model.ErrGeneration, model.ErrSanitization or model.ErrExecution.
func (a *Agent) ProcessQuery(ctx context.Context, question string) (*Result, error) {
	logger := logging.From(ctx)

	generated, err := a.generate(ctx, question, model.HistoryFrom(ctx))
	if err != nil {
		return nil, err
	}
	logger.Info("statement generated", "sql", generated)

	stmt, err := Sanitize(generated)
	if err != nil {
		return &Result{Query: generated}, err
	}
	if err := a.policy.Check(ctx, stmt, question, a.schema.Dialect); err != nil {
		return &Result{Query: stmt}, err
	}

	rows, err := a.store.Execute(ctx, stmt)
	if err != nil {
		return &Result{Query: stmt}, goerr.Wrap(model.ErrExecution, "relational store rejected statement",
			goerr.V("sql", stmt),
			goerr.V("cause", err.Error()))
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	logger.Debug("statement executed", "rows", len(rows))
	return &Result{Query: stmt, Rows: rows}, nil
}

type generatePromptData struct {
	Dialect   Dialect
	Persona   model.Persona
	Tables    []Table
	Relations []string
	History   []model.Message
	Limit     int
	Question  string
}

func (a *Agent) generate(ctx context.Context, question string, history []model.Message) (string, error) {
	var buf bytes.Buffer
	if err := generatePrompt.Execute(&buf, generatePromptData{
		Dialect:   a.schema.Dialect,
		Persona:   a.persona,
		Tables:    a.schema.Tables,
		Relations: a.schema.Relations,
		History:   history,
		Limit:     a.limit,
		Question:  question,
	}); err != nil {
		return "", goerr.Wrap(model.ErrGeneration, "failed to render prompt", goerr.V("cause", err.Error()))
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	text, err := adapter.GenerateText(ctx, a.gemini, buf.String(), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", goerr.Wrap(model.ErrGeneration, "failed to generate statement", goerr.V("cause", err.Error()))
	}

	return stripFences(text), nil
}
