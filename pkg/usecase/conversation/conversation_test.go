package conversation_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/camuchapp/storeassist/pkg/adapter"
	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/camuchapp/storeassist/pkg/repository"
	"github.com/camuchapp/storeassist/pkg/usecase/conversation"
	"github.com/m-mizutani/gt"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"
)

type mockRouter struct {
	routeFunc func(ctx context.Context, message string) *model.Response
	messages  []string
	histories [][]model.Message
}

func (m *mockRouter) Route(ctx context.Context, message string) *model.Response {
	m.messages = append(m.messages, message)
	m.histories = append(m.histories, model.HistoryFrom(ctx))
	if m.routeFunc != nil {
		return m.routeFunc(ctx, message)
	}
	return &model.Response{
		Answer:    "respuesta a " + message,
		AgentUsed: model.IntentRAG,
		Trace:     []string{"received", "sent"},
	}
}

type mockGemini struct {
	adapter.Gemini
	generateFunc func(ctx context.Context, prompt string) (string, error)
	prompts      []string
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	prompt := contents[0].Parts[0].Text
	m.prompts = append(m.prompts, prompt)
	text, err := m.generateFunc(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}, nil
}

func newHistory(t *testing.T) *repository.RedisHistory {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return repository.NewRedisHistory(rdb)
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
}

func TestAskEmptyMessage(t *testing.T) {
	svc := conversation.New(&mockRouter{})
	_, err := svc.Ask(context.Background(), "", "   ")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, conversation.ErrEmptyMessage))
}

func TestAskWithoutSession(t *testing.T) {
	ctx := context.Background()
	router := &mockRouter{}
	gemini := &mockGemini{generateFunc: func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("rewrite should not be called")
		return "", nil
	}}
	history := newHistory(t)
	svc := conversation.New(router, conversation.WithHistory(history, gemini))

	reply, err := svc.Ask(ctx, "", "  ¿tienen camisas?  ")
	gt.NoError(t, err)
	gt.Equal(t, router.messages, []string{"¿tienen camisas?"})
	gt.Equal(t, reply.Answer, any("respuesta a ¿tienen camisas?"))
	gt.Equal(t, reply.SessionID, "")
	gt.Equal(t, reply.StandaloneQuestion, "")
}

func TestAskFirstMessageIsNotRewritten(t *testing.T) {
	ctx := context.Background()
	router := &mockRouter{}
	gemini := &mockGemini{generateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "should not be used", nil
	}}
	history := newHistory(t)
	svc := conversation.New(router,
		conversation.WithHistory(history, gemini),
		conversation.WithClock(fixedClock()),
	)

	reply, err := svc.Ask(ctx, "s1", "¿cuánto cuesta la camisa azul?")
	gt.NoError(t, err)
	gt.A(t, gemini.prompts).Length(0)
	gt.Equal(t, router.messages, []string{"¿cuánto cuesta la camisa azul?"})
	gt.Equal(t, reply.SessionID, "s1")
	gt.Equal(t, reply.StandaloneQuestion, "")

	msgs, err := history.Load(ctx, "s1")
	gt.NoError(t, err)
	gt.A(t, msgs).Length(2)
	gt.Equal(t, msgs[0].Role, model.RoleUser)
	gt.Equal(t, msgs[0].Content, "¿cuánto cuesta la camisa azul?")
	gt.Equal(t, msgs[1].Role, model.RoleAssistant)
	gt.Equal(t, msgs[1].Content, "respuesta a ¿cuánto cuesta la camisa azul?")
}

func TestAskRewritesFollowUp(t *testing.T) {
	ctx := context.Background()
	router := &mockRouter{}
	gemini := &mockGemini{generateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "\"¿Cuánto stock hay de la camisa azul?\"\n", nil
	}}
	history := newHistory(t)
	svc := conversation.New(router, conversation.WithHistory(history, gemini))

	_, err := svc.Ask(ctx, "s1", "¿cuánto cuesta la camisa azul?")
	gt.NoError(t, err)

	reply, err := svc.Ask(ctx, "s1", "¿y cuánto stock queda?")
	gt.NoError(t, err)
	gt.Equal(t, reply.StandaloneQuestion, "¿Cuánto stock hay de la camisa azul?")
	gt.Equal(t, router.messages[1], "¿Cuánto stock hay de la camisa azul?")

	// prior turns reach the agents through the context
	gt.A(t, router.histories[0]).Length(0)
	gt.A(t, router.histories[1]).Length(2)
	gt.Equal(t, router.histories[1][0].Content, "¿cuánto cuesta la camisa azul?")

	gt.A(t, gemini.prompts).Length(1)
	gt.True(t, strings.Contains(gemini.prompts[0], "Usuario: ¿cuánto cuesta la camisa azul?"))
	gt.True(t, strings.Contains(gemini.prompts[0], "Asistente: respuesta a ¿cuánto cuesta la camisa azul?"))
	gt.True(t, strings.Contains(gemini.prompts[0], "¿y cuánto stock queda?"))

	// the original wording is what gets persisted
	msgs, err := history.Load(ctx, "s1")
	gt.NoError(t, err)
	gt.A(t, msgs).Length(4)
	gt.Equal(t, msgs[2].Content, "¿y cuánto stock queda?")
}

func TestAskRewriteFailureUsesOriginal(t *testing.T) {
	ctx := context.Background()
	router := &mockRouter{}
	gemini := &mockGemini{generateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("quota exceeded")
	}}
	history := newHistory(t)
	gt.NoError(t, history.Append(ctx, "s1", model.Message{Role: model.RoleUser, Content: "hola"}))

	svc := conversation.New(router, conversation.WithHistory(history, gemini))
	reply, err := svc.Ask(ctx, "s1", "¿y de la otra?")
	gt.NoError(t, err)
	gt.Equal(t, router.messages, []string{"¿y de la otra?"})
	gt.Equal(t, reply.StandaloneQuestion, "")
}

func TestAskStoresRowsAsJSON(t *testing.T) {
	ctx := context.Background()
	router := &mockRouter{routeFunc: func(ctx context.Context, message string) *model.Response {
		return &model.Response{
			Answer:    []model.Row{{"nombre": "Camisa", "precio": 25}},
			AgentUsed: model.IntentSQL,
			SQL:       "SELECT nombre, precio FROM producto",
		}
	}}
	history := newHistory(t)
	svc := conversation.New(router, conversation.WithHistory(history, nil))

	_, err := svc.Ask(ctx, "s1", "precio de la camisa")
	gt.NoError(t, err)

	msgs, err := history.Load(ctx, "s1")
	gt.NoError(t, err)
	gt.A(t, msgs).Length(2)
	gt.Equal(t, msgs[1].Content, `[{"nombre":"Camisa","precio":25}]`)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	history := newHistory(t)
	svc := conversation.New(&mockRouter{}, conversation.WithHistory(history, nil))

	_, err := svc.Ask(ctx, "s1", "hola")
	gt.NoError(t, err)
	gt.NoError(t, svc.Reset(ctx, "s1"))

	msgs, err := history.Load(ctx, "s1")
	gt.NoError(t, err)
	gt.A(t, msgs).Length(0)
}

func TestAnswerText(t *testing.T) {
	gt.Equal(t, conversation.AnswerText(nil), "")
	gt.Equal(t, conversation.AnswerText("hola"), "hola")
	gt.Equal(t, conversation.AnswerText([]model.Row{}), "[]")
}
