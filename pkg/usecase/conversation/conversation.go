package conversation

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"
	"time"

	"github.com/camuchapp/storeassist/pkg/adapter"
	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/camuchapp/storeassist/pkg/repository"
	"github.com/camuchapp/storeassist/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/rewrite.md
var rewritePromptRaw string

var rewritePrompt = template.Must(template.New("rewrite").Parse(rewritePromptRaw))

// ErrEmptyMessage is returned by Ask when the message has no content
var ErrEmptyMessage = goerr.New("message is empty")

// Router routes a single standalone message
type Router interface {
	Route(ctx context.Context, message string) *model.Response
}

// Reply is the routed response plus conversation bookkeeping
type Reply struct {
	*model.Response

	SessionID          string `json:"sessionId,omitempty"`
	StandaloneQuestion string `json:"standaloneQuestion,omitempty"`
}

// Service answers messages, optionally within a conversation session
type Service struct {
	router  Router
	history repository.HistoryStore
	gemini  adapter.Gemini
	persona model.Persona
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Service)

// WithHistory enables sessions. Follow-up questions are rewritten with gemini.
func WithHistory(history repository.HistoryStore, gemini adapter.Gemini) Option {
	return func(s *Service) {
		s.history = history
		s.gemini = gemini
	}
}

func WithPersona(p model.Persona) Option {
	return func(s *Service) {
		s.persona = p
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(router Router, opts ...Option) *Service {
	s := &Service{
		router:  router,
		persona: model.DefaultPersona(),
		timeout: 15 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask routes message. Without a session ID (or without a history store) the message is
// routed as is.
func (s *Service) Ask(ctx context.Context, sessionID, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, goerr.Wrap(ErrEmptyMessage, "nothing to route")
	}

	if s.history == nil || sessionID == "" {
		return &Reply{Response: s.router.Route(ctx, message)}, nil
	}

	logger := logging.From(ctx).With("session_id", sessionID)
	ctx = logging.With(ctx, logger)

	history, err := s.history.Load(ctx, sessionID)
	if err != nil {
		logger.Warn("failed to load conversation history", "error", err)
		history = nil
	}

	question := message
	if len(history) > 0 {
		question = s.standalone(ctx, history, message)
	}

	resp := s.router.Route(model.WithHistory(ctx, history), question)

	now := s.now()
	msgs := []model.Message{
		{Role: model.RoleUser, Content: message, CreatedAt: now},
		{Role: model.RoleAssistant, Content: AnswerText(resp.Answer), CreatedAt: now},
	}
	if err := s.history.Append(ctx, sessionID, msgs...); err != nil {
		logger.Warn("failed to save conversation history", "error", err)
	}

	reply := &Reply{Response: resp, SessionID: sessionID}
	if question != message {
		reply.StandaloneQuestion = question
	}
	return reply, nil
}

// Reset drops the session history
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if s.history == nil || sessionID == "" {
		return nil
	}
	if err := s.history.Clear(ctx, sessionID); err != nil {
		return goerr.Wrap(err, "failed to clear session", goerr.V("session_id", sessionID))
	}
	return nil
}

type rewriteInput struct {
	Persona model.Persona
	History []model.Message
	Message string
}

// standalone falls back to the original message on any failure
func (s *Service) standalone(ctx context.Context, history []model.Message, message string) string {
	logger := logging.From(ctx)
	if s.gemini == nil {
		return message
	}

	var buf bytes.Buffer
	if err := rewritePrompt.Execute(&buf, rewriteInput{Persona: s.persona, History: history, Message: message}); err != nil {
		logger.Error("failed to render rewrite prompt", "error", err)
		return message
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)}
	text, err := adapter.GenerateText(ctx, s.gemini, buf.String(), config)
	if err != nil {
		logger.Warn("failed to rewrite follow-up question", "error", err)
		return message
	}

	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `"`))
	if text == "" {
		return message
	}

	logger.Debug("rewrote follow-up question", "original", message, "standalone", text)
	return text
}

// AnswerText renders a response answer as plain text. Rows are encoded as JSON.
func AnswerText(answer any) string {
	switch v := answer.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
