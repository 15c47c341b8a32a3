package router

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

//go:embed prompt/classify.md
var classifyPromptRaw string

var classifyPrompt = template.Must(template.New("classify").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
	"quote": func(items []string) string {
		quoted := make([]string, len(items))
		for i, item := range items {
			quoted[i] = `"` + item + `"`
		}
		return strings.Join(quoted, ", ")
	},
}).Parse(classifyPromptRaw))

// Classifier decides which strategy answers a message. It never fails: any provider
// problem degrades to model.IntentRAG.
type Classifier struct {
	gemini      adapter.Gemini
	vocabulary  *Vocabulary
	topicFilter bool
	timeout     time.Duration
}

type ClassifierOption func(*Classifier)

// WithTopicFilter enables the INVALID category for off-topic messages
func WithTopicFilter(enabled bool) ClassifierOption {
	return func(c *Classifier) {
		c.topicFilter = enabled
	}
}

func WithClassifierVocabulary(v *Vocabulary) ClassifierOption {
	return func(c *Classifier) {
		c.vocabulary = v
	}
}

func WithClassifierTimeout(d time.Duration) ClassifierOption {
	return func(c *Classifier) {
		c.timeout = d
	}
}

func NewClassifier(gemini adapter.Gemini, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		gemini:      gemini,
		vocabulary:  DefaultVocabulary(),
		topicFilter: true,
		timeout:     15 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type classifyPromptData struct {
	Persona     model.Persona
	Examples    Examples
	TopicFilter bool
	Message     string
}

func (c *Classifier) Classify(ctx context.Context, message string) model.Intent {
	logger := logging.From(ctx)

	if c.vocabulary.MatchFastPath(message) {
		logger.Debug("fast-path matched", "message", message)
		return model.IntentCached
	}

	intent, err := c.classifySemantic(ctx, message)
	if err != nil {
		logger.Warn("classification degraded to default", "error", err, "default", model.IntentRAG)
		return model.IntentRAG
	}

	logger.Debug("message classified", "intent", intent)
	return intent
}

func (c *Classifier) classifySemantic(ctx context.Context, message string) (model.Intent, error) {
	var buf bytes.Buffer
	if err := classifyPrompt.Execute(&buf, classifyPromptData{
		Persona:     c.vocabulary.Persona,
		Examples:    c.vocabulary.Examples,
		TopicFilter: c.topicFilter,
		Message:     message,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to render classification prompt")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	text, err := adapter.GenerateText(ctx, c.gemini, buf.String(), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", goerr.Wrap(model.ErrClassification, "provider call failed", goerr.V("cause", err.Error()))
	}

	intent, ok := model.ParseIntent(text)
	if !ok {
		return "", goerr.Wrap(model.ErrClassification, "unrecognized intent token", goerr.V("text", text))
	}
	if intent == model.IntentInvalid && !c.topicFilter {
		return "", goerr.Wrap(model.ErrClassification, "INVALID returned while topic filter is disabled")
	}

	return intent, nil
}
