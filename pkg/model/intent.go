package model

import "strings"

// Intent is the classified category of a user message
type Intent string

const (
	IntentSQL     Intent = "SQL"
	IntentRAG     Intent = "RAG"
	IntentCached  Intent = "CACHED"
	IntentInvalid Intent = "INVALID"
)

// Intents returns the closed set of intents in prompt order
func Intents() []Intent {
	return []Intent{IntentSQL, IntentRAG, IntentCached, IntentInvalid}
}

func (i Intent) String() string {
	return string(i)
}

// ParseIntent normalizes a free-text token and matches it against the closed intent set.
// ok is false for anything outside the set.
func ParseIntent(text string) (Intent, bool) {
	token := strings.ToUpper(strings.TrimSpace(text))
	token = strings.TrimRight(token, ".,;:!?¡¿\"'`* \t\r\n")
	token = strings.TrimLeft(token, "\"'`* ")

	switch Intent(token) {
	case IntentSQL:
		return IntentSQL, true
	case IntentRAG:
		return IntentRAG, true
	case IntentCached:
		return IntentCached, true
	case IntentInvalid:
		return IntentInvalid, true
	default:
		return "", false
	}
}
