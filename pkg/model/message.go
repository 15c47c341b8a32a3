package model

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation session
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type ctxHistoryKey struct{}

// WithHistory attaches the prior turns of the current session to ctx
func WithHistory(ctx context.Context, history []Message) context.Context {
	return context.WithValue(ctx, ctxHistoryKey{}, history)
}

func HistoryFrom(ctx context.Context) []Message {
	if history, ok := ctx.Value(ctxHistoryKey{}).([]Message); ok {
		return history
	}
	return nil
}
