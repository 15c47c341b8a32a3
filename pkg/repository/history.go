package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultHistoryTTL         = 24 * time.Hour
	DefaultHistoryMaxMessages = 10
	historyKeyPrefix          = "storeassist:history:"
)

// RedisHistory stores each session as a capped Redis list of JSON messages
type RedisHistory struct {
	rdb         redis.UniversalClient
	ttl         time.Duration
	maxMessages int64
}

type RedisHistoryOption func(*RedisHistory)

func WithHistoryTTL(ttl time.Duration) RedisHistoryOption {
	return func(h *RedisHistory) {
		if ttl > 0 {
			h.ttl = ttl
		}
	}
}

func WithHistoryMaxMessages(n int) RedisHistoryOption {
	return func(h *RedisHistory) {
		if n > 0 {
			h.maxMessages = int64(n)
		}
	}
}

func NewRedisHistory(rdb redis.UniversalClient, opts ...RedisHistoryOption) *RedisHistory {
	h := &RedisHistory{
		rdb:         rdb,
		ttl:         DefaultHistoryTTL,
		maxMessages: DefaultHistoryMaxMessages,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func historyKey(sessionID string) string {
	return historyKeyPrefix + sessionID
}

func (h *RedisHistory) Load(ctx context.Context, sessionID string) ([]model.Message, error) {
	raw, err := h.rdb.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load history", goerr.V("session_id", sessionID))
	}

	msgs := make([]model.Message, 0, len(raw))
	for _, item := range raw {
		var msg model.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, goerr.Wrap(err, "failed to decode history message", goerr.V("session_id", sessionID))
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (h *RedisHistory) Append(ctx context.Context, sessionID string, msgs ...model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	values := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return goerr.Wrap(err, "failed to encode history message", goerr.V("session_id", sessionID))
		}
		values = append(values, data)
	}

	key := historyKey(sessionID)
	_, err := h.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -h.maxMessages, -1)
		pipe.Expire(ctx, key, h.ttl)
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to append history", goerr.V("session_id", sessionID))
	}
	return nil
}

func (h *RedisHistory) Clear(ctx context.Context, sessionID string) error {
	if err := h.rdb.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return goerr.Wrap(err, "failed to clear history", goerr.V("session_id", sessionID))
	}
	return nil
}
