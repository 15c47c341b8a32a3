package cache

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/camuchapp/storeassist/pkg/adapter"
	"github.com/camuchapp/storeassist/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const missAnswer = "Lo siento, no tengo esa información en mi cache rápido."

// Loader opens the snapshot. The content is a flat JSON object of key to answer text.
type Loader func(ctx context.Context) (io.ReadCloser, error)

// FileLoader reads the snapshot from a local path
func FileLoader(path string) Loader {
	return func(ctx context.Context) (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open cache snapshot", goerr.V("path", path))
		}
		return f, nil
	}
}

// StorageLoader reads the snapshot from an object in Cloud Storage
func StorageLoader(storage adapter.Storage, bucket, object string) Loader {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return storage.Get(ctx, bucket, object)
	}
}

// Agent serves canned answers from an in-memory snapshot that is replaced wholesale on reload
type Agent struct {
	load      Loader
	hotReload bool

	mu      sync.RWMutex
	entries map[string]string
}

type AgentOption func(*Agent)

// WithHotReload reloads the snapshot before every lookup
func WithHotReload(enabled bool) AgentOption {
	return func(a *Agent) {
		a.hotReload = enabled
	}
}

// New loads the snapshot once. A snapshot that cannot be read leaves the agent empty rather
// than failing, so every lookup returns the miss answer until a reload succeeds.
func New(ctx context.Context, load Loader, opts ...AgentOption) *Agent {
	a := &Agent{
		load:    load,
		entries: map[string]string{},
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.Reload(ctx); err != nil {
		logging.From(ctx).Warn("cache snapshot not loaded", "error", err)
	}
	return a
}

// Reload reads the snapshot again. On error the previous entries stay in place.
func (a *Agent) Reload(ctx context.Context) error {
	r, err := a.load(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	var entries map[string]string
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return goerr.Wrap(err, "failed to decode cache snapshot")
	}
	if entries == nil {
		entries = map[string]string{}
	}

	a.mu.Lock()
	a.entries = entries
	a.mu.Unlock()

	logging.From(ctx).Debug("cache snapshot loaded", "entries", len(entries))
	return nil
}

// Lookup returns the exact entry for key, else the entry of the longest snapshot key
// contained in key, else a fixed miss answer.
func (a *Agent) Lookup(ctx context.Context, key string) string {
	if a.hotReload {
		if err := a.Reload(ctx); err != nil {
			logging.From(ctx).Warn("cache reload failed, serving previous snapshot", "error", err)
		}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if text, ok := a.entries[key]; ok {
		return text
	}

	var best string
	for k := range a.entries {
		if k == "" || !strings.Contains(key, k) {
			continue
		}
		if len(k) > len(best) || (len(k) == len(best) && k < best) {
			best = k
		}
	}
	if best != "" {
		return a.entries[best]
	}

	return missAnswer
}

// Keys returns the snapshot keys currently loaded
func (a *Agent) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	keys := make([]string, 0, len(a.entries))
	for k := range a.entries {
		keys = append(keys, k)
	}
	return keys
}
