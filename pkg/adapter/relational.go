package adapter

import "context"

// RelationalStore runs a single read-only statement and returns rows as column→value maps
type RelationalStore interface {
	Execute(ctx context.Context, query string) ([]map[string]any, error)
}
