package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/camuchapp/storeassist/pkg/usecase/conversation"
	"github.com/camuchapp/storeassist/pkg/utils/logging"
	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	internalErrorMessage   = "Error interno del servidor"
)

// Assistant answers one message of an optional conversation session
type Assistant interface {
	Ask(ctx context.Context, sessionID, message string) (*conversation.Reply, error)
}

// Server exposes the assistant over HTTP, WebSocket and MCP
type Server struct {
	assistant      Assistant
	name           string
	version        string
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
	mcp            *mcp.Server
}

type Option func(*Server)

// WithAllowedOrigins restricts CORS and WebSocket origins. Empty allows every origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		for _, o := range origins {
			if o != "" {
				s.allowedOrigins[o] = true
			}
		}
	}
}

// WithImplementation sets the name and version announced to MCP clients
func WithImplementation(name, version string) Option {
	return func(s *Server) {
		s.name = name
		s.version = version
	}
}

func New(assistant Assistant, opts ...Option) *Server {
	s := &Server{
		assistant:      assistant,
		name:           "storeassist",
		version:        "dev",
		allowedOrigins: map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.mcp = newMCPServer(s)
	return s
}

// Handler returns the HTTP handler with every route and middleware installed
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /mcp/query", s.handleQuery)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.mcp
	}, nil))

	return chainMiddlewares(mux,
		s.withCORS,
		withLogging,
		withRecover,
		withRequestID,
	)
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("server started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return goerr.Wrap(err, "server stopped", goerr.V("addr", addr))
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
		defer cancel()

		logging.From(ctx).Info("shutting down server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shutdown server")
		}
		return nil
	}
}

// ServeStdio runs the MCP server over stdin and stdout until the client disconnects
func (s *Server) ServeStdio(ctx context.Context) error {
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp stdio server failed")
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.allowedOrigins[origin]
}
