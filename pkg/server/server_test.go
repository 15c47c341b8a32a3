package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/camuchapp/storeassist/pkg/server"
	"github.com/camuchapp/storeassist/pkg/usecase/conversation"
	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type call struct {
	sessionID string
	message   string
}

type mockAssistant struct {
	askFunc func(ctx context.Context, sessionID, message string) (*conversation.Reply, error)
	calls   []call
}

func (m *mockAssistant) Ask(ctx context.Context, sessionID, message string) (*conversation.Reply, error) {
	m.calls = append(m.calls, call{sessionID: sessionID, message: message})
	if m.askFunc != nil {
		return m.askFunc(ctx, sessionID, message)
	}
	return &conversation.Reply{
		Response: &model.Response{
			Answer:    "Abrimos de 9 a 18 hs.",
			AgentUsed: model.IntentCached,
			Trace:     []string{`📥 Mensaje recibido: "` + message + `"`, "📤 Enviando respuesta final."},
		},
		SessionID: sessionID,
	}, nil
}

type queryResult struct {
	Answer    any      `json:"answer"`
	AgentUsed string   `json:"agentUsed"`
	Trace     []string `json:"trace"`
	SQL       string   `json:"sql"`
	SessionID string   `json:"sessionId"`
	Error     string   `json:"error"`
}

func postQuery(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, queryResult) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp/query", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out queryResult
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestHealthz(t *testing.T) {
	h := server.New(&mockAssistant{}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	gt.Equal(t, w.Code, http.StatusOK)
	gt.True(t, w.Header().Get("X-Request-Id") != "")
}

func TestQuery(t *testing.T) {
	assistant := &mockAssistant{}
	h := server.New(assistant).Handler()

	w, out := postQuery(t, h, `{"message":"¿a qué hora abren?","sessionId":"abc"}`)
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, out.Answer, any("Abrimos de 9 a 18 hs."))
	gt.Equal(t, out.AgentUsed, "CACHED")
	gt.A(t, out.Trace).Length(2)
	gt.Equal(t, out.SessionID, "abc")
	gt.Equal(t, out.SQL, "")

	gt.A(t, assistant.calls).Length(1)
	gt.Equal(t, assistant.calls[0], call{sessionID: "abc", message: "¿a qué hora abren?"})
}

func TestQueryRows(t *testing.T) {
	assistant := &mockAssistant{askFunc: func(ctx context.Context, sessionID, message string) (*conversation.Reply, error) {
		return &conversation.Reply{Response: &model.Response{
			Answer:    []model.Row{{"nombre": "Camisa", "stock": 3}},
			AgentUsed: model.IntentSQL,
			Trace:     []string{"a", "b"},
			SQL:       "SELECT nombre, stock FROM producto LIMIT 10",
		}}, nil
	}}
	h := server.New(assistant).Handler()

	w, out := postQuery(t, h, `{"message":"stock de camisas"}`)
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, out.AgentUsed, "SQL")
	gt.Equal(t, out.SQL, "SELECT nombre, stock FROM producto LIMIT 10")

	rows, ok := out.Answer.([]any)
	gt.True(t, ok)
	gt.A(t, rows).Length(1)
}

func TestQueryBadRequest(t *testing.T) {
	testCases := map[string]string{
		"empty message":   `{"message":""}`,
		"blank message":   `{"message":"   "}`,
		"missing message": `{}`,
		"invalid json":    `{"message":`,
	}

	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			assistant := &mockAssistant{}
			h := server.New(assistant).Handler()

			w, out := postQuery(t, h, body)
			gt.Equal(t, w.Code, http.StatusBadRequest)
			gt.True(t, out.Error != "")
			gt.A(t, assistant.calls).Length(0)
		})
	}
}

func TestQueryInternalError(t *testing.T) {
	assistant := &mockAssistant{askFunc: func(ctx context.Context, sessionID, message string) (*conversation.Reply, error) {
		return nil, goerr.New("redis: connection refused")
	}}
	h := server.New(assistant).Handler()

	w, out := postQuery(t, h, `{"message":"hola"}`)
	gt.Equal(t, w.Code, http.StatusInternalServerError)
	gt.Equal(t, out.Error, "Error interno del servidor")
}

func TestQueryEmptyMessageFromAssistant(t *testing.T) {
	assistant := &mockAssistant{askFunc: func(ctx context.Context, sessionID, message string) (*conversation.Reply, error) {
		return nil, goerr.Wrap(conversation.ErrEmptyMessage, "nothing to route")
	}}
	h := server.New(assistant).Handler()

	w, _ := postQuery(t, h, `{"message":"hola"}`)
	gt.Equal(t, w.Code, http.StatusBadRequest)
}

func TestQueryPanic(t *testing.T) {
	assistant := &mockAssistant{askFunc: func(ctx context.Context, sessionID, message string) (*conversation.Reply, error) {
		panic("boom")
	}}
	h := server.New(assistant).Handler()

	w, out := postQuery(t, h, `{"message":"hola"}`)
	gt.Equal(t, w.Code, http.StatusInternalServerError)
	gt.Equal(t, out.Error, "Error interno del servidor")
	gt.False(t, strings.Contains(w.Body.String(), "boom"))
}

func TestCORS(t *testing.T) {
	t.Run("open by default", func(t *testing.T) {
		h := server.New(&mockAssistant{}).Handler()
		req := httptest.NewRequest(http.MethodOptions, "/mcp/query", nil)
		req.Header.Set("Origin", "https://pos.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		gt.Equal(t, w.Code, http.StatusNoContent)
		gt.Equal(t, w.Header().Get("Access-Control-Allow-Origin"), "*")
	})

	t.Run("restricted origins", func(t *testing.T) {
		h := server.New(&mockAssistant{}, server.WithAllowedOrigins("https://pos.example.com")).Handler()

		req := httptest.NewRequest(http.MethodOptions, "/mcp/query", nil)
		req.Header.Set("Origin", "https://pos.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		gt.Equal(t, w.Header().Get("Access-Control-Allow-Origin"), "https://pos.example.com")

		req = httptest.NewRequest(http.MethodOptions, "/mcp/query", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)
		gt.Equal(t, w.Header().Get("Access-Control-Allow-Origin"), "")
	})
}

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	gt.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocket(t *testing.T) {
	assistant := &mockAssistant{}
	srv := httptest.NewServer(server.New(assistant).Handler())
	defer srv.Close()

	conn := dialWS(t, srv, "?session_id=ws-1")

	t.Run("plain text frame", func(t *testing.T) {
		gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("¿a qué hora abren?")))

		var out queryResult
		gt.NoError(t, conn.ReadJSON(&out))
		gt.Equal(t, out.AgentUsed, "CACHED")
		gt.Equal(t, out.SessionID, "ws-1")
		gt.Equal(t, out.Trace[0], `📥 Mensaje recibido: "¿a qué hora abren?"`)
	})

	t.Run("json frame overrides session", func(t *testing.T) {
		gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"ofertas","sessionId":"ws-2"}`)))

		var out queryResult
		gt.NoError(t, conn.ReadJSON(&out))
		gt.Equal(t, out.SessionID, "ws-2")
	})

	t.Run("empty frame", func(t *testing.T) {
		assistant.askFunc = func(ctx context.Context, sessionID, message string) (*conversation.Reply, error) {
			return nil, goerr.Wrap(conversation.ErrEmptyMessage, "nothing to route")
		}
		gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("  ")))

		var out queryResult
		gt.NoError(t, conn.ReadJSON(&out))
		gt.Equal(t, out.Error, "message is required")
	})

	t.Run("assistant failure", func(t *testing.T) {
		assistant.askFunc = func(ctx context.Context, sessionID, message string) (*conversation.Reply, error) {
			return nil, errors.New("unexpected")
		}
		gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hola")))

		var out queryResult
		gt.NoError(t, conn.ReadJSON(&out))
		gt.Equal(t, out.Error, "Error interno del servidor")
	})
}

func TestWebSocketFrameTooLarge(t *testing.T) {
	assistant := &mockAssistant{}
	srv := httptest.NewServer(server.New(assistant).Handler())
	defer srv.Close()

	conn := dialWS(t, srv, "")

	// the server may reset the connection before the whole frame is written
	_ = conn.WriteMessage(websocket.TextMessage, bytes.Repeat([]byte("a"), 1<<20))

	gt.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	gt.Error(t, err)
	gt.False(t, errors.Is(err, os.ErrDeadlineExceeded))
	gt.A(t, assistant.calls).Length(0)
}

func TestMCPTool(t *testing.T) {
	ctx := context.Background()
	assistant := &mockAssistant{}
	srv := httptest.NewServer(server.New(assistant).Handler())
	defer srv.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL + "/mcp"}, nil)
	gt.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	gt.NoError(t, err)
	gt.A(t, tools.Tools).Length(1)
	gt.Equal(t, tools.Tools[0].Name, "ask_store_assistant")

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "ask_store_assistant",
		Arguments: map[string]any{"message": "¿a qué hora abren?", "session_id": "mcp-1"},
	})
	gt.NoError(t, err)
	gt.False(t, result.IsError)
	gt.A(t, result.Content).Length(1)

	text, ok := result.Content[0].(*mcp.TextContent)
	gt.True(t, ok)

	var out queryResult
	gt.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	gt.Equal(t, out.AgentUsed, "CACHED")
	gt.Equal(t, out.SessionID, "mcp-1")
	gt.Equal(t, assistant.calls[0], call{sessionID: "mcp-1", message: "¿a qué hora abren?"})
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	assistant := &mockAssistant{}
	srv := httptest.NewServer(server.New(assistant).Handler())
	defer srv.Close()

	client, err := server.Dial(ctx, srv.URL+"/mcp")
	gt.NoError(t, err)
	defer client.Close()

	reply, err := client.Ask(ctx, "remote-1", "¿a qué hora abren?")
	gt.NoError(t, err)
	gt.Equal(t, reply.AgentUsed, model.IntentCached)
	gt.Equal(t, reply.Answer, any("Abrimos de 9 a 18 hs."))
	gt.Equal(t, reply.SessionID, "remote-1")
	gt.A(t, reply.Trace).Length(2)

	t.Run("remote failure", func(t *testing.T) {
		assistant.askFunc = func(ctx context.Context, sessionID, message string) (*conversation.Reply, error) {
			return nil, errors.New("unexpected")
		}
		_, err := client.Ask(ctx, "", "hola")
		gt.Error(t, err)
	})
}

func TestDialRequiresEndpoint(t *testing.T) {
	_, err := server.Dial(context.Background(), "")
	gt.Error(t, err)
}
