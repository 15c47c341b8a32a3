package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/camuchapp/storeassist/pkg/usecase/conversation"
	"github.com/camuchapp/storeassist/pkg/utils/logging"
	"github.com/gorilla/websocket"
)

// handleWebSocket answers every text frame with one JSON frame. A frame is either plain text
// or a JSON object shaped like the body of POST /mcp/query. The session_id query parameter is
// used when the frame does not carry one. Frames share the POST body size limit.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := logging.From(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBody)

	sessionID := r.URL.Query().Get("session_id")

	for {
		msgType, data, err := conn.ReadMessage()
		if errors.Is(err, websocket.ErrReadLimit) {
			logger.Warn("websocket frame too large", "limit", maxRequestBody)
			return
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket closed unexpectedly", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			if err := conn.WriteJSON(errorResponse{Error: "only text frames are supported"}); err != nil {
				return
			}
			continue
		}

		req := parseFrame(data)
		if req.SessionID == "" {
			req.SessionID = sessionID
		}

		var out any
		reply, err := s.assistant.Ask(r.Context(), req.SessionID, req.Message)
		switch {
		case errors.Is(err, conversation.ErrEmptyMessage):
			out = errorResponse{Error: "message is required"}
		case err != nil:
			logger.Error("failed to answer websocket message", "error", err)
			out = errorResponse{Error: internalErrorMessage}
		default:
			out = reply
		}

		if err := conn.WriteJSON(out); err != nil {
			logger.Warn("failed to write websocket response", "error", err)
			return
		}
	}
}

func parseFrame(data []byte) queryRequest {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "{") {
		var req queryRequest
		if err := json.Unmarshal([]byte(text), &req); err == nil {
			return req
		}
	}
	return queryRequest{Message: text}
}
