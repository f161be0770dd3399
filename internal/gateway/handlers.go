package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/internal/sessions"
	"github.com/haasonsaas/aide/pkg/models"
)

type chatSendParams struct {
	SessionKey string         `json:"session_key"`
	Text       string         `json:"text"`
	Context    map[string]any `json:"context,omitempty"`
}

type chatHistoryParams struct {
	SessionKey string `json:"session_key"`
	Limit      int    `json:"limit,omitempty"`
}

type sessionsListParams struct {
	AgentID string `json:"agent_id,omitempty"`
}

type sessionsDeleteParams struct {
	SessionKey string `json:"session_key"`
}

type sessionSummary struct {
	SessionKey string    `json:"session_key"`
	AgentID    string    `json:"agent_id"`
	Channel    string    `json:"channel,omitempty"`
	PeerID     string    `json:"peer_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// dispatch routes one authenticated request. A nil return means the
// handler already sent everything (never the case today).
func (s *Server) dispatch(c *wsConn, req *Request) *Response {
	ctx := context.WithValue(c.ctx, observability.MessageIDKey, string(req.ID))

	switch req.Method {
	case "health":
		return s.handleHealth(req)
	case "chat.send":
		return s.handleChatSend(ctx, c, req, false)
	case "chat.send_stream":
		return s.handleChatSend(ctx, c, req, true)
	case "chat.history":
		return s.handleChatHistory(ctx, req)
	case "sessions.list":
		return s.handleSessionsList(ctx, req)
	case "sessions.delete":
		return s.handleSessionsDelete(ctx, req)
	default:
		return errorResponse(req.ID, NewError(CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method)))
	}
}

func (s *Server) handleHealth(req *Request) *Response {
	return successResponse(req.ID, map[string]any{
		"status":         "ok",
		"version":        s.cfg.Version,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"connections":    s.connCount.Load(),
	})
}

// handleChatSend runs one agent turn. In streaming mode the client sees
// chat.start, then chat.delta events as text arrives, then chat.end, and
// only then the RPC response. A failed turn produces an error response as
// its terminal frame instead of chat.end.
func (s *Server) handleChatSend(ctx context.Context, c *wsConn, req *Request, stream bool) *Response {
	var params chatSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, NewError(CodeInvalidParams, "invalid params"))
	}
	if params.Text == "" {
		return errorResponse(req.ID, NewError(CodeInvalidParams, "text is required"))
	}
	if utf8.RuneCountInString(params.Text) > s.cfg.MaxTextChars {
		return errorResponse(req.ID, NewError(CodeInvalidParams,
			fmt.Sprintf("text exceeds %d characters", s.cfg.MaxTextChars)))
	}
	key, err := sessions.Normalize(params.SessionKey)
	if err != nil {
		return errorResponse(req.ID, NewError(CodeInvalidParams, err.Error()))
	}

	messageID := uuid.NewString()

	var onDelta func(string)
	if stream {
		c.notify("chat.start", map[string]any{"message_id": messageID, "session_key": key})
		onDelta = func(delta string) {
			c.notify("chat.delta", map[string]any{"message_id": messageID, "delta": delta})
		}
	}

	reply, err := s.agent.Handle(ctx, key, params.Text, onDelta)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		s.countError("agent")
		s.logger.Error(ctx, "agent turn failed", "error", err, "session_key", key)
		return errorResponse(req.ID, NewError(CodeInternalError, "internal error"))
	}

	if stream {
		c.notify("chat.end", map[string]any{"message_id": messageID, "session_key": key})
		return successResponse(req.ID, map[string]any{"message_id": messageID, "stream": true})
	}

	return successResponse(req.ID, map[string]any{
		"message_id":  messageID,
		"text":        reply,
		"session_key": key,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleChatHistory(ctx context.Context, req *Request) *Response {
	var params chatHistoryParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, NewError(CodeInvalidParams, "invalid params"))
	}
	key, err := sessions.Normalize(params.SessionKey)
	if err != nil {
		return errorResponse(req.ID, NewError(CodeInvalidParams, err.Error()))
	}

	msgs, err := s.sessions.History(ctx, key, params.Limit)
	if err != nil {
		s.countError("sessions")
		return errorResponse(req.ID, NewError(CodeInternalError, "internal error"))
	}
	return successResponse(req.ID, map[string]any{"messages": msgs})
}

func (s *Server) handleSessionsList(ctx context.Context, req *Request) *Response {
	var params sessionsListParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, NewError(CodeInvalidParams, "invalid params"))
		}
	}

	list, err := s.sessions.List(ctx, params.AgentID)
	if err != nil {
		s.countError("sessions")
		return errorResponse(req.ID, NewError(CodeInternalError, "internal error"))
	}

	summaries := make([]sessionSummary, 0, len(list))
	for _, session := range list {
		summaries = append(summaries, summarize(session))
	}
	return successResponse(req.ID, map[string]any{"sessions": summaries})
}

func (s *Server) handleSessionsDelete(ctx context.Context, req *Request) *Response {
	var params sessionsDeleteParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, NewError(CodeInvalidParams, "invalid params"))
	}
	key, err := sessions.Normalize(params.SessionKey)
	if err != nil {
		return errorResponse(req.ID, NewError(CodeInvalidParams, err.Error()))
	}

	if err := s.sessions.Delete(ctx, key); err != nil {
		s.countError("sessions")
		return errorResponse(req.ID, NewError(CodeInternalError, "internal error"))
	}
	return successResponse(req.ID, map[string]any{"deleted": true})
}

func summarize(session *models.Session) sessionSummary {
	return sessionSummary{
		SessionKey: session.Key,
		AgentID:    session.AgentID,
		Channel:    string(session.Channel),
		PeerID:     session.PeerID,
		CreatedAt:  session.CreatedAt,
		UpdatedAt:  session.UpdatedAt,
	}
}

func (s *Server) countError(component string) {
	if s.metrics != nil {
		s.metrics.ErrorCounter.WithLabelValues(component, "internal").Inc()
	}
}
