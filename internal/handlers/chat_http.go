package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/studycrew-backend/internal/auth"
	"github.com/AnshRaj112/studycrew-backend/internal/chat"
	"github.com/AnshRaj112/studycrew-backend/internal/metrics"
	"github.com/AnshRaj112/studycrew-backend/internal/models"
	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

// ErrorResponse is the failure body of every chat endpoint.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type HistoryResponse struct {
	Success  bool               `json:"success"`
	Messages []protocol.Message `json:"messages"`
	HasMore  bool               `json:"has_more"`
}

type MessageResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    *protocol.Message `json:"data,omitempty"`
}

type editMessageBody struct {
	Text    string `json:"text"`
	GroupID string `json:"groupId"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(kind chat.ErrorKind) int {
	switch kind {
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindUnauthenticated:
		return http.StatusUnauthorized
	case chat.KindUnauthorized:
		return http.StatusForbidden
	case chat.KindNotFound:
		return http.StatusNotFound
	case chat.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a chat error onto the HTTP status of its kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ce := chat.AsError(err)
	metrics.Errors.WithLabelValues(string(ce.Kind)).Inc()
	if ce.Kind == chat.KindInternal {
		log.Printf("chat_http: %s %s failed: %v", r.Method, r.URL.Path, ce)
	}
	writeJSON(w, statusFor(ce.Kind), ErrorResponse{
		Success: false,
		Message: ce.Message,
		Code:    string(ce.Kind),
	})
}

// actorFrom returns the identity attached by the auth middleware.
func actorFrom(w http.ResponseWriter, r *http.Request) (chat.Actor, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, r, chat.AuthenticationError("authentication token is required", auth.ErrMissingToken))
		return chat.Actor{}, false
	}
	return chat.Actor{UserID: id.UserID, Username: id.Username}, true
}

func wireMessages(msgs []models.Message) []protocol.Message {
	out := make([]protocol.Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].ToWire())
	}
	return out
}

// GetMessages handles GET /api/messages/groups/{groupID}/messages.
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, chat.ValidationError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	msgs, hasMore, err := h.svc.FetchMessages(r.Context(), actor,
		chi.URLParam(r, "groupID"), limit, strings.TrimSpace(r.URL.Query().Get("before")))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Success:  true,
		Messages: wireMessages(msgs),
		HasMore:  hasMore,
	})
}

// GetMessage handles GET /api/messages/groups/{groupID}/messages/{messageID}.
// Unlike history it also returns tombstones.
func (h *ChatHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	msg, err := h.svc.Message(r.Context(), actor, chi.URLParam(r, "groupID"), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	wire := msg.ToWire()
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "ok", Data: &wire})
}

// SendMessage handles POST /api/messages/groups/{groupID}/messages. It runs
// the same pipeline as the socket event, broadcast included.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req protocol.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, chat.ValidationError("invalid request body"))
		return
	}
	req.GroupID = chi.URLParam(r, "groupID")

	msg, err := h.svc.SendMessage(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	wire := msg.ToWire()
	writeJSON(w, http.StatusCreated, MessageResponse{Success: true, Message: "Message sent", Data: &wire})
}

// EditMessage handles PUT /api/messages/messages/{messageID}.
func (h *ChatHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body editMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, chat.ValidationError("invalid request body"))
		return
	}

	msg, err := h.svc.EditMessage(r.Context(), actor, protocol.EditMessageRequest{
		MessageID: chi.URLParam(r, "messageID"),
		Text:      body.Text,
		GroupID:   body.GroupID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	wire := msg.ToWire()
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Message updated", Data: &wire})
}

// DeleteMessage handles DELETE /api/messages/messages/{messageID}?groupId=.
func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	_, err := h.svc.DeleteMessage(r.Context(), actor, protocol.DeleteMessageRequest{
		MessageID: chi.URLParam(r, "messageID"),
		GroupID:   r.URL.Query().Get("groupId"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Message deleted"})
}
