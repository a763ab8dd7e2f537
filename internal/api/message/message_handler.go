package message

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/messagely/messagely-server/internal/api"
	"github.com/messagely/messagely-server/internal/api/auth"
	"github.com/messagely/messagely-server/internal/types"
)

// SendMessageRequest is the POST /messages body. There is deliberately no
// from_username field: the sender is always the authenticated caller.
type SendMessageRequest struct {
	ToUsername string `json:"to_username"`
	Body       string `json:"body"`
}

type MessageHandler struct {
	service MessageService
	logger  *slog.Logger
}

func NewMessageHandler(service MessageService, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		logger:  logger,
		service: service,
	}
}

func (h *MessageHandler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, ok := auth.GetUsernameFromContext(r.Context())
	if !ok || username == "" {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return username, true
}

func messageID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "invalid message id")
		return uuid.Nil, false
	}
	return id, true
}

// SendMessage handles POST /messages.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	callerUsername, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if strings.TrimSpace(req.ToUsername) == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "to_username is required")
		return
	}

	msg, err := h.service.SendMessage(r.Context(), callerUsername, req.ToUsername, req.Body)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrNotFound):
			api.ErrorResponse(w, r, http.StatusNotFound, "recipient not found")
		case errors.Is(err, types.ErrValidation):
			api.ErrorResponse(w, r, http.StatusBadRequest, "message body must not be empty")
		default:
			h.logger.ErrorContext(r.Context(), "Failed to send message", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to send message")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusCreated, map[string]interface{}{"message": msg})
}

// GetMessage handles GET /messages/{id}.
func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	callerUsername, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := messageID(w, r)
	if !ok {
		return
	}

	msg, err := h.service.ViewMessage(r.Context(), callerUsername, id)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrNotFound):
			api.ErrorResponse(w, r, http.StatusNotFound, "message not found")
		case errors.Is(err, types.ErrForbidden):
			api.ErrorResponse(w, r, http.StatusForbidden, "you are not a participant of this message")
		default:
			h.logger.ErrorContext(r.Context(), "Failed to get message", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to get message")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{"message": msg})
}

// MarkRead handles POST /messages/{id}/read.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	callerUsername, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := messageID(w, r)
	if !ok {
		return
	}

	msg, err := h.service.MarkMessageRead(r.Context(), callerUsername, id)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrNotFound):
			api.ErrorResponse(w, r, http.StatusNotFound, "message not found")
		case errors.Is(err, types.ErrForbidden):
			api.ErrorResponse(w, r, http.StatusForbidden, "only the recipient may mark a message read")
		default:
			h.logger.ErrorContext(r.Context(), "Failed to mark message read", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to mark message read")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{"message": msg})
}

// Inbox handles GET /messages/inbox.
func (h *MessageHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	callerUsername, ok := h.caller(w, r)
	if !ok {
		return
	}

	messages, err := h.service.ListInbox(r.Context(), callerUsername)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list inbox", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to list inbox")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{"messages": messages})
}

// Outbox handles GET /messages/outbox.
func (h *MessageHandler) Outbox(w http.ResponseWriter, r *http.Request) {
	callerUsername, ok := h.caller(w, r)
	if !ok {
		return
	}

	messages, err := h.service.ListOutbox(r.Context(), callerUsername)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list outbox", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to list outbox")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{"messages": messages})
}
