package user

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/messagely/messagely-server/internal/api"
	"github.com/messagely/messagely-server/internal/types"
)

type UserHandler struct {
	service UserService
	logger  *slog.Logger
}

func NewUserHandler(service UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		logger:  logger,
		service: service,
	}
}

// ListUsers handles GET /users.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list users", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to list users")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{"users": users})
}

// GetUser handles GET /users/{username}.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	user, err := h.service.GetUser(r.Context(), username)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "user not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to get user", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to get user")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]interface{}{"user": user})
}
