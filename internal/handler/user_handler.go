package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"edu-auth-service/internal/middleware"
	"edu-auth-service/internal/model"
	"edu-auth-service/internal/service"
	"edu-auth-service/pkg/apierror"
)

// UserHandler exposes the admin-only user management surface.
type UserHandler struct {
	service *service.AuthService
}

func NewUserHandler(service *service.AuthService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"users": users}, nil)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}

// SetActive enables or disables an account. An admin cannot disable their own
// account; that would lock the last key inside the safe.
func (h *UserHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body", ""))
		return
	}

	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("authentication required"))
		return
	}
	if !payload.Active && identity.ID == userID {
		writeError(w, apierror.BadRequest("cannot deactivate your own account", "id"))
		return
	}

	actor := model.AuditActor{UserID: identity.ID, Username: identity.Username, IP: clientIP(r)}
	if err := h.service.SetUserActive(r.Context(), userID, payload.Active, actor); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"id": userID, "active": payload.Active}, nil)
}

func pathUserID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		return 0, apierror.BadRequest("user id is required", "id")
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, apierror.BadRequest("user id must be a positive integer", "id")
	}
	return id, nil
}
