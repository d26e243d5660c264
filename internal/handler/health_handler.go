package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"edu-auth-service/internal/database"
	"edu-auth-service/internal/model"
)

// HealthHandler reports liveness of the service and its two backing stores.
type HealthHandler struct {
	dbCheck    func(ctx context.Context) error
	cacheCheck func(ctx context.Context) error
}

func NewHealthHandler(db *database.DB, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{
		dbCheck: db.Health,
		cacheCheck: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{
		"database": "ok",
		"cache":    "ok",
	}
	status := http.StatusOK

	if err := h.dbCheck(ctx); err != nil {
		checks["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	if err := h.cacheCheck(ctx); err != nil {
		checks["cache"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusOK {
		writeSuccess(w, status, map[string]any{
			"status": "ok",
			"checks": checks,
		}, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Data: map[string]any{
			"status": "degraded",
			"checks": checks,
		},
		Error: &model.APIError{
			Code:    "SERVICE_UNAVAILABLE",
			Message: "One or more dependencies are unavailable",
		},
	})
}
