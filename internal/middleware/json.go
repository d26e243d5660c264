package middleware

import (
	"encoding/json"
	"net/http"

	"edu-auth-service/internal/model"
)

// writeJSONError emits the standard error envelope. Middleware cannot borrow
// the handler package's writers without an import cycle, so it carries its
// own minimal one.
func writeJSONError(w http.ResponseWriter, status int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   apiErr,
	})
}
