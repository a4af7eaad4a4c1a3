package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	apierrors "houseparty-server/utils/errors"
	"houseparty-server/utils/logger"
)

type productionKey struct{}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// ErrorMiddleware recovers panics as 500s and tells WriteError whether
// details may be shown to clients.
func ErrorMiddleware(production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(context.WithValue(r.Context(), productionKey{}, production))
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.FromContext(r.Context()).WithField("panic", rec).Error("panic recovered")
					WriteError(w, r, apierrors.ErrInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes err as the standard failure envelope. Errors that are not
// APIErrors become 500s. Details are dropped in production.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierrors.Internal(err)
	log := logger.FromContext(r.Context())
	if apiErr.Status >= http.StatusInternalServerError {
		log.WithField("code", apiErr.Code).WithField("details", apiErr.Details).Error(apiErr.Message)
	} else {
		log.WithField("code", apiErr.Code).Debug(apiErr.Message)
	}

	body := errorBody{Error: apiErr.Message, Code: apiErr.Code}
	if production, _ := r.Context().Value(productionKey{}).(bool); !production {
		body.Details = apiErr.Details
	}
	writeJSON(w, apiErr.Status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NotFound answers unmatched routes with the error envelope.
func NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, apierrors.ErrNotFound.WithDetails(r.Method+" "+r.URL.Path))
	})
}
