package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"houseparty-server/middleware"
	apierrors "houseparty-server/utils/errors"
)

const maxBodyBytes = 1 << 20

// envelope is merged into every successful response.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	if _, ok := body["success"]; !ok {
		body["success"] = true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || err == io.EOF {
		return nil
	}
	return apierrors.ErrInvalidInput.WithDetails(err.Error())
}

// currentUser returns the id placed on the context by the JWT middleware.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.UserID(r.Context())
	if !ok {
		middleware.WriteError(w, r, apierrors.ErrUnauthorized)
	}
	return id, ok
}
