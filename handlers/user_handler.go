package handlers

import (
	"net/http"

	"houseparty-server/middleware"
	"houseparty-server/models"
	"houseparty-server/services"
)

type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	user, err := h.users.Get(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"user": user.Public()})
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input services.ProfileUpdate
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	user, err := h.users.UpdateProfile(r.Context(), userID, input)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"user": user.Public()})
}

func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var patch models.SettingsPatch
	if err := decode(r, &patch); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	settings, err := h.users.UpdateSettings(r.Context(), userID, patch)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"settings": settings})
}

type deviceTokenInput struct {
	Token string `json:"token"`
}

func (h *UserHandler) RegisterDeviceToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input deviceTokenInput
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.users.RegisterDeviceToken(r.Context(), userID, input.Token); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"message": "FCM token registered successfully"})
}

func (h *UserHandler) RemoveDeviceToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input deviceTokenInput
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.users.RemoveDeviceToken(r.Context(), userID, input.Token); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"message": "FCM token removed successfully"})
}

func (h *UserHandler) FriendsInHouse(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	friends, err := h.users.FriendsInHouse(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"friends": friends})
}
