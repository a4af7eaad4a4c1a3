package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"houseparty-server/middleware"
	"houseparty-server/services"
)

type FriendHandler struct {
	friends *services.FriendService
}

func NewFriendHandler(friends *services.FriendService) *FriendHandler {
	return &FriendHandler{friends: friends}
}

func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	friends, err := h.friends.List(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"friends": friends})
}

func (h *FriendHandler) Requests(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	requests, err := h.friends.Requests(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"requests": requests})
}

func (h *FriendHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var target services.Target
	if err := decode(r, &target); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	res, err := h.friends.SendRequest(r.Context(), userID, target)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if res.Accepted {
		writeJSON(w, http.StatusOK, envelope{"message": "Friend request accepted", "invitation": res.Invitation})
		return
	}
	writeJSON(w, http.StatusOK, envelope{"message": "Friend request sent", "invitation": res.Invitation})
}

func (h *FriendHandler) Respond(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input struct {
		InvitationID string `json:"invitationId"`
		Accept       bool   `json:"accept"`
	}
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	inv, err := h.friends.Respond(r.Context(), input.InvitationID, userID, input.Accept)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	message := "Friend request declined"
	if input.Accept {
		message = "Friend request accepted"
	}
	writeJSON(w, http.StatusOK, envelope{"message": message, "invitation": inv})
}

func (h *FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.friends.Remove(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"message": "Friend removed successfully"})
}

func (h *FriendHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	users, err := h.friends.Search(r.Context(), userID, r.URL.Query().Get("query"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"users": users})
}
