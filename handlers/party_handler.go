package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"houseparty-server/middleware"
	"houseparty-server/services"
)

type PartyHandler struct {
	parties *services.PartyService
}

func NewPartyHandler(parties *services.PartyService) *PartyHandler {
	return &PartyHandler{parties: parties}
}

func sessionBody(s *services.PartySession) envelope {
	return envelope{
		"party":     s.Party,
		"token":     s.Credential.Token,
		"uid":       s.Credential.UID,
		"expiresAt": s.Credential.ExpiresAt,
	}
}

func (h *PartyHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input struct {
		Name            string `json:"name"`
		MaxParticipants int    `json:"maxParticipants"`
	}
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	session, err := h.parties.Create(r.Context(), userID, input.Name, input.MaxParticipants)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionBody(session))
}

func (h *PartyHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	parties, err := h.parties.List(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"parties": parties})
}

func (h *PartyHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	party, err := h.parties.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"party": party})
}

func (h *PartyHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	session, err := h.parties.Join(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	body := sessionBody(session)
	body["message"] = "Joined party successfully"
	if session.AlreadyMember {
		body["message"] = "Already in party"
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *PartyHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	party, err := h.parties.Leave(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"message": "Left party successfully", "party": party})
}

func (h *PartyHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var target services.Target
	if err := decode(r, &target); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	inv, err := h.parties.Invite(r.Context(), mux.Vars(r)["id"], userID, target)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"message": "Invitation sent successfully", "invitation": inv})
}

func (h *PartyHandler) Invitations(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	invitations, err := h.parties.Invitations(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"invitations": invitations})
}

func (h *PartyHandler) RespondToInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input struct {
		Accept bool `json:"accept"`
	}
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	inv, session, err := h.parties.RespondToInvitation(r.Context(), mux.Vars(r)["id"], userID, input.Accept)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if session == nil {
		writeJSON(w, http.StatusOK, envelope{"message": "Invitation declined", "invitation": inv})
		return
	}
	body := sessionBody(session)
	body["message"] = "Invitation accepted"
	body["invitation"] = inv
	writeJSON(w, http.StatusOK, body)
}
