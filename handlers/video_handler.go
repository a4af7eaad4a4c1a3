package handlers

import (
	"net/http"
	"strings"

	"houseparty-server/middleware"
	"houseparty-server/services"
	apierrors "houseparty-server/utils/errors"
)

type VideoHandler struct {
	video *services.VideoTokenIssuer
}

func NewVideoHandler(video *services.VideoTokenIssuer) *VideoHandler {
	return &VideoHandler{video: video}
}

// Token issues a publisher credential for any channel. uid defaults to one
// derived from the caller's id.
func (h *VideoHandler) Token(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input struct {
		ChannelName string `json:"channelName"`
		UID         uint32 `json:"uid"`
	}
	if err := decode(r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	input.ChannelName = strings.TrimSpace(input.ChannelName)
	if input.ChannelName == "" {
		middleware.WriteError(w, r, apierrors.Invalid("Channel name is required"))
		return
	}
	uid := input.UID
	if uid == 0 {
		uid = services.UIDForUser(userID)
	}
	cred, err := h.video.Issue(input.ChannelName, uid, services.RolePublisher)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"token":       cred.Token,
		"uid":         cred.UID,
		"channelName": cred.ChannelName,
		"expiresIn":   cred.ExpiresIn,
	})
}
