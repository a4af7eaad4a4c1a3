package services

import (
	"errors"
	"hash/crc32"
	"strconv"
	"strings"
	"time"

	rtctokenbuilder "github.com/AgoraIO-Community/go-tokenbuilder/rtctokenbuilder2"

	"houseparty-server/models"
	apierrors "houseparty-server/utils/errors"
)

var errMalformedAgoraCredentials = errors.New("agora app id and certificate must be 32 hex characters")

type VideoRole int

const (
	RolePublisher VideoRole = iota + 1
	RoleSubscriber
)

func (r VideoRole) agoraRole() rtctokenbuilder.Role {
	if r == RolePublisher {
		return rtctokenbuilder.RolePublisher
	}
	return rtctokenbuilder.RoleSubscriber
}

// VideoTokenIssuer builds Agora RTC access tokens.
type VideoTokenIssuer struct {
	appID       string
	certificate string
	ttl         time.Duration
	now         func() time.Time
}

func NewVideoTokenIssuer(appID, certificate string, ttl time.Duration) *VideoTokenIssuer {
	return &VideoTokenIssuer{
		appID:       appID,
		certificate: certificate,
		ttl:         ttl,
		now:         time.Now,
	}
}

func (v *VideoTokenIssuer) Configured() bool {
	return v.appID != "" && v.certificate != ""
}

// UIDForUser derives the numeric video uid from the first eight hex
// characters of the user id.
func UIDForUser(userID string) uint32 {
	prefix := userID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	n, err := strconv.ParseUint(prefix, 16, 32)
	if err != nil {
		return crc32.ChecksumIEEE([]byte(userID))
	}
	return uint32(n)
}

// Issue returns a credential for (channel, uid, role) expiring now+TTL. The
// token and every privilege it grants share that expiry.
func (v *VideoTokenIssuer) Issue(channel string, uid uint32, role VideoRole) (models.VideoCredential, error) {
	if !v.Configured() {
		return models.VideoCredential{}, apierrors.ErrVideoNotConfigured
	}
	if strings.TrimSpace(channel) == "" {
		return models.VideoCredential{}, apierrors.Invalid("Channel name is required")
	}
	ttl := uint32(v.ttl.Seconds())
	token, err := rtctokenbuilder.BuildTokenWithUid(v.appID, v.certificate, channel, uid, role.agoraRole(), ttl, ttl)
	if err != nil {
		return models.VideoCredential{}, apierrors.Internal(err)
	}
	// the builder answers malformed app ids and certificates with an empty token
	if token == "" {
		return models.VideoCredential{}, apierrors.Internal(errMalformedAgoraCredentials)
	}
	return models.VideoCredential{
		Token:       token,
		UID:         uid,
		ChannelName: channel,
		ExpiresIn:   int64(ttl),
		ExpiresAt:   v.now().Add(v.ttl).Unix(),
	}, nil
}
