package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "houseparty-server/utils/errors"
)

const (
	testAgoraAppID = "970CA35de60c44645bbae8a215061b33"
	testAgoraCert  = "5CFd2fd1755d40ecb72977518be15d3b"
)

func fixedIssuer(now time.Time) *VideoTokenIssuer {
	v := NewVideoTokenIssuer(testAgoraAppID, testAgoraCert, time.Hour)
	v.now = func() time.Time { return now }
	return v
}

func TestVideoTokenIssue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cred, err := fixedIssuer(now).Issue("party_1", 2882341273, RolePublisher)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(cred.Token, "007"), cred.Token)
	assert.Equal(t, uint32(2882341273), cred.UID)
	assert.Equal(t, "party_1", cred.ChannelName)
	assert.Equal(t, int64(3600), cred.ExpiresIn)
	assert.Equal(t, now.Add(time.Hour).Unix(), cred.ExpiresAt)

	other, err := fixedIssuer(now).Issue("party_2", 2882341273, RolePublisher)
	require.NoError(t, err)
	assert.NotEqual(t, cred.Token, other.Token)
}

func TestVideoTokenSubscriber(t *testing.T) {
	cred, err := fixedIssuer(time.Now()).Issue("c", 1, RoleSubscriber)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cred.Token, "007"))
}

func TestVideoTokenRequiresConfiguration(t *testing.T) {
	_, err := NewVideoTokenIssuer("", "", time.Hour).Issue("c", 1, RolePublisher)
	assert.ErrorIs(t, err, apierrors.ErrVideoNotConfigured)

	_, err = fixedIssuer(time.Now()).Issue(" ", 1, RolePublisher)
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)

	_, err = NewVideoTokenIssuer("app-id", "app-cert", time.Hour).Issue("c", 1, RolePublisher)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Status)
}

func TestUIDForUser(t *testing.T) {
	assert.Equal(t, uint32(0x65a1b2c3), UIDForUser("65a1b2c3d4e5f60718293a4b"))
	assert.Equal(t, UIDForUser("not-hex-id"), UIDForUser("not-hex-id"))
}
