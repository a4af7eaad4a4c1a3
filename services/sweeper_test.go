package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseparty-server/models"
	"houseparty-server/store"
)

func TestSweepExpiresInvitationsAndOTPs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.Invitations.Create(ctx, &models.Invitation{
		ID: "old", Kind: models.KindFriend, SenderID: "a", ReceiverID: "b",
		Status: models.StatusPending, ExpiresAt: now.Add(-time.Minute),
	}))
	require.NoError(t, st.Invitations.Create(ctx, &models.Invitation{
		ID: "fresh", Kind: models.KindFriend, SenderID: "a", ReceiverID: "c",
		Status: models.StatusPending, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, st.OTPs.Replace(ctx, &models.OTP{
		ID: "otp", Email: "a@x.com", Purpose: models.PurposeEmailVerification, ExpiresAt: now.Add(-time.Second),
	}))

	sweeper := NewSweeper(st.OTPs, st.Invitations)
	sweeper.now = func() time.Time { return now }
	sweeper.Sweep(ctx)

	old, err := st.Invitations.FindByID(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, old.Status)
	fresh, err := st.Invitations.FindByID(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, fresh.Status)

	_, err = st.OTPs.FindActive(ctx, "a@x.com", models.PurposeEmailVerification, now.Add(-time.Hour))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	st := store.NewMemory()
	sweeper := NewSweeper(st.OTPs, st.Invitations)
	assert.Error(t, sweeper.Start("not a schedule"))

	require.NoError(t, sweeper.Start("@every 1h"))
	sweeper.Stop()
}

func TestOTPIssueReplacesEarlierCode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, err := env.otps.Issue(ctx, "a@x.com", models.PurposePasswordReset)
	require.NoError(t, err)
	second, err := env.otps.Issue(ctx, "a@x.com", models.PurposePasswordReset)
	require.NoError(t, err)

	assert.Error(t, env.otps.Consume(ctx, "a@x.com", models.PurposePasswordReset, first))
	// codes are scoped per purpose
	assert.Error(t, env.otps.Consume(ctx, "a@x.com", models.PurposeEmailVerification, second))
	assert.NoError(t, env.otps.Consume(ctx, "a@x.com", models.PurposePasswordReset, second))
}

func TestOTPExpires(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	code, err := env.otps.Issue(ctx, "a@x.com", models.PurposeEmailVerification)
	require.NoError(t, err)

	env.otps.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	assert.Error(t, env.otps.Consume(ctx, "a@x.com", models.PurposeEmailVerification, code))
}
