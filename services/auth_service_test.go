package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseparty-server/models"
	apierrors "houseparty-server/utils/errors"
)

func TestRegisterVerifyLoginScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	user, err := env.auth.Register(ctx, RegisterInput{
		Username: "alice",
		Email:    "alice@x.com",
		Phone:    "+15551234567",
		Password: "pw12345",
	})
	require.NoError(t, err)
	assert.False(t, user.IsEmailVerified)
	assert.Equal(t, models.DefaultSettings(), user.Settings)
	require.Equal(t, 1, env.mailer.count())
	assert.Contains(t, env.mailer.sent[0].body, env.lastCode())

	verified, pair, err := env.auth.VerifyEmail(ctx, "alice@x.com", env.lastCode())
	require.NoError(t, err)
	assert.True(t, verified.IsEmailVerified)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	_, pair, err = env.auth.Login(ctx, "alice@x.com", "pw12345")
	require.NoError(t, err)
	id, ok := env.tokens.Verify(ctx, pair.AccessToken, AccessToken)
	assert.True(t, ok)
	assert.Equal(t, user.ID, id)

	_, _, err = env.auth.Login(ctx, "alice@x.com", "wrongpw")
	assert.ErrorIs(t, err, apierrors.ErrInvalidCredentials)
	_, _, err = env.auth.Login(ctx, "nobody@x.com", "pw12345")
	assert.ErrorIs(t, err, apierrors.ErrInvalidCredentials)
}

func TestOTPIsSingleUse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "alice")
	code := env.lastCode()

	_, _, err := env.auth.VerifyEmail(ctx, "alice@x.com", code)
	require.NoError(t, err)
	_, _, err = env.auth.VerifyEmail(ctx, "alice@x.com", code)
	assert.ErrorIs(t, err, apierrors.ErrInvalidCode)
}

func TestOTPAttemptLimitDiscardsCode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "alice")
	code := env.lastCode()

	for i := 0; i < 3; i++ {
		_, _, err := env.auth.VerifyEmail(ctx, "alice@x.com", "000000")
		assert.ErrorIs(t, err, apierrors.ErrInvalidCode)
	}
	_, _, err := env.auth.VerifyEmail(ctx, "alice@x.com", code)
	assert.ErrorIs(t, err, apierrors.ErrInvalidCode)
}

func TestRegisterConflictPrecedence(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "alice")
	env.register(t, "bob")

	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"email wins over username", RegisterInput{"bob", "alice@x.com", "+1", "pw12345"}, apierrors.ErrEmailInUse},
		{"username wins over phone", RegisterInput{"alice", "new@x.com", "+1555bob", "pw12345"}, apierrors.ErrUsernameTaken},
		{"phone", RegisterInput{"carol", "carol@x.com", "+1555alice", "pw12345"}, apierrors.ErrPhoneInUse},
		{"email is case insensitive", RegisterInput{"dave", "ALICE@X.COM", "+2", "pw12345"}, apierrors.ErrEmailInUse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auth.Register(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for name, in := range map[string]RegisterInput{
		"missing phone":  {"alice", "alice@x.com", "", "pw12345"},
		"short username": {"al", "alice@x.com", "+1", "pw12345"},
		"bad email":      {"alice", "not-an-email", "+1", "pw12345"},
		"short password": {"alice", "alice@x.com", "+1", "pw"},
		"display name":   {"alice", "Alice <alice@x.com>", "+1", "pw12345"},
		"header in name": {"x\r\nBcc: v@evil.com\r\n\r\nPHISH", "alice@x.com", "+1", "pw12345"},
		"tab in name":    {"al\tice", "alice@x.com", "+1", "pw12345"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := env.auth.Register(ctx, in)
			var apiErr *apierrors.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, 400, apiErr.Status)
		})
	}
}

func TestUpdateProfileRejectsControlCharacters(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	name := "eve\nBcc: v@evil.com"
	_, err := env.users.UpdateProfile(ctx, alice.ID, ProfileUpdate{Username: &name})
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)

	u, err := env.users.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestRegisterSurvivesMailFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = assert.AnError

	u := env.register(t, "alice")
	stored, err := env.store.Users.FindByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Username)
}

func TestResendOTP(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "alice")
	first := env.lastCode()

	require.NoError(t, env.auth.ResendOTP(ctx, "alice@x.com", ""))
	second := env.lastCode()
	require.NotEqual(t, first, second)

	_, _, err := env.auth.VerifyEmail(ctx, "alice@x.com", first)
	assert.ErrorIs(t, err, apierrors.ErrInvalidCode)
	_, _, err = env.auth.VerifyEmail(ctx, "alice@x.com", second)
	require.NoError(t, err)

	assert.ErrorIs(t, env.auth.ResendOTP(ctx, "alice@x.com", models.PurposeEmailVerification), apierrors.ErrAlreadyVerified)
	assert.ErrorIs(t, env.auth.ResendOTP(ctx, "ghost@x.com", ""), apierrors.ErrUserNotFound)
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "alice")

	require.NoError(t, env.auth.ForgotPassword(ctx, "alice@x.com"))
	code := env.lastCode()
	assert.Equal(t, resetEmailSubject, env.mailer.sent[len(env.mailer.sent)-1].subject)

	// unknown emails are accepted without sending anything
	sent := env.mailer.count()
	require.NoError(t, env.auth.ForgotPassword(ctx, "ghost@x.com"))
	assert.Equal(t, sent, env.mailer.count())

	require.NoError(t, env.auth.ResetPassword(ctx, "alice@x.com", code, "newpass1"))
	assert.ErrorIs(t, env.auth.ResetPassword(ctx, "alice@x.com", code, "newpass2"), apierrors.ErrInvalidCode)

	_, _, err := env.auth.Login(ctx, "alice@x.com", "newpass1")
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u := env.register(t, "alice")

	assert.ErrorIs(t, env.auth.ChangePassword(ctx, u.ID, "wrong", "newpass1"), apierrors.ErrIncorrectPassword)
	require.NoError(t, env.auth.ChangePassword(ctx, u.ID, "pw12345", "newpass1"))

	_, _, err := env.auth.Login(ctx, "alice@x.com", "pw12345")
	assert.ErrorIs(t, err, apierrors.ErrInvalidCredentials)
	_, _, err = env.auth.Login(ctx, "alice@x.com", "newpass1")
	assert.NoError(t, err)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u := env.register(t, "alice")
	pair, err := env.tokens.IssuePair(u.ID)
	require.NoError(t, err)

	next, err := env.auth.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, next.AccessToken)

	_, err = env.auth.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, apierrors.ErrInvalidToken)
}
