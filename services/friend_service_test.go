package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseparty-server/models"
	"houseparty-server/store"
	apierrors "houseparty-server/utils/errors"
)

func TestFriendRequestAccept(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	res, err := env.friends.SendRequest(ctx, alice.ID, Target{Email: "BOB@x.com"})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, models.StatusPending, res.Invitation.Status)
	require.Len(t, env.notifier.ofType("friend_request"), 1)
	assert.Equal(t, []string{bob.ID}, env.notifier.ofType("friend_request")[0].userIDs)
	assert.Contains(t, env.events.list(), "invited:"+bob.ID+":friend")

	_, err = env.friends.SendRequest(ctx, alice.ID, Target{UserID: bob.ID})
	assert.ErrorIs(t, err, apierrors.ErrAlreadyPending)

	views, err := env.friends.Requests(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "alice", views[0].Sender.Username)

	_, err = env.friends.Respond(ctx, res.Invitation.ID, alice.ID, true)
	assert.ErrorIs(t, err, apierrors.ErrNotInvitee)

	inv, err := env.friends.Respond(ctx, res.Invitation.ID, bob.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, inv.Status)
	assert.Len(t, env.notifier.ofType("friend_request_accepted"), 1)

	_, err = env.friends.Respond(ctx, res.Invitation.ID, bob.ID, false)
	assert.ErrorIs(t, err, apierrors.ErrAlreadyResolved)

	for _, id := range []string{alice.ID, bob.ID} {
		list, err := env.friends.List(ctx, id)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	}

	_, err = env.friends.SendRequest(ctx, bob.ID, Target{Phone: alice.Phone})
	assert.ErrorIs(t, err, apierrors.ErrAlreadyFriends)
}

type flakyFriendships struct {
	store.UserStore
	fail bool
}

func (f *flakyFriendships) AddFriendship(ctx context.Context, a, b string) error {
	if f.fail {
		return assert.AnError
	}
	return f.UserStore.AddFriendship(ctx, a, b)
}

func TestAcceptFailureReopensInvitation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	users := &flakyFriendships{UserStore: env.store.Users, fail: true}
	env.friends = NewFriendService(users, env.store.Invitations, env.notifier, env.events, 30*24*time.Hour)

	res, err := env.friends.SendRequest(ctx, alice.ID, Target{UserID: bob.ID})
	require.NoError(t, err)

	_, err = env.friends.Respond(ctx, res.Invitation.ID, bob.ID, true)
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Status)

	inv, err := env.store.Invitations.FindByID(ctx, res.Invitation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, inv.Status)

	users.fail = false
	inv, err = env.friends.Respond(ctx, res.Invitation.ID, bob.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, inv.Status)
	list, err := env.friends.List(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFriendRequestDecline(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	res, err := env.friends.SendRequest(ctx, alice.ID, Target{UserID: bob.ID})
	require.NoError(t, err)
	inv, err := env.friends.Respond(ctx, res.Invitation.ID, bob.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, inv.Status)

	list, err := env.friends.List(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	// a declined request no longer blocks a new one
	_, err = env.friends.SendRequest(ctx, alice.ID, Target{UserID: bob.ID})
	assert.NoError(t, err)
}

func TestFriendRequestValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	_, err := env.friends.SendRequest(ctx, alice.ID, Target{})
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.CodeValidation, apiErr.Code)

	_, err = env.friends.SendRequest(ctx, alice.ID, Target{UserID: alice.ID})
	assert.ErrorIs(t, err, apierrors.ErrSelfRequest)

	_, err = env.friends.SendRequest(ctx, alice.ID, Target{Email: "ghost@x.com"})
	assert.ErrorIs(t, err, apierrors.ErrUserNotFound)

	_, err = env.friends.Respond(ctx, "missing", alice.ID, true)
	assert.ErrorIs(t, err, apierrors.ErrInvitationNotFound)
}

func TestOppositeRequestAutoAccepts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	_, err := env.friends.SendRequest(ctx, alice.ID, Target{UserID: bob.ID})
	require.NoError(t, err)
	res, err := env.friends.SendRequest(ctx, bob.ID, Target{UserID: alice.ID})
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	u, err := env.store.Users.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob.ID}, u.Friends)

	pending, err := env.friends.Requests(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSimultaneousMutualRequestsMakeOneFriendship(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	var wg sync.WaitGroup
	results := make([]*FriendRequestResult, 2)
	errs := make([]error, 2)
	for i, pair := range [][2]string{{alice.ID, bob.ID}, {bob.ID, alice.ID}} {
		wg.Add(1)
		go func(i int, from, to string) {
			defer wg.Done()
			results[i], errs[i] = env.friends.SendRequest(ctx, from, Target{UserID: to})
		}(i, pair[0], pair[1])
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.True(t, results[0].Accepted != results[1].Accepted, "exactly one request should auto-accept")

	for _, id := range []string{alice.ID, bob.ID} {
		u, err := env.store.Users.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Len(t, u.Friends, 1)
	}
}

func TestExpiredFriendRequest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	res, err := env.friends.SendRequest(ctx, alice.ID, Target{UserID: bob.ID})
	require.NoError(t, err)

	env.friends.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	_, err = env.friends.Respond(ctx, res.Invitation.ID, bob.ID, true)
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invitation has expired", apiErr.Message)

	// a lapsed request does not count as pending
	_, err = env.friends.SendRequest(ctx, alice.ID, Target{UserID: bob.ID})
	assert.NoError(t, err)
}

func TestRemoveFriendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	require.NoError(t, env.store.Users.AddFriendship(ctx, alice.ID, bob.ID))

	require.NoError(t, env.friends.Remove(ctx, alice.ID, bob.ID))
	require.NoError(t, env.friends.Remove(ctx, alice.ID, bob.ID))

	u, err := env.store.Users.FindByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, u.Friends)
}

func TestSearchExcludesSelfAndFriends(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	alfred := env.register(t, "alfred")
	env.register(t, "albert")
	env.register(t, "bob")
	require.NoError(t, env.store.Users.AddFriendship(ctx, alice.ID, alfred.ID))

	found, err := env.friends.Search(ctx, alice.ID, "al")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "albert", found[0].Username)

	_, err = env.friends.Search(ctx, alice.ID, "  ")
	assert.Error(t, err)
}
