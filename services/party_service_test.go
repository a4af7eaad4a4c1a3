package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseparty-server/models"
	apierrors "houseparty-server/utils/errors"
)

// tick makes every call to the party clock one second later than the last.
func tick(env *testEnv) {
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	env.parties.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func TestCreateParty(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	session, err := env.parties.Create(ctx, alice.ID, "  Movie Night ", 0)
	require.NoError(t, err)
	p := session.Party
	assert.Equal(t, "Movie Night", p.Name)
	assert.Equal(t, alice.ID, p.HostID)
	assert.Equal(t, []string{alice.ID}, p.ParticipantIDs())
	assert.Equal(t, models.DefaultPartySize, p.MaxParticipants)
	assert.True(t, p.IsActive)
	assert.True(t, strings.HasPrefix(p.Channel, "party_"))
	assert.Equal(t, p.Channel, session.Credential.ChannelName)
	assert.NotEmpty(t, session.Credential.Token)
	assert.Equal(t, []string{"created:" + p.ID}, env.events.list())

	for _, size := range []int{1, 11, -3} {
		_, err := env.parties.Create(ctx, alice.ID, "x", size)
		assert.Error(t, err, "size %d", size)
	}
	_, err = env.parties.Create(ctx, alice.ID, " ", 4)
	assert.Error(t, err)
}

func TestCreatePartyWithoutVideo(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	env.parties.video = NewVideoTokenIssuer("", "", time.Hour)

	_, err := env.parties.Create(context.Background(), alice.ID, "Movie Night", 4)
	assert.ErrorIs(t, err, apierrors.ErrVideoNotConfigured)

	list, err := env.parties.List(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestJoinCapacityAndIdempotence(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	carol := env.register(t, "carol")

	session, err := env.parties.Create(ctx, alice.ID, "Movie Night", 2)
	require.NoError(t, err)
	id := session.Party.ID

	joined, err := env.parties.Join(ctx, id, bob.ID)
	require.NoError(t, err)
	assert.False(t, joined.AlreadyMember)
	assert.Len(t, joined.Party.Participants, 2)

	notes := env.notifier.ofType("party_join")
	require.Len(t, notes, 1)
	assert.Equal(t, []string{alice.ID}, notes[0].userIDs)
	assert.Equal(t, "bob joined Movie Night", notes[0].body)

	_, err = env.parties.Join(ctx, id, carol.ID)
	assert.ErrorIs(t, err, apierrors.ErrPartyFull)

	// rejoining a full party is fine for a member
	again, err := env.parties.Join(ctx, id, bob.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyMember)
	assert.Len(t, again.Party.Participants, 2)
	assert.Len(t, env.notifier.ofType("party_join"), 1)

	_, err = env.parties.Join(ctx, "missing", bob.ID)
	assert.ErrorIs(t, err, apierrors.ErrPartyNotFound)
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	host := env.register(t, "host")
	session, err := env.parties.Create(ctx, host.ID, "Crowded", 3)
	require.NoError(t, err)

	guests := make([]*models.User, 6)
	for i := range guests {
		guests[i] = env.register(t, "guest"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, full int
	for _, g := range guests {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.parties.Join(ctx, session.Party.ID, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, apierrors.ErrPartyFull):
				full++
			}
		}(g.ID)
	}
	wg.Wait()

	assert.Equal(t, 2, ok)
	assert.Equal(t, 4, full)
	p, err := env.parties.Get(ctx, session.Party.ID)
	require.NoError(t, err)
	assert.Len(t, p.Participants, 3)
}

func TestLeaveTransfersHostAndEndsParty(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tick(env)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	carol := env.register(t, "carol")

	session, err := env.parties.Create(ctx, alice.ID, "Movie Night", 5)
	require.NoError(t, err)
	id := session.Party.ID
	_, err = env.parties.Join(ctx, id, bob.ID)
	require.NoError(t, err)
	_, err = env.parties.Join(ctx, id, carol.ID)
	require.NoError(t, err)

	p, err := env.parties.Leave(ctx, id, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, p.HostID)
	assert.True(t, p.IsActive)
	leaves := env.notifier.ofType("party_leave")
	require.Len(t, leaves, 1)
	assert.ElementsMatch(t, []string{bob.ID, carol.ID}, leaves[0].userIDs)

	_, err = env.parties.Leave(ctx, id, alice.ID)
	assert.ErrorIs(t, err, apierrors.ErrNotInParty)

	_, err = env.parties.Leave(ctx, id, bob.ID)
	require.NoError(t, err)
	p, err = env.parties.Leave(ctx, id, carol.ID)
	require.NoError(t, err)
	assert.False(t, p.IsActive)
	assert.NotNil(t, p.EndTime)
	assert.Empty(t, p.Participants)
	assert.Contains(t, env.events.list(), "ended:"+id)

	_, err = env.parties.Join(ctx, id, alice.ID)
	assert.ErrorIs(t, err, apierrors.ErrPartyInactive)
}

func TestListPartiesOfSelfAndFriends(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	carol := env.register(t, "carol")
	require.NoError(t, env.store.Users.AddFriendship(ctx, alice.ID, bob.ID))

	mine, err := env.parties.Create(ctx, alice.ID, "Mine", 4)
	require.NoError(t, err)
	friends, err := env.parties.Create(ctx, bob.ID, "Bob's", 4)
	require.NoError(t, err)
	_, err = env.parties.Create(ctx, carol.ID, "Stranger", 4)
	require.NoError(t, err)

	list, err := env.parties.List(ctx, alice.ID)
	require.NoError(t, err)
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{mine.Party.ID, friends.Party.ID}, ids)
}

func TestPartyInvitation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	carol := env.register(t, "carol")

	session, err := env.parties.Create(ctx, alice.ID, "Movie Night", 4)
	require.NoError(t, err)
	id := session.Party.ID

	_, err = env.parties.Invite(ctx, id, carol.ID, Target{UserID: bob.ID})
	assert.ErrorIs(t, err, apierrors.ErrNotPartyMember)

	inv, err := env.parties.Invite(ctx, id, alice.ID, Target{UserID: bob.ID})
	require.NoError(t, err)
	assert.Equal(t, models.KindParty, inv.Kind)
	assert.Equal(t, id, inv.PartyID)
	notes := env.notifier.ofType("party_invitation")
	require.Len(t, notes, 1)
	assert.Equal(t, "alice invited you to Movie Night", notes[0].body)
	assert.Equal(t, inv.ID, notes[0].data["invitationId"])

	pending, err := env.parties.Invitations(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].Sender.Username)

	_, _, err = env.parties.RespondToInvitation(ctx, inv.ID, carol.ID, true)
	assert.ErrorIs(t, err, apierrors.ErrNotInvitee)

	accepted, joined, err := env.parties.RespondToInvitation(ctx, inv.ID, bob.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, accepted.Status)
	assert.True(t, joined.Party.HasParticipant(bob.ID))

	_, _, err = env.parties.RespondToInvitation(ctx, inv.ID, bob.ID, true)
	assert.ErrorIs(t, err, apierrors.ErrAlreadyResolved)
}

func TestDeclinePartyInvitation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	session, err := env.parties.Create(ctx, alice.ID, "Movie Night", 4)
	require.NoError(t, err)
	inv, err := env.parties.Invite(ctx, session.Party.ID, alice.ID, Target{Email: bob.Email})
	require.NoError(t, err)

	declined, joined, err := env.parties.RespondToInvitation(ctx, inv.ID, bob.ID, false)
	require.NoError(t, err)
	assert.Nil(t, joined)
	assert.Equal(t, models.StatusDeclined, declined.Status)

	p, err := env.parties.Get(ctx, session.Party.ID)
	require.NoError(t, err)
	assert.False(t, p.HasParticipant(bob.ID))
}

func TestInviteByEmailWithoutAccount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	session, err := env.parties.Create(ctx, alice.ID, "Movie Night", 4)
	require.NoError(t, err)
	before := env.mailer.count()

	inv, err := env.parties.Invite(ctx, session.Party.ID, alice.ID, Target{Email: "Friend@Example.com"})
	require.NoError(t, err)
	assert.Empty(t, inv.ReceiverID)
	assert.Equal(t, "friend@example.com", inv.ReceiverEmail)

	require.Equal(t, before+1, env.mailer.count())
	last := env.mailer.sent[len(env.mailer.sent)-1]
	assert.Equal(t, "friend@example.com", last.to)
	assert.Equal(t, "House Party - alice invited you to a party!", last.subject)

	_, err = env.parties.Invite(ctx, session.Party.ID, alice.ID, Target{UserID: "no-such-user"})
	assert.ErrorIs(t, err, apierrors.ErrUserNotFound)

	for _, bad := range []string{"not-an-email", "x@y.com\r\nBcc: v@evil.com", "Friend <friend@example.com>"} {
		_, err = env.parties.Invite(ctx, session.Party.ID, alice.ID, Target{Email: bad})
		var apiErr *apierrors.APIError
		require.ErrorAs(t, err, &apiErr, bad)
		assert.Equal(t, 400, apiErr.Status, bad)
	}
	assert.Equal(t, before+1, env.mailer.count())
}
