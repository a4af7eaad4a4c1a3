package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"houseparty-server/models"
	"houseparty-server/store"
)

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to, subject, body})
	return m.err
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type notification struct {
	userIDs []string
	body    string
	data    map[string]string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *recordingNotifier) NotifyUser(ctx context.Context, userID, body string, data map[string]string) {
	n.NotifyUsers(ctx, []string{userID}, body, data)
}

func (n *recordingNotifier) NotifyUsers(_ context.Context, userIDs []string, body string, data map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{userIDs: userIDs, body: body, data: data})
}

func (n *recordingNotifier) ofType(kind string) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification
	for _, c := range n.calls {
		if c.data["type"] == kind {
			out = append(out, c)
		}
	}
	return out
}

type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recordingEvents) PartyCreated(p *models.Party) { r.add("created:%s", p.ID) }
func (r *recordingEvents) PartyJoined(p *models.Party, u string) { r.add("joined:%s:%s", p.ID, u) }
func (r *recordingEvents) PartyLeft(p *models.Party, u string) { r.add("left:%s:%s", p.ID, u) }
func (r *recordingEvents) PartyEnded(p *models.Party) { r.add("ended:%s", p.ID) }
func (r *recordingEvents) InvitationReceived(u string, inv *models.Invitation) {
	r.add("invited:%s:%s", u, inv.Kind)
}

func (r *recordingEvents) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type testEnv struct {
	store    *store.Store
	tokens   *TokenService
	otps     *OTPService
	auth     *AuthService
	users    *UserService
	friends  *FriendService
	parties  *PartyService
	mailer   *fakeMailer
	notifier *recordingNotifier
	events   *recordingEvents
	codes    []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    store.NewMemory(),
		mailer:   &fakeMailer{},
		notifier: &recordingNotifier{},
		events:   &recordingEvents{},
	}
	env.tokens = NewTokenService("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)

	env.otps = NewOTPService(env.store.OTPs, 10*time.Minute, 3)
	env.otps.cost = bcrypt.MinCost
	seq := 100000
	var mu sync.Mutex
	env.otps.generate = func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		seq++
		code := fmt.Sprintf("%06d", seq)
		env.codes = append(env.codes, code)
		return code, nil
	}

	env.auth = NewAuthService(env.store.Users, env.otps, env.tokens, env.mailer)
	env.auth.bcryptCost = bcrypt.MinCost
	env.auth.async = func(fn func()) { fn() }

	env.users = NewUserService(env.store.Users)
	env.friends = NewFriendService(env.store.Users, env.store.Invitations, env.notifier, env.events, 30*24*time.Hour)

	video := NewVideoTokenIssuer("970CA35de60c44645bbae8a215061b33", "5CFd2fd1755d40ecb72977518be15d3b", time.Hour)
	env.parties = NewPartyService(PartyServiceDeps{
		Parties:     env.store.Parties,
		Users:       env.store.Users,
		Invitations: env.store.Invitations,
		Video:       video,
		Notifier:    env.notifier,
		Events:      env.events,
		Mailer:      env.mailer,
		InviteTTL:   24 * time.Hour,
	})
	env.parties.async = func(fn func()) { fn() }
	return env
}

func (e *testEnv) lastCode() string {
	return e.codes[len(e.codes)-1]
}

// register creates an unverified account with contact fields derived from name.
func (e *testEnv) register(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := e.auth.Register(context.Background(), RegisterInput{
		Username: name,
		Email:    name + "@x.com",
		Phone:    "+1555" + name,
		Password: "pw12345",
	})
	require.NoError(t, err)
	return u
}
