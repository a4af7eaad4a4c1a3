package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"houseparty-server/metrics"
	"houseparty-server/models"
	"houseparty-server/store"
	apierrors "houseparty-server/utils/errors"
	"houseparty-server/utils/keylock"
	"houseparty-server/utils/logger"
)

const (
	maxPartyRetries   = 5
	maxChannelRetries = 3
)

// PartySession is a party as seen by one participant, with their video credential.
type PartySession struct {
	Party         *models.Party
	Credential    models.VideoCredential
	AlreadyMember bool
}

type PartyService struct {
	parties   store.PartyStore
	users     store.UserStore
	invites   store.InvitationStore
	video     *VideoTokenIssuer
	notifier  Notifier
	events    EventPublisher
	mailer    Mailer
	locks     *keylock.Locker
	inviteTTL time.Duration
	now       func() time.Time
	async     func(func())
}

type PartyServiceDeps struct {
	Parties     store.PartyStore
	Users       store.UserStore
	Invitations store.InvitationStore
	Video       *VideoTokenIssuer
	Notifier    Notifier
	Events      EventPublisher
	Mailer      Mailer
	InviteTTL   time.Duration
}

func NewPartyService(d PartyServiceDeps) *PartyService {
	events := d.Events
	if events == nil {
		events = nopEvents{}
	}
	return &PartyService{
		parties:   d.Parties,
		users:     d.Users,
		invites:   d.Invitations,
		video:     d.Video,
		notifier:  d.Notifier,
		events:    events,
		mailer:    d.Mailer,
		locks:     keylock.New(),
		inviteTTL: d.InviteTTL,
		now:       time.Now,
		async:     func(fn func()) { go fn() },
	}
}

// channelName is unique per millisecond and host; collisions get a random suffix.
func channelName(now time.Time, hostID string, attempt int) string {
	prefix := hostID
	if len(prefix) > 6 {
		prefix = prefix[:6]
	}
	name := fmt.Sprintf("party_%d_%s", now.UnixMilli(), prefix)
	if attempt > 0 {
		name += "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return name
}

func (s *PartyService) credential(channel, userID string) (models.VideoCredential, error) {
	cred, err := s.video.Issue(channel, UIDForUser(userID), RolePublisher)
	if err != nil {
		var apiErr *apierrors.APIError
		if errors.As(err, &apiErr) {
			return models.VideoCredential{}, apiErr
		}
		return models.VideoCredential{}, apierrors.Internal(err)
	}
	return cred, nil
}

func (s *PartyService) Create(ctx context.Context, hostID, name string, maxParticipants int) (*PartySession, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierrors.Invalid("Party name is required")
	}
	if maxParticipants == 0 {
		maxParticipants = models.DefaultPartySize
	}
	if maxParticipants < models.MinPartySize || maxParticipants > models.MaxPartySize {
		return nil, apierrors.Invalid("Max participants must be between 2 and 10")
	}
	if !s.video.Configured() {
		return nil, apierrors.ErrVideoNotConfigured
	}

	now := s.now()
	party := &models.Party{
		ID:              store.NewID(),
		Name:            name,
		HostID:          hostID,
		Participants:    []models.Participant{{UserID: hostID, JoinedAt: now}},
		MaxParticipants: maxParticipants,
		IsActive:        true,
		StartTime:       now,
		CreatedAt:       now,
	}

	var err error
	for attempt := 0; attempt < maxChannelRetries; attempt++ {
		party.Channel = channelName(now, hostID, attempt)
		if err = s.parties.Create(ctx, party); !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}

	cred, err := s.credential(party.Channel, hostID)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).WithField("party_id", party.ID).WithField("channel", party.Channel).Info("party created")
	metrics.RecordPartyEvent("created")
	s.events.PartyCreated(party.Clone())
	return &PartySession{Party: party, Credential: cred}, nil
}

func (s *PartyService) Get(ctx context.Context, partyID string) (*models.Party, error) {
	p, err := s.parties.FindByID(ctx, partyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierrors.ErrPartyNotFound
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return p, nil
}

// List returns active parties the user or any of their friends are part of.
func (s *PartyService) List(ctx context.Context, userID string) ([]*models.Party, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierrors.ErrUserNotFound
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	parties, err := s.parties.ListActiveInvolving(ctx, append([]string{user.ID}, user.Friends...))
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	if parties == nil {
		parties = []*models.Party{}
	}
	return parties, nil
}

// mutate applies fn under the per-party lock and retries on version
// conflicts from other processes. fn reports whether it changed the party.
func (s *PartyService) mutate(ctx context.Context, partyID string, fn func(*models.Party) (bool, error)) (*models.Party, bool, error) {
	unlock := s.locks.Lock(partyID)
	defer unlock()

	for attempt := 0; attempt < maxPartyRetries; attempt++ {
		p, err := s.Get(ctx, partyID)
		if err != nil {
			return nil, false, err
		}
		changed, err := fn(p)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return p, false, nil
		}
		err = s.parties.Update(ctx, p)
		if err == nil {
			return p, true, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, false, apierrors.Internal(err)
		}
		logger.FromContext(ctx).WithField("party_id", partyID).WithField("attempt", attempt+1).Debug("party version conflict, retrying")
	}
	return nil, false, apierrors.ErrConflict.WithDetails("party is being modified concurrently")
}

// Join is idempotent: a current participant gets a fresh credential and the
// capacity check only applies to newcomers.
func (s *PartyService) Join(ctx context.Context, partyID, userID string) (*PartySession, error) {
	if !s.video.Configured() {
		return nil, apierrors.ErrVideoNotConfigured
	}
	now := s.now()
	party, added, err := s.mutate(ctx, partyID, func(p *models.Party) (bool, error) {
		if !p.IsActive {
			return false, apierrors.ErrPartyInactive
		}
		if p.HasParticipant(userID) {
			return false, nil
		}
		if p.IsFull() {
			return false, apierrors.ErrPartyFull
		}
		return p.Add(userID, now), nil
	})
	if err != nil {
		return nil, err
	}

	cred, err := s.credential(party.Channel, userID)
	if err != nil {
		return nil, err
	}

	if added {
		metrics.RecordPartyEvent("joined")
		s.events.PartyJoined(party.Clone(), userID)
		s.notifyParticipants(ctx, party, userID, "%s joined %s", "party_join")
	}
	return &PartySession{Party: party, Credential: cred, AlreadyMember: !added}, nil
}

// Leave removes the user. The host role moves to the earliest joined
// remaining participant; an emptied party is deactivated for good.
func (s *PartyService) Leave(ctx context.Context, partyID, userID string) (*models.Party, error) {
	now := s.now()
	party, _, err := s.mutate(ctx, partyID, func(p *models.Party) (bool, error) {
		if !p.Remove(userID, now) {
			return false, apierrors.ErrNotInParty
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordPartyEvent("left")
	s.events.PartyLeft(party.Clone(), userID)
	if !party.IsActive {
		metrics.RecordPartyEvent("ended")
		s.events.PartyEnded(party.Clone())
		logger.FromContext(ctx).WithField("party_id", party.ID).Info("party ended")
		return party, nil
	}
	s.notifyParticipants(ctx, party, userID, "%s left %s", "party_leave")
	return party, nil
}

func (s *PartyService) notifyParticipants(ctx context.Context, party *models.Party, actorID, format, kind string) {
	actor, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("skipping party notification")
		return
	}
	var others []string
	for _, id := range party.ParticipantIDs() {
		if id != actorID {
			others = append(others, id)
		}
	}
	s.notifier.NotifyUsers(ctx, others, fmt.Sprintf(format, actor.Username, party.Name), map[string]string{
		"type":    kind,
		"partyId": party.ID,
	})
}

// Invite records a party invitation for an account, or for an email/phone
// that has no account yet.
func (s *PartyService) Invite(ctx context.Context, partyID, senderID string, t Target) (*models.Invitation, error) {
	if t.empty() {
		return nil, apierrors.Invalid("User ID, email, or phone is required")
	}
	if email := normalizeEmail(t.Email); email != "" && !validEmail(email) {
		return nil, apierrors.Invalid("Invalid email address")
	}
	party, err := s.Get(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if !party.IsActive {
		return nil, apierrors.ErrPartyInactive
	}
	if !party.HasParticipant(senderID) {
		return nil, apierrors.ErrNotPartyMember
	}
	sender, err := s.users.FindByID(ctx, senderID)
	if err != nil {
		return nil, apierrors.Internal(err)
	}

	now := s.now()
	inv := &models.Invitation{
		ID:        store.NewID(),
		Kind:      models.KindParty,
		SenderID:  senderID,
		PartyID:   party.ID,
		Status:    models.StatusPending,
		ExpiresAt: now.Add(s.inviteTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}

	receiver, err := resolveTarget(ctx, s.users, t)
	switch {
	case err == nil:
		inv.ReceiverID = receiver.ID
	case errors.Is(err, apierrors.ErrUserNotFound) && strings.TrimSpace(t.UserID) == "":
		inv.ReceiverEmail = normalizeEmail(t.Email)
		inv.ReceiverPhone = strings.TrimSpace(t.Phone)
	default:
		return nil, err
	}

	if err := s.invites.Create(ctx, inv); err != nil {
		return nil, apierrors.Internal(err)
	}

	switch {
	case inv.ReceiverID != "":
		s.notifier.NotifyUser(ctx, inv.ReceiverID, fmt.Sprintf("%s invited you to %s", sender.Username, party.Name), map[string]string{
			"type":         "party_invitation",
			"partyId":      party.ID,
			"invitationId": inv.ID,
		})
		s.events.InvitationReceived(inv.ReceiverID, inv)
	case inv.ReceiverEmail != "":
		s.emailInvite(ctx, inv.ReceiverEmail, sender.Username, party.Name)
	}
	return inv, nil
}

func (s *PartyService) emailInvite(ctx context.Context, to, sender, partyName string) {
	log := logger.FromContext(ctx).WithField("to", to)
	bg := logger.WithEntry(context.WithoutCancel(ctx), log)
	s.async(func() {
		sendCtx, cancel := context.WithTimeout(bg, mailTimeout)
		defer cancel()
		if err := s.mailer.Send(sendCtx, to, fmt.Sprintf(inviteEmailSubject, sender), inviteEmailBody(sender, partyName)); err != nil {
			log.WithError(err).Warn("failed to send party invitation email")
		}
	})
}

func (s *PartyService) Invitations(ctx context.Context, userID string) ([]models.InvitationView, error) {
	return invitationViews(ctx, s.users, s.invites, userID, models.KindParty, s.now())
}

// RespondToInvitation joins the party on accept. The invitation is only
// marked accepted once the join went through.
func (s *PartyService) RespondToInvitation(ctx context.Context, invitationID, userID string, accept bool) (*models.Invitation, *PartySession, error) {
	inv, err := s.invites.FindByID(ctx, invitationID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && inv.Kind != models.KindParty) {
		return nil, nil, apierrors.ErrInvitationNotFound
	}
	if err != nil {
		return nil, nil, apierrors.Internal(err)
	}
	if inv.ReceiverID != userID {
		return nil, nil, apierrors.ErrNotInvitee
	}
	if inv.Status != models.StatusPending {
		return nil, nil, apierrors.ErrAlreadyResolved
	}
	now := s.now()
	if !inv.Open(now) {
		return nil, nil, apierrors.Invalid("Invitation has expired")
	}

	if !accept {
		if err := s.invites.Transition(ctx, inv.ID, models.StatusPending, models.StatusDeclined, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, nil, apierrors.ErrAlreadyResolved
			}
			return nil, nil, apierrors.Internal(err)
		}
		inv.Status = models.StatusDeclined
		return inv, nil, nil
	}

	session, err := s.Join(ctx, inv.PartyID, userID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.invites.Transition(ctx, inv.ID, models.StatusPending, models.StatusAccepted, now); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("invitation_id", inv.ID).Warn("joined party but could not mark invitation accepted")
	}
	inv.Status = models.StatusAccepted
	return inv, session, nil
}
