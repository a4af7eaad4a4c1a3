package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"houseparty-server/models"
	"houseparty-server/store"
	apierrors "houseparty-server/utils/errors"
	"houseparty-server/utils/keylock"
	"houseparty-server/utils/logger"
)

const searchLimit = 20

// Target identifies a user by id, email or phone. The first non-empty field wins.
type Target struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

func (t Target) empty() bool {
	return strings.TrimSpace(t.UserID) == "" && strings.TrimSpace(t.Email) == "" && strings.TrimSpace(t.Phone) == ""
}

// FriendRequestResult tells the caller whether a new request was created or
// an opposite pending request was accepted instead.
type FriendRequestResult struct {
	Accepted   bool
	Invitation *models.Invitation
}

type FriendService struct {
	users     store.UserStore
	invites   store.InvitationStore
	notifier  Notifier
	events    EventPublisher
	locks     *keylock.Locker
	inviteTTL time.Duration
	now       func() time.Time
}

func NewFriendService(users store.UserStore, invites store.InvitationStore, notifier Notifier, events EventPublisher, inviteTTL time.Duration) *FriendService {
	if events == nil {
		events = nopEvents{}
	}
	return &FriendService{
		users:     users,
		invites:   invites,
		notifier:  notifier,
		events:    events,
		locks:     keylock.New(),
		inviteTTL: inviteTTL,
		now:       time.Now,
	}
}

func resolveTarget(ctx context.Context, users store.UserStore, t Target) (*models.User, error) {
	var (
		u   *models.User
		err error
	)
	switch {
	case strings.TrimSpace(t.UserID) != "":
		u, err = users.FindByID(ctx, strings.TrimSpace(t.UserID))
	case strings.TrimSpace(t.Email) != "":
		u, err = users.FindByEmail(ctx, normalizeEmail(t.Email))
	case strings.TrimSpace(t.Phone) != "":
		u, err = users.FindByPhone(ctx, strings.TrimSpace(t.Phone))
	default:
		return nil, apierrors.Invalid("User ID, email, or phone is required")
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierrors.ErrUserNotFound
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return u, nil
}

func (s *FriendService) loadUser(ctx context.Context, id string) (*models.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierrors.ErrUserNotFound
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return u, nil
}

// SendRequest creates a pending friend invitation, or accepts the opposite
// one when the target already asked the sender. Both directions share one
// lock so simultaneous mutual requests end in a single friendship.
func (s *FriendService) SendRequest(ctx context.Context, senderID string, t Target) (*FriendRequestResult, error) {
	if t.empty() {
		return nil, apierrors.Invalid("User ID, email, or phone is required")
	}
	target, err := resolveTarget(ctx, s.users, t)
	if err != nil {
		return nil, err
	}
	if target.ID == senderID {
		return nil, apierrors.ErrSelfRequest
	}

	unlock := s.locks.Lock(keylock.PairKey(senderID, target.ID))
	defer unlock()

	sender, err := s.loadUser(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if sender.HasFriend(target.ID) {
		return nil, apierrors.ErrAlreadyFriends
	}

	now := s.now()
	if _, err := s.invites.FindPending(ctx, models.KindFriend, sender.ID, target.ID, now); err == nil {
		return nil, apierrors.ErrAlreadyPending
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apierrors.Internal(err)
	}

	reverse, err := s.invites.FindPending(ctx, models.KindFriend, target.ID, sender.ID, now)
	switch {
	case err == nil:
		if err := s.accept(ctx, reverse, now); err != nil {
			return nil, err
		}
		reverse.Status = models.StatusAccepted
		s.notifier.NotifyUser(ctx, target.ID, sender.Username+" accepted your friend request", map[string]string{
			"type":   "friend_request_accepted",
			"userId": sender.ID,
		})
		return &FriendRequestResult{Accepted: true, Invitation: reverse}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, apierrors.Internal(err)
	}

	inv := &models.Invitation{
		ID:         store.NewID(),
		Kind:       models.KindFriend,
		SenderID:   sender.ID,
		ReceiverID: target.ID,
		Status:     models.StatusPending,
		ExpiresAt:  now.Add(s.inviteTTL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.invites.Create(ctx, inv); err != nil {
		return nil, apierrors.Internal(err)
	}

	s.notifier.NotifyUser(ctx, target.ID, sender.Username+" sent you a friend request", map[string]string{
		"type":         "friend_request",
		"invitationId": inv.ID,
	})
	s.events.InvitationReceived(target.ID, inv)
	return &FriendRequestResult{Invitation: inv}, nil
}

// accept flips the invitation and links both users. Caller holds the pair lock.
func (s *FriendService) accept(ctx context.Context, inv *models.Invitation, now time.Time) error {
	if err := s.invites.Transition(ctx, inv.ID, models.StatusPending, models.StatusAccepted, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return apierrors.ErrAlreadyResolved
		}
		return apierrors.Internal(err)
	}
	if err := s.users.AddFriendship(ctx, inv.SenderID, inv.ReceiverID); err != nil {
		// put the invitation back so it can be accepted again
		if rerr := s.invites.Transition(ctx, inv.ID, models.StatusAccepted, models.StatusPending, now); rerr != nil {
			logger.FromContext(ctx).WithError(rerr).WithField("invitation_id", inv.ID).Error("failed to reopen invitation")
		}
		return apierrors.Internal(err)
	}
	return nil
}

func (s *FriendService) Respond(ctx context.Context, invitationID, responderID string, accept bool) (*models.Invitation, error) {
	if invitationID == "" {
		return nil, apierrors.Invalid("Invitation ID is required")
	}
	inv, err := s.invites.FindByID(ctx, invitationID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && inv.Kind != models.KindFriend) {
		return nil, apierrors.ErrInvitationNotFound
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	if inv.ReceiverID != responderID {
		return nil, apierrors.ErrNotInvitee
	}
	if inv.Status != models.StatusPending {
		return nil, apierrors.ErrAlreadyResolved
	}
	now := s.now()
	if !inv.Open(now) {
		return nil, apierrors.Invalid("Invitation has expired")
	}

	unlock := s.locks.Lock(keylock.PairKey(inv.SenderID, inv.ReceiverID))
	defer unlock()

	if !accept {
		if err := s.invites.Transition(ctx, inv.ID, models.StatusPending, models.StatusDeclined, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, apierrors.ErrAlreadyResolved
			}
			return nil, apierrors.Internal(err)
		}
		inv.Status = models.StatusDeclined
		return inv, nil
	}

	if err := s.accept(ctx, inv, now); err != nil {
		return nil, err
	}
	inv.Status = models.StatusAccepted

	if responder, err := s.users.FindByID(ctx, responderID); err == nil {
		s.notifier.NotifyUser(ctx, inv.SenderID, responder.Username+" accepted your friend request", map[string]string{
			"type":   "friend_request_accepted",
			"userId": responder.ID,
		})
	} else {
		logger.FromContext(ctx).WithError(err).Warn("skipping acceptance notification")
	}
	return inv, nil
}

// Remove is idempotent; removing someone who isn't a friend is not an error.
func (s *FriendService) Remove(ctx context.Context, userID, friendID string) error {
	if strings.TrimSpace(friendID) == "" {
		return apierrors.Invalid("Friend ID is required")
	}
	unlock := s.locks.Lock(keylock.PairKey(userID, friendID))
	defer unlock()
	if err := s.users.RemoveFriendship(ctx, userID, friendID); err != nil {
		return apierrors.Internal(err)
	}
	return nil
}

func (s *FriendService) List(ctx context.Context, userID string) ([]models.FriendSummary, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	friends, err := s.users.FindByIDs(ctx, user.Friends)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return summaries(friends), nil
}

func (s *FriendService) Requests(ctx context.Context, userID string) ([]models.InvitationView, error) {
	return invitationViews(ctx, s.users, s.invites, userID, models.KindFriend, s.now())
}

// Search matches handle, email or phone and leaves out the caller and their friends.
func (s *FriendService) Search(ctx context.Context, userID, query string) ([]models.FriendSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apierrors.Invalid("Search query is required")
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	exclude := append([]string{user.ID}, user.Friends...)
	found, err := s.users.Search(ctx, query, exclude, searchLimit)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return summaries(found), nil
}

func summaries(users []*models.User) []models.FriendSummary {
	out := make([]models.FriendSummary, 0, len(users))
	for _, u := range users {
		out = append(out, u.Summary())
	}
	return out
}

func invitationViews(ctx context.Context, users store.UserStore, invites store.InvitationStore, userID string, kind models.InvitationKind, now time.Time) ([]models.InvitationView, error) {
	pending, err := invites.ListPendingFor(ctx, userID, kind, now)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	senderIDs := make([]string, 0, len(pending))
	for _, inv := range pending {
		senderIDs = append(senderIDs, inv.SenderID)
	}
	senders, err := users.FindByIDs(ctx, senderIDs)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	byID := make(map[string]*models.User, len(senders))
	for _, u := range senders {
		byID[u.ID] = u
	}

	views := make([]models.InvitationView, 0, len(pending))
	for _, inv := range pending {
		view := models.InvitationView{Invitation: *inv}
		if u, ok := byID[inv.SenderID]; ok {
			view.Sender = u.Summary()
		}
		views = append(views, view)
	}
	return views, nil
}
