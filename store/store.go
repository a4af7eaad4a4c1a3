// Package store persists users, one-time codes, invitations and parties.
// Every backend (MongoDB, in-memory) satisfies the same interfaces so services
// never see driver types.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"houseparty-server/models"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrConflict        = errors.New("store: duplicate key")
	ErrVersionConflict = errors.New("store: version conflict")
)

// NewID returns a 24 character hex identifier.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
	// FindConflicts returns users sharing any of the given email, username or phone.
	FindConflicts(ctx context.Context, email, username, phone string) ([]*models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]*models.User, error)
	Search(ctx context.Context, query string, exclude []string, limit int) ([]*models.User, error)

	SetEmailVerified(ctx context.Context, id string) error
	SetPasswordHash(ctx context.Context, id, hash string) error
	UpdateProfile(ctx context.Context, id string, username, profilePicture *string) error
	UpdateSettings(ctx context.Context, id string, settings models.Settings) error
	AddDeviceToken(ctx context.Context, id, token string) error
	RemoveDeviceTokens(ctx context.Context, id string, tokens ...string) error
	// AddFriendship and RemoveFriendship touch both documents.
	AddFriendship(ctx context.Context, a, b string) error
	RemoveFriendship(ctx context.Context, a, b string) error
	SetPresence(ctx context.Context, id string, inHouse bool, at time.Time) error
}

type OTPStore interface {
	// Replace deletes every code for (email, purpose) and stores otp.
	Replace(ctx context.Context, otp *models.OTP) error
	FindActive(ctx context.Context, email string, purpose models.OTPPurpose, now time.Time) (*models.OTP, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type InvitationStore interface {
	Create(ctx context.Context, inv *models.Invitation) error
	FindByID(ctx context.Context, id string) (*models.Invitation, error)
	FindPending(ctx context.Context, kind models.InvitationKind, senderID, receiverID string, now time.Time) (*models.Invitation, error)
	ListPendingFor(ctx context.Context, receiverID string, kind models.InvitationKind, now time.Time) ([]*models.Invitation, error)
	// Transition moves id from one status to another; ErrConflict when the
	// invitation is no longer in the from state.
	Transition(ctx context.Context, id string, from, to models.InvitationStatus, now time.Time) error
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

type PartyStore interface {
	Create(ctx context.Context, party *models.Party) error
	FindByID(ctx context.Context, id string) (*models.Party, error)
	// Update writes party if its stored version still equals party.Version and
	// bumps the version. ErrVersionConflict otherwise.
	Update(ctx context.Context, party *models.Party) error
	// ListActiveInvolving returns active parties hosted by or containing any of
	// userIDs, newest first.
	ListActiveInvolving(ctx context.Context, userIDs []string) ([]*models.Party, error)
}

// Store bundles the collections a running server needs.
type Store struct {
	Users       UserStore
	OTPs        OTPStore
	Invitations InvitationStore
	Parties     PartyStore
	closer      func(context.Context) error
	pinger      func(context.Context) error
}

// Ping checks that the backing database answers.
func (s *Store) Ping(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	return s.pinger(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer(ctx)
}
