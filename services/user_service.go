package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"houseparty-server/models"
	"houseparty-server/store"
	apierrors "houseparty-server/utils/errors"
)

type UserService struct {
	users store.UserStore
	now   func() time.Time
}

func NewUserService(users store.UserStore) *UserService {
	return &UserService{users: users, now: time.Now}
}

type ProfileUpdate struct {
	Username       *string `json:"username"`
	ProfilePicture *string `json:"profilePicture"`
}

func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierrors.ErrUserNotFound
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return u, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*models.User, error) {
	if in.Username != nil {
		name := strings.TrimSpace(*in.Username)
		if err := validateUsername(name); err != nil {
			return nil, err
		}
		in.Username = &name
	}
	if in.Username == nil && in.ProfilePicture == nil {
		return s.Get(ctx, userID)
	}
	err := s.users.UpdateProfile(ctx, userID, in.Username, in.ProfilePicture)
	switch {
	case errors.Is(err, store.ErrConflict):
		return nil, apierrors.ErrUsernameTaken
	case errors.Is(err, store.ErrNotFound):
		return nil, apierrors.ErrUserNotFound
	case err != nil:
		return nil, apierrors.Internal(err)
	}
	return s.Get(ctx, userID)
}

func (s *UserService) UpdateSettings(ctx context.Context, userID string, patch models.SettingsPatch) (models.Settings, error) {
	if err := patch.Validate(); err != nil {
		return models.Settings{}, apierrors.Invalid(err.Error())
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return models.Settings{}, err
	}
	settings := patch.Apply(u.Settings)
	if err := s.users.UpdateSettings(ctx, userID, settings); err != nil {
		return models.Settings{}, apierrors.Internal(err)
	}
	return settings, nil
}

func (s *UserService) RegisterDeviceToken(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apierrors.Invalid("FCM token is required")
	}
	if err := s.users.AddDeviceToken(ctx, userID, token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierrors.ErrUserNotFound
		}
		return apierrors.Internal(err)
	}
	return nil
}

func (s *UserService) RemoveDeviceToken(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apierrors.Invalid("FCM token is required")
	}
	if err := s.users.RemoveDeviceTokens(ctx, userID, token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierrors.ErrUserNotFound
		}
		return apierrors.Internal(err)
	}
	return nil
}

func (s *UserService) FriendsInHouse(ctx context.Context, userID string) ([]models.FriendSummary, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	friends, err := s.users.FindByIDs(ctx, u.Friends)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	out := make([]models.FriendSummary, 0, len(friends))
	for _, f := range friends {
		if f.IsInHouse {
			out = append(out, f.Summary())
		}
	}
	return out, nil
}
