package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"houseparty-server/models"
	"houseparty-server/store"
	apierrors "houseparty-server/utils/errors"
	"houseparty-server/utils/logger"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 30
	minPasswordLen = 6
	mailTimeout    = 30 * time.Second
)

type RegisterInput struct {
	Username string
	Email    string
	Phone    string
	Password string
}

// AuthService owns registration, verification and credential changes.
type AuthService struct {
	users      store.UserStore
	otps       *OTPService
	tokens     *TokenService
	mailer     Mailer
	bcryptCost int
	now        func() time.Time
	// async runs fire-and-forget side effects.
	async func(func())
}

func NewAuthService(users store.UserStore, otps *OTPService, tokens *TokenService, mailer Mailer) *AuthService {
	return &AuthService{
		users:      users,
		otps:       otps,
		tokens:     tokens,
		mailer:     mailer,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		async:      func(fn func()) { go fn() },
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail accepts a bare address only, no display name.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func validateUsername(username string) error {
	if n := len([]rune(username)); n < minUsernameLen || n > maxUsernameLen {
		return apierrors.Invalid("Username must be between 3 and 30 characters")
	}
	// usernames end up in mail headers and push payloads
	if strings.IndexFunc(username, unicode.IsControl) >= 0 {
		return apierrors.Invalid("Username must not contain control characters")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return apierrors.Invalid("Password must be at least 6 characters")
	}
	return nil
}

func (in *RegisterInput) normalize() error {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)

	if in.Username == "" || in.Email == "" || in.Phone == "" || in.Password == "" {
		return apierrors.Invalid("Username, email, phone and password are required")
	}
	if err := validateUsername(in.Username); err != nil {
		return err
	}
	if !validEmail(in.Email) {
		return apierrors.Invalid("Invalid email address")
	}
	return validatePassword(in.Password)
}

// conflictError picks the reported field by fixed precedence: email, then
// username, then phone.
func conflictError(existing []*models.User, in RegisterInput) error {
	var username, phone bool
	for _, u := range existing {
		if u.Email == in.Email {
			return apierrors.ErrEmailInUse
		}
		username = username || u.Username == in.Username
		phone = phone || u.Phone == in.Phone
	}
	switch {
	case username:
		return apierrors.ErrUsernameTaken
	case phone:
		return apierrors.ErrPhoneInUse
	}
	return nil
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	existing, err := s.users.FindConflicts(ctx, in.Email, in.Username, in.Phone)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	if err := conflictError(existing, in); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, apierrors.Internal(err)
	}

	now := s.now()
	user := &models.User{
		ID:           store.NewID(),
		Username:     in.Username,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: string(hash),
		Friends:      []string{},
		DeviceTokens: []string{},
		Settings:     models.DefaultSettings(),
		LastActive:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// lost a race against another registration
			existing, _ = s.users.FindConflicts(ctx, in.Email, in.Username, in.Phone)
			if cerr := conflictError(existing, in); cerr != nil {
				return nil, cerr
			}
			return nil, apierrors.ErrConflict
		}
		return nil, apierrors.Internal(err)
	}

	s.sendCode(ctx, user.Email, models.PurposeEmailVerification)
	return user, nil
}

// sendCode issues an OTP and mails it in the background. Failures are logged only.
func (s *AuthService) sendCode(ctx context.Context, email string, purpose models.OTPPurpose) {
	log := logger.FromContext(ctx).WithField("email", email).WithField("purpose", purpose)
	code, err := s.otps.Issue(ctx, email, purpose)
	if err != nil {
		log.WithError(err).Error("failed to issue otp")
		return
	}

	minutes := int(s.otps.TTL().Minutes())
	subject, body := otpEmailSubject, otpEmailBody(code, minutes)
	if purpose == models.PurposePasswordReset {
		subject, body = resetEmailSubject, resetEmailBody(code, minutes)
	}

	bg := logger.WithEntry(context.WithoutCancel(ctx), log)
	s.async(func() {
		sendCtx, cancel := context.WithTimeout(bg, mailTimeout)
		defer cancel()
		if err := s.mailer.Send(sendCtx, email, subject, body); err != nil {
			log.WithError(err).Warn("failed to send otp email")
		}
	})
}

func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) (*models.User, models.TokenPair, error) {
	email = normalizeEmail(email)
	if email == "" || code == "" {
		return nil, models.TokenPair{}, apierrors.Invalid("Email and OTP are required")
	}
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.TokenPair{}, apierrors.ErrInvalidCode
	}
	if err != nil {
		return nil, models.TokenPair{}, apierrors.Internal(err)
	}

	if err := s.otps.Consume(ctx, email, models.PurposeEmailVerification, code); err != nil {
		return nil, models.TokenPair{}, err
	}
	if err := s.users.SetEmailVerified(ctx, user.ID); err != nil {
		return nil, models.TokenPair{}, apierrors.Internal(err)
	}
	user.IsEmailVerified = true

	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, models.TokenPair{}, apierrors.Internal(err)
	}
	return user, pair, nil
}

func (s *AuthService) ResendOTP(ctx context.Context, email string, purpose models.OTPPurpose) error {
	email = normalizeEmail(email)
	if email == "" {
		return apierrors.Invalid("Email is required")
	}
	if purpose == "" {
		purpose = models.PurposeEmailVerification
	}
	if !purpose.Valid() {
		return apierrors.Invalid("Invalid OTP type")
	}
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return apierrors.ErrUserNotFound
	}
	if err != nil {
		return apierrors.Internal(err)
	}
	if purpose == models.PurposeEmailVerification && user.IsEmailVerified {
		return apierrors.ErrAlreadyVerified
	}
	s.sendCode(ctx, email, purpose)
	return nil
}

// Login reports the same error for an unknown email and a wrong password.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, models.TokenPair, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, models.TokenPair{}, apierrors.Invalid("Email and password are required")
	}
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.TokenPair{}, apierrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, models.TokenPair{}, apierrors.Internal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, models.TokenPair{}, apierrors.ErrInvalidCredentials
	}
	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, models.TokenPair{}, apierrors.Internal(err)
	}
	return user, pair, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	if refreshToken == "" {
		return models.TokenPair{}, apierrors.Invalid("Refresh token is required")
	}
	userID, ok := s.tokens.Verify(ctx, refreshToken, RefreshToken)
	if !ok {
		return models.TokenPair{}, apierrors.ErrInvalidToken
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.TokenPair{}, apierrors.ErrInvalidToken
		}
		return models.TokenPair{}, apierrors.Internal(err)
	}
	pair, err := s.tokens.IssuePair(userID)
	if err != nil {
		return models.TokenPair{}, apierrors.Internal(err)
	}
	return pair, nil
}

func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierrors.ErrUserNotFound
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return user, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	if current == "" || next == "" {
		return apierrors.Invalid("Current password and new password are required")
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	user, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return apierrors.ErrIncorrectPassword
	}
	return s.setPassword(ctx, user.ID, next)
}

// ForgotPassword issues a reset code when the account exists. Unknown emails
// are accepted silently so the endpoint does not reveal which accounts exist.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return apierrors.Invalid("Email is required")
	}
	_, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		logger.FromContext(ctx).WithField("email", email).Info("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return apierrors.Internal(err)
	}
	s.sendCode(ctx, email, models.PurposePasswordReset)
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, email, code, next string) error {
	email = normalizeEmail(email)
	if email == "" || code == "" || next == "" {
		return apierrors.Invalid("Email, OTP and new password are required")
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return apierrors.ErrInvalidCode
	}
	if err != nil {
		return apierrors.Internal(err)
	}
	if err := s.otps.Consume(ctx, email, models.PurposePasswordReset, code); err != nil {
		return err
	}
	return s.setPassword(ctx, user.ID, next)
}

func (s *AuthService) setPassword(ctx context.Context, userID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return apierrors.Internal(err)
	}
	if err := s.users.SetPasswordHash(ctx, userID, string(hash)); err != nil {
		return apierrors.Internal(err)
	}
	return nil
}
