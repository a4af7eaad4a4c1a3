package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"houseparty-server/models"
	"houseparty-server/store"
	apierrors "houseparty-server/utils/errors"
	"houseparty-server/utils/logger"
)

const otpDigits = 6

// OTPService issues and consumes one-time codes. Codes are stored as bcrypt
// hashes; comparison goes through bcrypt which is constant time.
type OTPService struct {
	otps        store.OTPStore
	ttl         time.Duration
	maxAttempts int
	cost        int
	now         func() time.Time
	generate    func() (string, error)
}

func NewOTPService(otps store.OTPStore, ttl time.Duration, maxAttempts int) *OTPService {
	return &OTPService{
		otps:        otps,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		cost:        bcrypt.DefaultCost,
		now:         time.Now,
		generate:    randomCode,
	}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()+100000), nil
}

func (s *OTPService) TTL() time.Duration {
	return s.ttl
}

// Issue replaces any earlier code for (email, purpose) and returns the new
// plaintext code for delivery.
func (s *OTPService) Issue(ctx context.Context, email string, purpose models.OTPPurpose) (string, error) {
	code, err := s.generate()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}
	now := s.now()
	otp := &models.OTP{
		ID:        store.NewID(),
		Email:     email,
		Purpose:   purpose,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.otps.Replace(ctx, otp); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	return code, nil
}

// Consume checks code against the active OTP and deletes it on success.
// Every failure mode is reported as ErrInvalidCode.
func (s *OTPService) Consume(ctx context.Context, email string, purpose models.OTPPurpose, code string) error {
	log := logger.FromContext(ctx).WithField("purpose", purpose)

	otp, err := s.otps.FindActive(ctx, email, purpose, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return apierrors.ErrInvalidCode
	}
	if err != nil {
		return apierrors.Internal(err)
	}

	if bcrypt.CompareHashAndPassword([]byte(otp.CodeHash), []byte(code)) != nil {
		attempts, err := s.otps.IncrementAttempts(ctx, otp.ID)
		if err == nil && attempts >= s.maxAttempts {
			log.Info("otp attempt limit reached, discarding code")
			_ = s.otps.Delete(ctx, otp.ID)
		}
		return apierrors.ErrInvalidCode
	}

	// A concurrent consumer may have won the delete; only one caller succeeds.
	if err := s.otps.Delete(ctx, otp.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierrors.ErrInvalidCode
		}
		return apierrors.Internal(err)
	}
	return nil
}
