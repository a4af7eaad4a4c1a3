package models

import "time"

type OTPPurpose string

const (
	PurposeEmailVerification OTPPurpose = "email_verification"
	PurposePhoneVerification OTPPurpose = "phone_verification"
	PurposePasswordReset     OTPPurpose = "password_reset"
)

func (p OTPPurpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposePhoneVerification, PurposePasswordReset:
		return true
	}
	return false
}

// OTP holds a bcrypt hash of the code, never the code itself.
type OTP struct {
	ID        string     `bson:"_id"`
	Email     string     `bson:"email"`
	Purpose   OTPPurpose `bson:"purpose"`
	CodeHash  string     `bson:"code_hash"`
	Attempts  int        `bson:"attempts"`
	ExpiresAt time.Time  `bson:"expires_at"`
	CreatedAt time.Time  `bson:"created_at"`
}

func (o *OTP) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
