package domain

import "time"

// MethodEmail tags account flags enabled through an emailed OTP.
const MethodEmail = "email"

// OTPRecord is a single issued code. Several records may exist per identity;
// history is kept so the resend cooldown and hourly quota can be evaluated.
type OTPRecord struct {
	ID         string     `json:"id"`
	Identity   string     `json:"identity"`
	Code       string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Used       bool       `json:"used"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// Active reports whether the record can still be redeemed at now.
func (r *OTPRecord) Active(now time.Time) bool {
	return !r.Used && !r.ExpiresAt.Before(now)
}

// AccountFlag records that an identity completed verification.
type AccountFlag struct {
	Identity  string    `json:"identity" dynamodbav:"identity"`
	Verified  bool      `json:"verified" dynamodbav:"verified"`
	Method    string    `json:"method" dynamodbav:"method"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

type SendOTPRequest struct {
	Email string `json:"email" validate:"required,otp_email"`
}

type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,otp_email"`
	OTP   string `json:"otp" validate:"required"`
}
