package service

import (
	"errors"
	"fmt"
)

// Expected, user-facing OTP failures. Handlers translate these to HTTP
// statuses; everything else that comes out of the OTP service is a storage
// or gateway failure and maps to a generic 500.
var (
	// ErrOTPNotFound: no active OTP for the phone; the caller should
	// request a new one.
	ErrOTPNotFound = errors.New("no active OTP, request a new one")

	// ErrOTPExpired: the OTP's validity window has passed.
	ErrOTPExpired = errors.New("OTP expired")

	// ErrTooManyAttempts: the attempt budget is exhausted and the record
	// has been invalidated.
	ErrTooManyAttempts = errors.New("maximum verification attempts exceeded")
)

// RateLimitedError is returned when a new OTP is requested before the
// resend cooldown has elapsed.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("OTP already sent, retry in %d seconds", e.RetryAfterSeconds)
}

// InvalidCodeError is returned on a code mismatch. The attempt has already
// been counted and persisted by the time the caller sees this.
type InvalidCodeError struct {
	AttemptsRemaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid OTP, %d attempts remaining", e.AttemptsRemaining)
}
