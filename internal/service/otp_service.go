package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voltmart/voltmart/internal/config"
	"github.com/voltmart/voltmart/internal/models"
	"github.com/voltmart/voltmart/internal/repository"
)

// OTPStore is the persistence contract the OTP service runs against.
// Implemented by repository.OTPRepository; Get returns (nil, nil) when no
// record exists, and IncrementAttempts/SetVerificationRef return
// repository.ErrOTPNotFound when the record is gone.
type OTPStore interface {
	Put(ctx context.Context, record *models.OTPRecord) error
	Get(ctx context.Context, phone string) (*models.OTPRecord, error)
	Delete(ctx context.Context, phone string) error
	IncrementAttempts(ctx context.Context, phone string) (int, error)
	SetVerificationRef(ctx context.Context, phone, reference string) error
	Stats(ctx context.Context, now time.Time) (*models.OTPStats, error)
}

// CodeMatcher decides whether a submitted code matches the active record.
// Selected once at startup: local exact compare, or delegation to the SMS
// gateway's own check.
type CodeMatcher interface {
	Match(ctx context.Context, record *models.OTPRecord, submitted string) (bool, error)
}

// IssuedOTP is the result of a successful issuance. The record is durably
// stored before this is returned.
type IssuedOTP struct {
	Code      string
	ExpiresAt time.Time
}

type OTPService struct {
	store   OTPStore
	matcher CodeMatcher
	cfg     *config.OTPConfig
	logger  *logrus.Logger

	now func() time.Time
}

func NewOTPService(store OTPStore, matcher CodeMatcher, cfg *config.OTPConfig, logger *logrus.Logger) *OTPService {
	return &OTPService{
		store:   store,
		matcher: matcher,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// GenerateOTP issues a fresh code for the phone. A still-cooling-down
// earlier request fails with RateLimitedError; an earlier record past the
// cooldown is superseded, so at most one record is live per phone.
func (s *OTPService) GenerateOTP(ctx context.Context, phone string) (*IssuedOTP, error) {
	now := s.now()

	existing, err := s.store.Get(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to look up OTP record: %w", err)
	}

	if existing != nil {
		elapsed := now.Sub(existing.CreatedAt)
		if elapsed < s.cfg.Cooldown {
			remaining := s.cfg.Cooldown - elapsed
			// Round up so the caller never retries a second early.
			seconds := int((remaining + time.Second - 1) / time.Second)
			return nil, &RateLimitedError{RetryAfterSeconds: seconds}
		}

		if err := s.store.Delete(ctx, phone); err != nil {
			return nil, fmt.Errorf("failed to supersede OTP record: %w", err)
		}
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate OTP code: %w", err)
	}

	record := &models.OTPRecord{
		Phone:     phone,
		Code:      code,
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}

	// The write must complete before the code is handed back.
	if err := s.store.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store OTP record: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"phone":      phone,
		"expires_at": record.ExpiresAt,
	}).Info("OTP issued")

	return &IssuedOTP{Code: code, ExpiresAt: record.ExpiresAt}, nil
}

// VerifyOTP checks a submitted code. On success the record is deleted
// before returning, so a code is consumable exactly once. Mismatches are
// counted atomically in the store and persisted before the failure is
// returned; the attempt that reaches the maximum invalidates the record.
func (s *OTPService) VerifyOTP(ctx context.Context, phone, submitted string) error {
	record, err := s.store.Get(ctx, phone)
	if err != nil {
		return fmt.Errorf("failed to look up OTP record: %w", err)
	}
	if record == nil {
		return ErrOTPNotFound
	}

	if record.Expired(s.now()) {
		if err := s.store.Delete(ctx, phone); err != nil {
			return fmt.Errorf("failed to delete expired OTP record: %w", err)
		}
		return ErrOTPExpired
	}

	// A prior verification may have burned the budget without managing to
	// delete the record.
	if record.Attempts >= s.cfg.MaxAttempts {
		if err := s.store.Delete(ctx, phone); err != nil {
			return fmt.Errorf("failed to delete exhausted OTP record: %w", err)
		}
		return ErrTooManyAttempts
	}

	matched, err := s.matcher.Match(ctx, record, submitted)
	if err != nil {
		return fmt.Errorf("failed to check OTP code: %w", err)
	}

	if !matched {
		attempts, err := s.store.IncrementAttempts(ctx, phone)
		if err != nil {
			if errors.Is(err, repository.ErrOTPNotFound) {
				return ErrOTPNotFound
			}
			return fmt.Errorf("failed to record OTP attempt: %w", err)
		}

		if attempts >= s.cfg.MaxAttempts {
			if err := s.store.Delete(ctx, phone); err != nil {
				return fmt.Errorf("failed to delete exhausted OTP record: %w", err)
			}
			return ErrTooManyAttempts
		}

		return &InvalidCodeError{AttemptsRemaining: s.cfg.MaxAttempts - attempts}
	}

	if err := s.store.Delete(ctx, phone); err != nil {
		return fmt.Errorf("failed to consume OTP record: %w", err)
	}

	s.logger.WithField("phone", phone).Info("OTP verified")
	return nil
}

// CorrelateVerificationRef stores the delivery gateway's opaque handle on
// the live record so gateway-side verification can reference the original
// send.
func (s *OTPService) CorrelateVerificationRef(ctx context.Context, phone, reference string) error {
	if err := s.store.SetVerificationRef(ctx, phone, reference); err != nil {
		if errors.Is(err, repository.ErrOTPNotFound) {
			return ErrOTPNotFound
		}
		return fmt.Errorf("failed to store verification reference: %w", err)
	}
	return nil
}

// VerificationRef fetches the stored gateway handle for the phone's live
// record.
func (s *OTPService) VerificationRef(ctx context.Context, phone string) (string, error) {
	record, err := s.store.Get(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("failed to look up OTP record: %w", err)
	}
	if record == nil || record.Expired(s.now()) {
		return "", ErrOTPNotFound
	}
	return record.VerificationRef, nil
}

// Stats reports total/active/expired record counts. Expired-but-unreaped
// records show up in Expired until the store's TTL sweep removes them.
func (s *OTPService) Stats(ctx context.Context) (*models.OTPStats, error) {
	stats, err := s.store.Stats(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to collect OTP stats: %w", err)
	}
	return stats, nil
}

func (s *OTPService) generateCode() (string, error) {
	span := int64(s.cfg.CodeMax - s.cfg.CodeMin + 1)
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+int64(s.cfg.CodeMin), 10), nil
}
