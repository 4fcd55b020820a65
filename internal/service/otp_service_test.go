package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmart/voltmart/internal/config"
	"github.com/voltmart/voltmart/internal/models"
	"github.com/voltmart/voltmart/internal/repository"
)

// memOTPStore is an in-memory OTPStore with the same contract as the
// DynamoDB repository.
type memOTPStore struct {
	mu      sync.Mutex
	records map[string]*models.OTPRecord
}

func newMemOTPStore() *memOTPStore {
	return &memOTPStore{records: make(map[string]*models.OTPRecord)}
}

func (s *memOTPStore) Put(ctx context.Context, record *models.OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.records[record.Phone] = &copied
	return nil
}

func (s *memOTPStore) Get(ctx context.Context, phone string) (*models.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[phone]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (s *memOTPStore) Delete(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, phone)
	return nil
}

func (s *memOTPStore) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[phone]
	if !ok {
		return 0, repository.ErrOTPNotFound
	}
	record.Attempts++
	return record.Attempts, nil
}

func (s *memOTPStore) SetVerificationRef(ctx context.Context, phone, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[phone]
	if !ok {
		return repository.ErrOTPNotFound
	}
	record.VerificationRef = reference
	return nil
}

func (s *memOTPStore) Stats(ctx context.Context, now time.Time) (*models.OTPStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.OTPStats{}
	for _, record := range s.records {
		stats.Total++
		if record.Expired(now) {
			stats.Expired++
		} else {
			stats.Active++
		}
	}
	return stats, nil
}

func testOTPConfig() *config.OTPConfig {
	return &config.OTPConfig{
		CodeMin:     1000,
		CodeMax:     9999,
		Expiry:      5 * time.Minute,
		Cooldown:    2 * time.Minute,
		MaxAttempts: 3,
	}
}

func newTestOTPService(t *testing.T) (*OTPService, *memOTPStore, *time.Time) {
	t.Helper()
	store := newMemOTPStore()
	logger := logrus.New()
	logger.SetOutput(testWriter{t})

	svc := NewOTPService(store, NewLocalMatcher(), testOTPConfig(), logger)

	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	clock := &now
	svc.now = func() time.Time { return *clock }

	return svc, store, clock
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestGenerateOTP(t *testing.T) {
	svc, store, _ := newTestOTPService(t)
	ctx := context.Background()

	issued, err := svc.GenerateOTP(ctx, "9876543210")
	require.NoError(t, err)

	assert.Len(t, issued.Code, 4)
	code, err := strconv.Atoi(issued.Code)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, code, 1000)
	assert.LessOrEqual(t, code, 9999)

	record, err := store.Get(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, record, "record must be persisted before the code is returned")
	assert.Equal(t, issued.Code, record.Code)
	assert.Equal(t, 0, record.Attempts)
	assert.Equal(t, record.CreatedAt.Add(5*time.Minute), record.ExpiresAt)
	assert.Equal(t, record.ExpiresAt, issued.ExpiresAt)
}

func TestGenerateOTPRateLimited(t *testing.T) {
	svc, store, clock := newTestOTPService(t)
	ctx := context.Background()

	first, err := svc.GenerateOTP(ctx, "9876543210")
	require.NoError(t, err)

	_, err = svc.GenerateOTP(ctx, "9876543210")
	var rateLimited *RateLimitedError
	require.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, 120, rateLimited.RetryAfterSeconds)

	// The original record is untouched.
	record, err := store.Get(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, first.Code, record.Code)

	// Partway through the window the reported wait shrinks.
	*clock = clock.Add(90 * time.Second)
	_, err = svc.GenerateOTP(ctx, "9876543210")
	require.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, 30, rateLimited.RetryAfterSeconds)
}

func TestGenerateOTPAfterCooldown(t *testing.T) {
	svc, store, clock := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.GenerateOTP(ctx, "9876543210")
	require.NoError(t, err)

	// Burn an attempt so the reset is observable.
	err = svc.VerifyOTP(ctx, "9876543210", "0000")
	var invalidCode *InvalidCodeError
	require.ErrorAs(t, err, &invalidCode)

	*clock = clock.Add(2 * time.Minute)

	issued, err := svc.GenerateOTP(ctx, "9876543210")
	require.NoError(t, err)

	record, err := store.Get(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, issued.Code, record.Code)
	assert.Equal(t, 0, record.Attempts, "new issuance resets attempts")
	assert.Equal(t, clock.Add(5*time.Minute), record.ExpiresAt)
}

func TestVerifyOTPSuccessIsSingleUse(t *testing.T) {
	svc, store, _ := newTestOTPService(t)
	ctx := context.Background()

	issued, err := svc.GenerateOTP(ctx, "9876543210")
	require.NoError(t, err)

	require.NoError(t, svc.VerifyOTP(ctx, "9876543210", issued.Code))

	record, err := store.Get(ctx, "9876543210")
	require.NoError(t, err)
	assert.Nil(t, record, "record is deleted on success")

	// Replaying the same code finds nothing.
	err = svc.VerifyOTP(ctx, "9876543210", issued.Code)
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestVerifyOTPWrongCodeCountsAttempts(t *testing.T) {
	svc, store, _ := newTestOTPService(t)
	ctx := context.Background()

	issued, err := svc.GenerateOTP(ctx, "9876543210")
	require.NoError(t, err)
	wrong := "0000"
	if issued.Code == wrong {
		wrong = "0001"
	}

	var invalidCode *InvalidCodeError

	err = svc.VerifyOTP(ctx, "9876543210", wrong)
	require.ErrorAs(t, err, &invalidCode)
	assert.Equal(t, 2, invalidCode.AttemptsRemaining)

	// The failed attempt is persisted before the error returns.
	record, err := store.Get(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 1, record.Attempts)

	err = svc.VerifyOTP(ctx, "9876543210", wrong)
	require.ErrorAs(t, err, &invalidCode)
	assert.Equal(t, 1, invalidCode.AttemptsRemaining)

	// Third miss exhausts the budget and invalidates the record.
	err = svc.VerifyOTP(ctx, "9876543210", wrong)
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	record, err = store.Get(ctx, "9876543210")
	require.NoError(t, err)
	assert.Nil(t, record)

	// Exhaustion is not a lock-out: a fresh request works immediately.
	err = svc.VerifyOTP(ctx, "9876543210", wrong)
	assert.ErrorIs(t, err, ErrOTPNotFound)
	_, err = svc.GenerateOTP(ctx, "9876543210")
	assert.NoError(t, err)
}

func TestVerifyOTPExpired(t *testing.T) {
	svc, store, clock := newTestOTPService(t)
	ctx := context.Background()

	issued, err := svc.GenerateOTP(ctx, "9876543210")
	require.NoError(t, err)

	*clock = clock.Add(5 * time.Minute)

	// The correct code is worthless once the window has closed.
	err = svc.VerifyOTP(ctx, "9876543210", issued.Code)
	assert.ErrorIs(t, err, ErrOTPExpired)

	record, err := store.Get(ctx, "9876543210")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestVerifyOTPNoRecord(t *testing.T) {
	svc, _, _ := newTestOTPService(t)

	err := svc.VerifyOTP(context.Background(), "9876543210", "1234")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestVerificationRefRoundTrip(t *testing.T) {
	svc, _, _ := newTestOTPService(t)
	ctx := context.Background()

	err := svc.CorrelateVerificationRef(ctx, "9876543210", "gw-123")
	assert.ErrorIs(t, err, ErrOTPNotFound, "no record to correlate against")

	_, err = svc.GenerateOTP(ctx, "9876543210")
	require.NoError(t, err)

	require.NoError(t, svc.CorrelateVerificationRef(ctx, "9876543210", "gw-123"))

	ref, err := svc.VerificationRef(ctx, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, "gw-123", ref)
}

func TestVerificationRefExpiredRecord(t *testing.T) {
	svc, _, clock := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.GenerateOTP(ctx, "9876543210")
	require.NoError(t, err)
	require.NoError(t, svc.CorrelateVerificationRef(ctx, "9876543210", "gw-123"))

	*clock = clock.Add(6 * time.Minute)

	_, err = svc.VerificationRef(ctx, "9876543210")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestStats(t *testing.T) {
	svc, _, clock := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.GenerateOTP(ctx, "9876543210")
	require.NoError(t, err)

	*clock = clock.Add(3 * time.Minute)
	_, err = svc.GenerateOTP(ctx, "9123456789")
	require.NoError(t, err)

	// First record (issued at t0, expiring t0+5m) lapses; second stays live.
	*clock = clock.Add(3 * time.Minute)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, stats.Total, stats.Active+stats.Expired)
}

func TestGenerateOTPIndependentPhones(t *testing.T) {
	svc, _, _ := newTestOTPService(t)
	ctx := context.Background()

	_, err := svc.GenerateOTP(ctx, "9876543210")
	require.NoError(t, err)

	// A cooldown on one phone never blocks another.
	_, err = svc.GenerateOTP(ctx, "9123456789")
	assert.NoError(t, err)
}
