package service

import (
	"context"

	"github.com/voltmart/voltmart/internal/models"
	"github.com/voltmart/voltmart/internal/sms"
)

// LocalMatcher compares the submitted code against the stored one. This is
// the development-mode strategy and the fallback when the gateway issued no
// verification reference.
type LocalMatcher struct{}

func NewLocalMatcher() *LocalMatcher {
	return &LocalMatcher{}
}

func (m *LocalMatcher) Match(ctx context.Context, record *models.OTPRecord, submitted string) (bool, error) {
	return record.Code == submitted, nil
}

// GatewayMatcher delegates the code check to the SMS gateway using the
// verification reference stored on the record. Local guards (presence,
// expiry, attempt budget) still apply before this is consulted.
type GatewayMatcher struct {
	client *sms.Client
}

func NewGatewayMatcher(client *sms.Client) *GatewayMatcher {
	return &GatewayMatcher{client: client}
}

func (m *GatewayMatcher) Match(ctx context.Context, record *models.OTPRecord, submitted string) (bool, error) {
	// No reference means the gateway never acknowledged the send; compare
	// the locally stored code instead.
	if record.VerificationRef == "" {
		return record.Code == submitted, nil
	}
	return m.client.CheckOTP(ctx, record.VerificationRef, submitted)
}
