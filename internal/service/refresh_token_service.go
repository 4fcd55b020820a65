package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/voltmart/voltmart/internal/models"
)

// ErrTokenNotFound is returned when a refresh token's JTI has no record,
// because it expired or was never stored.
var ErrTokenNotFound = errors.New("refresh token not found")

// RefreshTokenService tracks issued refresh tokens in Redis so they can be
// revoked individually or as a whole family. Keys expire with the token.
type RefreshTokenService struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRefreshTokenService(client *redis.Client, logger *logrus.Logger) *RefreshTokenService {
	return &RefreshTokenService{
		client: client,
		logger: logger,
	}
}

func (s *RefreshTokenService) Store(ctx context.Context, jti, phone, familyID string, expiresAt time.Time) error {
	tokenData := models.RefreshTokenData{
		JTI:       jti,
		Phone:     phone,
		FamilyID:  familyID,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
		Revoked:   false,
	}

	dataJSON, err := json.Marshal(tokenData)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	key := fmt.Sprintf("refresh_token:%s", jti)
	ttl := time.Until(expiresAt)

	if err := s.client.Set(ctx, key, dataJSON, ttl).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store refresh token")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

func (s *RefreshTokenService) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	key := fmt.Sprintf("refresh_token:%s", jti)

	dataJSON, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var tokenData models.RefreshTokenData
	if err := json.Unmarshal([]byte(dataJSON), &tokenData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}

	return &tokenData, nil
}

func (s *RefreshTokenService) Revoke(ctx context.Context, jti string) error {
	key := fmt.Sprintf("refresh_token:%s", jti)

	tokenData, err := s.Get(ctx, jti)
	if err != nil {
		return err
	}

	tokenData.Revoked = true
	dataJSON, err := json.Marshal(tokenData)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	ttl := time.Until(tokenData.ExpiresAt)
	if ttl < 0 {
		ttl = 0
	}

	if err := s.client.Set(ctx, key, dataJSON, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	// Separate marker for a cheap revocation check on the refresh path.
	revokedKey := fmt.Sprintf("revoked_token:%s", jti)
	s.client.Set(ctx, revokedKey, "1", ttl)

	return nil
}

func (s *RefreshTokenService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	revokedKey := fmt.Sprintf("revoked_token:%s", jti)
	exists, err := s.client.Exists(ctx, revokedKey).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// RevokeFamily revokes every live token descended from the same initial
// login. Used when rotation detects reuse of an already-rotated token.
func (s *RefreshTokenService) RevokeFamily(ctx context.Context, familyID string) error {
	iter := s.client.Scan(ctx, 0, "refresh_token:*", 0).Iterator()
	for iter.Next(ctx) {
		dataJSON, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}

		var tokenData models.RefreshTokenData
		if err := json.Unmarshal([]byte(dataJSON), &tokenData); err != nil {
			continue
		}

		if tokenData.FamilyID == familyID && !tokenData.Revoked {
			if err := s.Revoke(ctx, tokenData.JTI); err != nil {
				s.logger.WithError(err).WithField("jti", tokenData.JTI).Warn("Failed to revoke family member token")
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan refresh tokens: %w", err)
	}

	return nil
}
