package models

import "time"

// TokenPair is the session credential issued after a successful OTP
// verification.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshTokenData tracks an issued refresh token by its JTI. FamilyID ties
// rotated tokens together so a leaked token can take its whole lineage down.
type RefreshTokenData struct {
	JTI       string    `json:"jti"`
	Phone     string    `json:"phone"`
	FamilyID  string    `json:"family_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}
