package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voltmart/voltmart/internal/models"
	"github.com/voltmart/voltmart/internal/service"
	"github.com/voltmart/voltmart/internal/sms"
)

// UserStore upserts storefront accounts keyed by phone number.
type UserStore interface {
	GetOrCreate(ctx context.Context, phoneNumber string) (*models.User, error)
}

// RefreshTokenStore tracks issued refresh tokens for rotation and
// revocation.
type RefreshTokenStore interface {
	Store(ctx context.Context, jti, phone, familyID string, expiresAt time.Time) error
	Get(ctx context.Context, jti string) (*models.RefreshTokenData, error)
	Revoke(ctx context.Context, jti string) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	RevokeFamily(ctx context.Context, familyID string) error
}

type AuthHandlers struct {
	otpService *service.OTPService
	jwtService *service.JWTService
	tokens     RefreshTokenStore
	users      UserStore
	sender     sms.Sender
	logger     *logrus.Logger
}

func NewAuthHandlers(
	otpService *service.OTPService,
	jwtService *service.JWTService,
	tokens RefreshTokenStore,
	users UserStore,
	sender sms.Sender,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		otpService: otpService,
		jwtService: jwtService,
		tokens:     tokens,
		users:      users,
		sender:     sender,
		logger:     logger,
	}
}

type InitiateOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type InitiateOTPResponse struct {
	Message          string `json:"message"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

type VerifyOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	OTP         string `json:"otp"`
}

type VerifyOTPResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         UserResponse `json:"user"`
}

type UserResponse struct {
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name,omitempty"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	AttemptsRemaining int    `json:"attempts_remaining,omitempty"`
}

func (h *AuthHandlers) InitiateOTP(w http.ResponseWriter, r *http.Request) {
	var req InitiateOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, ErrorDetail{Code: "INVALID_REQUEST", Message: "Invalid request body"})
		return
	}

	phoneNumber, ok := normalizePhoneNumber(req.PhoneNumber)
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, ErrorDetail{Code: "INVALID_PHONE", Message: "Invalid phone number format"})
		return
	}

	issued, err := h.otpService.GenerateOTP(r.Context(), phoneNumber)
	if err != nil {
		var rateLimited *service.RateLimitedError
		if errors.As(err, &rateLimited) {
			h.respondWithError(w, http.StatusTooManyRequests, ErrorDetail{
				Code:              "OTP_RATE_LIMITED",
				Message:           "OTP already sent, wait before requesting a new one",
				RetryAfterSeconds: rateLimited.RetryAfterSeconds,
			})
			return
		}
		h.logger.WithError(err).Error("Failed to generate OTP")
		h.respondWithError(w, http.StatusInternalServerError, ErrorDetail{Code: "OTP_GENERATION_FAILED", Message: "Failed to generate OTP"})
		return
	}

	reference, err := h.sender.Deliver(r.Context(), phoneNumber, issued.Code)
	if err != nil {
		h.logger.WithError(err).Error("Failed to deliver OTP")
		h.respondWithError(w, http.StatusInternalServerError, ErrorDetail{Code: "OTP_DELIVERY_FAILED", Message: "Failed to deliver OTP"})
		return
	}

	if reference != "" {
		if err := h.otpService.CorrelateVerificationRef(r.Context(), phoneNumber, reference); err != nil {
			// The SMS is already out; verification will fall back to the
			// local compare.
			h.logger.WithError(err).Warn("Failed to correlate gateway verification reference")
		}
	}

	h.respondWithJSON(w, http.StatusOK, InitiateOTPResponse{
		Message:          "OTP sent successfully",
		ExpiresInSeconds: int(time.Until(issued.ExpiresAt).Seconds()),
	})
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, ErrorDetail{Code: "INVALID_REQUEST", Message: "Invalid request body"})
		return
	}

	phoneNumber, ok := normalizePhoneNumber(req.PhoneNumber)
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, ErrorDetail{Code: "INVALID_PHONE", Message: "Invalid phone number format"})
		return
	}

	otp := strings.TrimSpace(req.OTP)
	if len(otp) < 4 || len(otp) > 6 {
		h.respondWithError(w, http.StatusBadRequest, ErrorDetail{Code: "INVALID_OTP", Message: "Invalid OTP format"})
		return
	}

	if err := h.otpService.VerifyOTP(r.Context(), phoneNumber, otp); err != nil {
		h.respondWithOTPError(w, err)
		return
	}

	user, err := h.users.GetOrCreate(r.Context(), phoneNumber)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get or create user")
		h.respondWithError(w, http.StatusInternalServerError, ErrorDetail{Code: "USER_CREATION_FAILED", Message: "Failed to create user"})
		return
	}

	tokenPair, familyID, err := h.jwtService.IssueTokenPair(phoneNumber, "")
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate tokens")
		h.respondWithError(w, http.StatusInternalServerError, ErrorDetail{Code: "TOKEN_GENERATION_FAILED", Message: "Failed to generate tokens"})
		return
	}

	claims, err := h.jwtService.VerifyToken(tokenPair.RefreshToken)
	if err != nil {
		h.logger.WithError(err).Error("Failed to verify refresh token")
		h.respondWithError(w, http.StatusInternalServerError, ErrorDetail{Code: "TOKEN_GENERATION_FAILED", Message: "Failed to generate tokens"})
		return
	}

	if err := h.tokens.Store(
		r.Context(),
		claims.JTI,
		phoneNumber,
		familyID,
		claims.RegisteredClaims.ExpiresAt.Time,
	); err != nil {
		h.logger.WithError(err).Error("Failed to store refresh token")
		// Continue anyway, token is still valid
	}

	h.respondWithJSON(w, http.StatusOK, VerifyOTPResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    tokenPair.TokenType,
		ExpiresIn:    tokenPair.ExpiresIn,
		User: UserResponse{
			PhoneNumber: user.PhoneNumber,
			Name:        user.Name,
		},
	})
}

// respondWithOTPError maps the verification failure taxonomy to HTTP.
// Expected kinds are 400 with a human-readable message; anything else is a
// storage/gateway failure and stays a generic 500.
func (h *AuthHandlers) respondWithOTPError(w http.ResponseWriter, err error) {
	var invalidCode *service.InvalidCodeError

	switch {
	case errors.Is(err, service.ErrOTPNotFound):
		h.respondWithError(w, http.StatusBadRequest, ErrorDetail{Code: "OTP_NOT_FOUND", Message: "No active OTP, request a new one"})
	case errors.Is(err, service.ErrOTPExpired):
		h.respondWithError(w, http.StatusBadRequest, ErrorDetail{Code: "OTP_EXPIRED", Message: "OTP has expired, request a new one"})
	case errors.Is(err, service.ErrTooManyAttempts):
		h.respondWithError(w, http.StatusBadRequest, ErrorDetail{Code: "OTP_ATTEMPTS_EXCEEDED", Message: "Too many incorrect attempts, request a new OTP"})
	case errors.As(err, &invalidCode):
		h.respondWithError(w, http.StatusBadRequest, ErrorDetail{
			Code:              "INVALID_OTP",
			Message:           "Incorrect OTP",
			AttemptsRemaining: invalidCode.AttemptsRemaining,
		})
	default:
		h.logger.WithError(err).Error("OTP verification failed")
		h.respondWithError(w, http.StatusInternalServerError, ErrorDetail{Code: "VERIFICATION_FAILED", Message: "Failed to verify OTP"})
	}
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, ErrorDetail{Code: "INVALID_REQUEST", Message: "Invalid request body"})
		return
	}

	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, ErrorDetail{Code: "MISSING_TOKEN", Message: "Refresh token is required"})
		return
	}

	claims, err := h.jwtService.VerifyToken(req.RefreshToken)
	if err != nil {
		h.respondWithError(w, http.StatusUnauthorized, ErrorDetail{Code: "INVALID_TOKEN", Message: "Invalid refresh token"})
		return
	}

	if claims.Type != "refresh" {
		h.respondWithError(w, http.StatusUnauthorized, ErrorDetail{Code: "INVALID_TOKEN_TYPE", Message: "Token is not a refresh token"})
		return
	}

	tokenData, err := h.tokens.Get(r.Context(), claims.JTI)
	if err != nil && !errors.Is(err, service.ErrTokenNotFound) {
		h.logger.WithError(err).Warn("Failed to get refresh token data")
	}

	// Reuse of a rotated token means the token leaked; burn the family.
	revoked, err := h.tokens.IsRevoked(r.Context(), claims.JTI)
	if err == nil && revoked {
		if tokenData != nil {
			if err := h.tokens.RevokeFamily(r.Context(), tokenData.FamilyID); err != nil {
				h.logger.WithError(err).Warn("Failed to revoke token family")
			}
		}
		h.respondWithError(w, http.StatusUnauthorized, ErrorDetail{Code: "TOKEN_REVOKED", Message: "Refresh token has been revoked"})
		return
	}

	familyID := ""
	if tokenData != nil {
		familyID = tokenData.FamilyID
		if err := h.tokens.Revoke(r.Context(), claims.JTI); err != nil {
			h.logger.WithError(err).Warn("Failed to revoke rotated refresh token")
		}
	}

	newTokenPair, newFamilyID, err := h.jwtService.RefreshTokens(req.RefreshToken, familyID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate new tokens")
		h.respondWithError(w, http.StatusInternalServerError, ErrorDetail{Code: "TOKEN_GENERATION_FAILED", Message: "Failed to generate tokens"})
		return
	}

	newClaims, err := h.jwtService.VerifyToken(newTokenPair.RefreshToken)
	if err != nil {
		h.logger.WithError(err).Error("Failed to verify new refresh token")
		h.respondWithError(w, http.StatusInternalServerError, ErrorDetail{Code: "TOKEN_GENERATION_FAILED", Message: "Failed to generate tokens"})
		return
	}

	if err := h.tokens.Store(
		r.Context(),
		newClaims.JTI,
		claims.Phone,
		newFamilyID,
		newClaims.RegisteredClaims.ExpiresAt.Time,
	); err != nil {
		h.logger.WithError(err).Error("Failed to store new refresh token")
		// Continue anyway
	}

	h.respondWithJSON(w, http.StatusOK, RefreshTokenResponse{
		AccessToken:  newTokenPair.AccessToken,
		RefreshToken: newTokenPair.RefreshToken,
		TokenType:    newTokenPair.TokenType,
		ExpiresIn:    newTokenPair.ExpiresIn,
	})
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	_, ok := r.Context().Value("claims").(*service.Claims)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, ErrorDetail{Code: "UNAUTHORIZED", Message: "Invalid token"})
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	if req.RefreshToken != "" {
		refreshClaims, err := h.jwtService.VerifyToken(req.RefreshToken)
		if err == nil && refreshClaims.Type == "refresh" {
			h.tokens.Revoke(r.Context(), refreshClaims.JTI)
		}
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

// OTPStats exposes the record census for operational dashboards.
func (h *AuthHandlers) OTPStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.otpService.Stats(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to collect OTP stats")
		h.respondWithError(w, http.StatusInternalServerError, ErrorDetail{Code: "STATS_FAILED", Message: "Failed to collect OTP stats"})
		return
	}

	h.respondWithJSON(w, http.StatusOK, stats)
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, detail ErrorDetail) {
	h.respondWithJSON(w, status, ErrorResponse{Error: detail})
}

var phonePattern = regexp.MustCompile(`^[6-9]\d{9}$`)

// normalizePhoneNumber reduces the input to the national 10-digit
// subscriber number (mobiles start 6-9). A +91/91 country prefix is
// stripped; anything else non-conforming is rejected.
func normalizePhoneNumber(input string) (string, bool) {
	phone := strings.TrimSpace(input)
	phone = strings.TrimPrefix(phone, "+")
	if len(phone) == 12 && strings.HasPrefix(phone, "91") {
		phone = phone[2:]
	}
	if !phonePattern.MatchString(phone) {
		return "", false
	}
	return phone, true
}
