// Package sms talks to the external SMS delivery gateway and provides the
// delivery strategies the auth flow selects between at startup.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/voltmart/voltmart/internal/config"
)

// Client is a thin HTTP client for the SMS gateway. The gateway can send a
// code we generated, and optionally verify a submitted code against a send
// it previously acknowledged (correlated by the reference it returned).
type Client struct {
	baseURL  string
	apiKey   string
	senderID string
	httpc    *http.Client
	logger   *logrus.Logger
}

func NewClient(cfg *config.SMSConfig, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		senderID: cfg.SenderID,
		httpc:    &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

type sendOTPRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"code"`
	SenderID string `json:"sender_id"`
}

type sendOTPResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

// SendOTP delivers the code to the phone and returns the gateway's
// correlation reference (may be empty if the gateway does not issue one).
func (c *Client) SendOTP(ctx context.Context, phone, code string) (string, error) {
	var resp sendOTPResponse
	if err := c.post(ctx, "/v1/otp/send", sendOTPRequest{
		Phone:    phone,
		Code:     code,
		SenderID: c.senderID,
	}, &resp); err != nil {
		return "", fmt.Errorf("failed to send OTP via gateway: %w", err)
	}

	if resp.Status != "sent" {
		return "", fmt.Errorf("gateway rejected OTP send: %s", resp.Message)
	}

	c.logger.WithFields(logrus.Fields{
		"phone":     phone,
		"reference": resp.Reference,
	}).Info("OTP dispatched via SMS gateway")

	return resp.Reference, nil
}

type checkOTPRequest struct {
	Reference string `json:"reference"`
	Code      string `json:"code"`
}

type checkOTPResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CheckOTP asks the gateway whether the submitted code matches the send
// identified by reference. Only "verified" counts as a match; "mismatch"
// is a clean non-match, anything else is a gateway failure.
func (c *Client) CheckOTP(ctx context.Context, reference, code string) (bool, error) {
	var resp checkOTPResponse
	if err := c.post(ctx, "/v1/otp/check", checkOTPRequest{
		Reference: reference,
		Code:      code,
	}, &resp); err != nil {
		return false, fmt.Errorf("failed to check OTP via gateway: %w", err)
	}

	switch resp.Status {
	case "verified":
		return true, nil
	case "mismatch":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected gateway verification status %q: %s", resp.Status, resp.Message)
	}
}

type balanceResponse struct {
	Credits float64 `json:"credits"`
}

// Balance probes the gateway's account balance. The endpoint's contract is
// not documented upstream; failures are reported, never fatal.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/account/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build balance request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to query gateway balance: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("gateway balance returned status %d", httpResp.StatusCode)
	}

	var resp balanceResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return 0, fmt.Errorf("failed to decode gateway balance: %w", err)
	}

	return resp.Credits, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}

	return nil
}
