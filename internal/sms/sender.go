package sms

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Sender delivers a freshly issued OTP to a phone. The returned reference,
// when non-empty, is the gateway's correlation handle for the send.
type Sender interface {
	Deliver(ctx context.Context, phone, code string) (reference string, err error)
}

// LogSender is the development-mode sender: the code never leaves the
// process, it is only written to the log.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Deliver(ctx context.Context, phone, code string) (string, error) {
	s.logger.WithFields(logrus.Fields{
		"phone": phone,
		"otp":   code,
	}).Info("OTP delivery skipped, code logged (development mode)")
	return "", nil
}

// GatewaySender dispatches the code through the SMS gateway.
type GatewaySender struct {
	client *Client
}

func NewGatewaySender(client *Client) *GatewaySender {
	return &GatewaySender{client: client}
}

func (s *GatewaySender) Deliver(ctx context.Context, phone, code string) (string, error) {
	return s.client.SendOTP(ctx, phone, code)
}
