package models

import "time"

// OTPRecord is the single active one-time password for a phone number.
// Phone is the natural key; at most one record exists per phone.
type OTPRecord struct {
	Phone           string    `json:"phone" dynamodbav:"Phone"`
	Code            string    `json:"code" dynamodbav:"Code"`
	Attempts        int       `json:"attempts" dynamodbav:"Attempts"`
	VerificationRef string    `json:"verification_ref,omitempty" dynamodbav:"VerificationRef,omitempty"`
	CreatedAt       time.Time `json:"created_at" dynamodbav:"CreatedAt"`
	ExpiresAt       time.Time `json:"expires_at" dynamodbav:"ExpiresAt"`
}

func (o *OTPRecord) GetPK() string {
	return "OTP#" + o.Phone
}

func (o *OTPRecord) GetSK() string {
	return "METADATA"
}

// Expired reports whether the record is past its expiry at the given
// instant. Expired records are treated as absent even before the store
// physically reaps them.
func (o *OTPRecord) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// OTPStats is a point-in-time census of stored OTP records. Active and
// Expired always sum to Total.
type OTPStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}
