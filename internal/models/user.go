package models

import (
	"time"
)

type User struct {
	PhoneNumber string    `json:"phone_number" dynamodbav:"PhoneNumber"`
	Name        string    `json:"name,omitempty" dynamodbav:"Name,omitempty"`
	CreatedAt   time.Time `json:"created_at" dynamodbav:"CreatedAt"`
	UpdatedAt   time.Time `json:"updated_at" dynamodbav:"UpdatedAt"`
}

func (u *User) GetPK() string {
	return "USER#" + u.PhoneNumber
}

func (u *User) GetSK() string {
	return "METADATA"
}
