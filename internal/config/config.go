package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	OTP      OTPConfig
	SMS      SMSConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey     string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

type OTPConfig struct {
	// Codes are drawn uniformly from [CodeMin, CodeMax].
	CodeMin     int
	CodeMax     int
	Expiry      time.Duration
	Cooldown    time.Duration
	MaxAttempts int
}

// SMSConfig selects the delivery/verification strategy. Mode "log" keeps
// codes local (development); mode "gateway" delivers through the SMS
// gateway and delegates code checks to it.
type SMSConfig struct {
	Mode     string
	BaseURL  string
	APIKey   string
	SenderID string
	Timeout  time.Duration
}

const (
	SMSModeLog     = "log"
	SMSModeGateway = "gateway"
)

func Load() (*Config, error) {
	// .env is a development convenience; absence is not an error.
	godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "ap-south-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "VoltmartAuth"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", ""),
			AccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
		},
		OTP: OTPConfig{
			CodeMin:     getEnvAsInt("OTP_CODE_MIN", 1000),
			CodeMax:     getEnvAsInt("OTP_CODE_MAX", 9999),
			Expiry:      getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			Cooldown:    getEnvAsDuration("OTP_COOLDOWN", 2*time.Minute),
			MaxAttempts: getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
		},
		SMS: SMSConfig{
			Mode:     getEnv("SMS_MODE", SMSModeLog),
			BaseURL:  getEnv("SMS_GATEWAY_URL", ""),
			APIKey:   getEnv("SMS_GATEWAY_API_KEY", ""),
			SenderID: getEnv("SMS_SENDER_ID", "VLTMRT"),
			Timeout:  getEnvAsDuration("SMS_GATEWAY_TIMEOUT", 10*time.Second),
		},
	}

	if cfg.JWT.SecretKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(cfg.JWT.SecretKey) < 32 {
		return nil, fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if cfg.OTP.CodeMin <= 0 || cfg.OTP.CodeMax <= cfg.OTP.CodeMin {
		return nil, fmt.Errorf("invalid OTP code range [%d, %d]", cfg.OTP.CodeMin, cfg.OTP.CodeMax)
	}

	switch cfg.SMS.Mode {
	case SMSModeLog:
	case SMSModeGateway:
		if cfg.SMS.BaseURL == "" || cfg.SMS.APIKey == "" {
			return nil, fmt.Errorf("SMS_GATEWAY_URL and SMS_GATEWAY_API_KEY are required in gateway mode")
		}
	default:
		return nil, fmt.Errorf("unknown SMS_MODE %q", cfg.SMS.Mode)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
