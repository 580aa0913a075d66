package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the optional configuration file.
// Durations use timex.Duration so both "15m" and integer nanoseconds decode.
// Absent keys leave the current value untouched.
type JsonConfig struct {
	HTTPAddr      string `json:"http_addr"`
	GRPCAddr      string `json:"grpc_addr"`
	DatabaseDSN   string `json:"database_dsn"`
	PublicBaseURL string `json:"public_base_url"`

	AccessTokenSecret       string `json:"access_token_secret"`
	RefreshTokenSecret      string `json:"refresh_token_secret"`
	VerificationTokenSecret string `json:"verification_token_secret"`
	TokenIssuer             string `json:"token_issuer"`

	AccessTokenValidityDuration       timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration      timex.Duration `json:"refresh_token_validity_duration"`
	VerificationTokenValidityDuration timex.Duration `json:"verification_token_validity_duration"`
	ResetTokenValidityDuration        timex.Duration `json:"reset_token_validity_duration"`

	ReaperGracePeriod timex.Duration `json:"reaper_grace_period"`
	ReaperInterval    timex.Duration `json:"reaper_interval"`
	ReaperBatchSize   *int           `json:"reaper_batch_size"`

	PasswordHashCost    int `json:"password_hash_cost"`
	PasswordHashWorkers int `json:"password_hash_workers"`

	ForgotPasswordUniformResponse *bool `json:"forgot_password_uniform_response"`
	CookieSecure                  *bool `json:"cookie_secure"`

	SMTPAddr      string `json:"smtp_addr"`
	SMTPUsername  string `json:"smtp_username"`
	SMTPPassword  string `json:"smtp_password"`
	MailFrom      string `json:"mail_from"`
	MailWorkers   int    `json:"mail_workers"`
	MailQueueSize int    `json:"mail_queue_size"`

	RedisAddr       string         `json:"redis_addr"`
	RateLimit       int            `json:"rate_limit"`
	RateLimitWindow timex.Duration `json:"rate_limit_window"`

	LogLevel string `json:"log_level"`
}

// parseJson overlays the file at path onto config. An empty path is a no-op.
func parseJson(config *Config, path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.PublicBaseURL, c.PublicBaseURL)

	setString(&config.AccessTokenSecret, c.AccessTokenSecret)
	setString(&config.RefreshTokenSecret, c.RefreshTokenSecret)
	setString(&config.VerificationTokenSecret, c.VerificationTokenSecret)
	setString(&config.TokenIssuer, c.TokenIssuer)

	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDuration(&config.VerificationTokenValidityDuration, c.VerificationTokenValidityDuration)
	setDuration(&config.ResetTokenValidityDuration, c.ResetTokenValidityDuration)

	setDuration(&config.ReaperGracePeriod, c.ReaperGracePeriod)
	setDuration(&config.ReaperInterval, c.ReaperInterval)
	if c.ReaperBatchSize != nil {
		config.ReaperBatchSize = *c.ReaperBatchSize
	}

	setInt(&config.PasswordHashCost, c.PasswordHashCost)
	setInt(&config.PasswordHashWorkers, c.PasswordHashWorkers)

	if c.ForgotPasswordUniformResponse != nil {
		config.ForgotPasswordUniformResponse = *c.ForgotPasswordUniformResponse
	}
	if c.CookieSecure != nil {
		config.CookieSecure = *c.CookieSecure
	}

	setString(&config.SMTPAddr, c.SMTPAddr)
	setString(&config.SMTPUsername, c.SMTPUsername)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.MailFrom, c.MailFrom)
	setInt(&config.MailWorkers, c.MailWorkers)
	setInt(&config.MailQueueSize, c.MailQueueSize)

	setString(&config.RedisAddr, c.RedisAddr)
	setInt(&config.RateLimit, c.RateLimit)
	setDuration(&config.RateLimitWindow, c.RateLimitWindow)

	setString(&config.LogLevel, c.LogLevel)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
