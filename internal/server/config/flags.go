package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/flagx"
)

// serverFlags lists the short flags owned by the server configuration.
var serverFlags = []string{"-a", "-g", "-d", "-u", "-t", "-r", "-v", "-x", "-p", "-i", "-k", "-l", "-m", "-e"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     HTTP bind address (e.g., ":8080")
//	-g string     gRPC health bind address (e.g., ":50051")
//	-d string     PostgreSQL DSN, or "memory" for the in-process store
//	-u string     public base URL used in emailed links
//	-t int        access token validity, minutes
//	-r int        refresh token validity, minutes
//	-v int        verification token validity, minutes
//	-x int        reset token validity, minutes
//	-p duration   reaper grace period (e.g., "24h")
//	-i duration   reaper sweep interval (e.g., "30m")
//	-k int        bcrypt cost
//	-l string     log level
//	-m string     SMTP server address (empty logs mail instead of sending)
//	-e string     Redis address for the shared rate limiter
//
// Token validity flags are whole minutes and converted to time.Duration.
// Secrets are deliberately not accepted on the command line.
func parseFlags(config *Config, args []string) error {
	filtered := flagx.FilterArgs(args, serverFlags)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC health address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.PublicBaseURL, "u", config.PublicBaseURL, "public base URL")

	accessTTL := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	refreshTTL := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh token validity (in minutes)")
	verificationTTL := fs.Int("v", int(config.VerificationTokenValidityDuration.Minutes()), "verification token validity (in minutes)")
	resetTTL := fs.Int("x", int(config.ResetTokenValidityDuration.Minutes()), "reset token validity (in minutes)")

	fs.DurationVar(&config.ReaperGracePeriod, "p", config.ReaperGracePeriod, "reaper grace period")
	fs.DurationVar(&config.ReaperInterval, "i", config.ReaperInterval, "reaper sweep interval")
	fs.IntVar(&config.PasswordHashCost, "k", config.PasswordHashCost, "bcrypt cost")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.SMTPAddr, "m", config.SMTPAddr, "SMTP server address")
	fs.StringVar(&config.RedisAddr, "e", config.RedisAddr, "Redis address")

	if err := fs.Parse(filtered); err != nil {
		return err
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTTL) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTTL) * time.Minute
	config.VerificationTokenValidityDuration = time.Duration(*verificationTTL) * time.Minute
	config.ResetTokenValidityDuration = time.Duration(*resetTTL) * time.Minute

	return nil
}
