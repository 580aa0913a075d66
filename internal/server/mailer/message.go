// Package mailer delivers account emails. Services enqueue messages on a
// Dispatcher, which hands them to a Sender from background workers so a
// slow mail server never delays a request.
package mailer

import (
	"fmt"
	"html"
	"time"
)

// Kind labels a message for logs and metrics.
const (
	KindVerification    = "verification"
	KindVerified        = "verified"
	KindPasswordReset   = "password_reset"
	KindPasswordChanged = "password_changed"
)

// Message is one outbound email. HTMLBody is a complete HTML fragment.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	Kind     string
}

func greeting(name string) string {
	if name == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", html.EscapeString(name))
}

// formatTTL renders a lifetime for humans: "30 minutes", "2 hours".
func formatTTL(ttl time.Duration) string {
	switch {
	case ttl >= time.Hour && ttl%time.Hour == 0:
		return plural(int(ttl/time.Hour), "hour")
	case ttl >= time.Minute:
		return plural(int(ttl/time.Minute), "minute")
	default:
		return plural(int(ttl/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func VerificationMessage(to, name, link string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Confirm your email address",
		Kind:    KindVerification,
		HTMLBody: fmt.Sprintf(`<p>%s</p>
<p>Please confirm your email address by following the link below. The link expires in %s.</p>
<p><a href="%s">Verify email</a></p>`, greeting(name), formatTTL(ttl), html.EscapeString(link)),
	}
}

func VerifiedMessage(to, name string) Message {
	return Message{
		To:      to,
		Subject: "Your email address is confirmed",
		Kind:    KindVerified,
		HTMLBody: fmt.Sprintf(`<p>%s</p>
<p>Your email address has been verified. You can now sign in.</p>`, greeting(name)),
	}
}

func PasswordResetMessage(to, name, link string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Reset your password",
		Kind:    KindPasswordReset,
		HTMLBody: fmt.Sprintf(`<p>%s</p>
<p>A password reset was requested for this account. The link below is valid for %s and can be used once.</p>
<p><a href="%s">Reset password</a></p>
<p>If you did not request it, ignore this email.</p>`, greeting(name), formatTTL(ttl), html.EscapeString(link)),
	}
}

func PasswordChangedMessage(to, name string) Message {
	return Message{
		To:      to,
		Subject: "Your password was changed",
		Kind:    KindPasswordChanged,
		HTMLBody: fmt.Sprintf(`<p>%s</p>
<p>The password of your account was just changed. If this was not you, reset it immediately.</p>`, greeting(name)),
	}
}
