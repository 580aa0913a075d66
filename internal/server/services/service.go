// Package services contains server-side business logic: the account and
// session state machine (AccountService) and the password reset flow
// (PasswordResetService). Services hold no mutable state of their own;
// every transition is a conditional write in the credential store.
package services

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/credkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/credkeeper/internal/timex"
)

// MailQueue accepts messages for asynchronous delivery.
type MailQueue interface {
	Enqueue(ctx context.Context, msg mailer.Message) error
}

// Deps are the collaborators shared by both services.
type Deps struct {
	Repos   repomanager.RepositoryManager
	Issuer  *auth.Issuer
	Hasher  auth.PasswordHasher
	Mail    MailQueue
	Clock   timex.Clock
	Logger  logging.Logger
	Metrics *metrics.Metrics

	// PublicBaseURL prefixes the links sent by email.
	PublicBaseURL string
}

func (d Deps) withDefaults(module string) Deps {
	if d.Clock == nil {
		d.Clock = timex.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logging.Nop{}
	}
	d.Logger = d.Logger.With("module", module)
	return d
}

// link builds an emailed URL carrying token as a query parameter.
func (d Deps) link(path, token string) string {
	return strings.TrimRight(d.PublicBaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

// send enqueues msg. The state change that triggered it is already
// committed, so a failure is only logged.
func (d Deps) send(ctx context.Context, msg mailer.Message) {
	if d.Mail == nil {
		return
	}
	if err := d.Mail.Enqueue(ctx, msg); err != nil {
		d.Logger.Warn(ctx, "mail not queued", "kind", msg.Kind, "error", err)
	}
}

// internal logs an unexpected failure and hides it behind
// common.ErrorInternal. Context cancellation passes through unchanged.
func (d Deps) internal(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	d.Logger.Error(ctx, op+" failed", "error", err)
	return common.ErrorInternal
}
