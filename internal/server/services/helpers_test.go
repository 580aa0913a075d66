package services

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/credkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/credkeeper/internal/timex"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// outbox records queued mail synchronously.
type outbox struct {
	mu   sync.Mutex
	msgs []mailer.Message
	err  error
}

func (o *outbox) Enqueue(ctx context.Context, msg mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) count(kind string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range o.msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func (o *outbox) last(t *testing.T, kind string) mailer.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].Kind == kind {
			return o.msgs[i]
		}
	}
	t.Fatalf("no %s message queued", kind)
	return mailer.Message{}
}

var tokenParam = regexp.MustCompile(`token=([A-Za-z0-9._\-]+)`)

// tokenFrom extracts the token of the last link of the given kind.
func (o *outbox) tokenFrom(t *testing.T, kind string) string {
	t.Helper()
	m := tokenParam.FindStringSubmatch(o.last(t, kind).HTMLBody)
	require.Len(t, m, 2, "message has no token link")
	return m[1]
}

type testEnv struct {
	repos    repomanager.RepositoryManager
	store    accounts.Repository
	clock    *timex.FixedClock
	mail     *outbox
	issuer   *auth.Issuer
	accounts *AccountService
	resets   *PasswordResetService
}

type envOption func(*envConfig)

type envConfig struct {
	uniform bool
	repos   repomanager.RepositoryManager
}

func withUniformResponse() envOption { return func(c *envConfig) { c.uniform = true } }

func withRepos(r repomanager.RepositoryManager) envOption {
	return func(c *envConfig) { c.repos = r }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{repos: repomanager.NewMemoryRepositoryManager()}
	for _, o := range opts {
		o(&cfg)
	}

	clock := timex.NewFixedClock(t0)
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Issuer:       "credkeeper-test",
		Access:       auth.FamilyConfig{Secret: []byte("access"), TTL: 15 * time.Minute},
		Refresh:      auth.FamilyConfig{Secret: []byte("refresh"), TTL: 7 * 24 * time.Hour},
		Verification: auth.FamilyConfig{Secret: []byte("verification"), TTL: 30 * time.Minute},
	}, clock)
	require.NoError(t, err)

	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost, 4)
	require.NoError(t, err)

	mail := &outbox{}
	deps := Deps{
		Repos:         cfg.repos,
		Issuer:        issuer,
		Hasher:        hasher,
		Mail:          mail,
		Clock:         clock,
		Logger:        logging.Nop{},
		Metrics:       metrics.New(),
		PublicBaseURL: "https://auth.example.com/",
	}

	return &testEnv{
		repos:    cfg.repos,
		store:    cfg.repos.Accounts(),
		clock:    clock,
		mail:     mail,
		issuer:   issuer,
		accounts: NewAccountService(deps),
		resets:   NewPasswordResetService(deps, 30*time.Minute, cfg.uniform),
	}
}

const (
	aliceEmail    = "alice@example.com"
	alicePassword = "Sup3rSecret!"
)

// registerVerified creates a verified account through the public flow.
func (e *testEnv) registerVerified(t *testing.T, email, password string) *models.Profile {
	t.Helper()
	ctx := context.Background()

	_, err := e.accounts.Register(ctx, RegisterInput{Name: "Alice", Email: email, Password: password})
	require.NoError(t, err)

	p, err := e.accounts.VerifyEmail(ctx, e.mail.tokenFrom(t, mailer.KindVerification))
	require.NoError(t, err)
	return p
}

func (e *testEnv) account(t *testing.T, id string) *models.Account {
	t.Helper()
	a, err := e.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

var errDBDown = errors.New("db down")

// brokenRepo fails every call it overrides.
type brokenRepo struct {
	accounts.Repository
}

func (brokenRepo) GetByEmail(context.Context, string) (*models.Account, error) {
	return nil, errDBDown
}

func (brokenRepo) GetByID(context.Context, string) (*models.Account, error) {
	return nil, errDBDown
}

func (brokenRepo) GetByResetToken(context.Context, string, time.Time) (*models.Account, error) {
	return nil, errDBDown
}

type brokenManager struct {
	*repomanager.MemoryRepositoryManager
}

func (m brokenManager) Accounts() accounts.Repository {
	return brokenRepo{Repository: m.MemoryRepositoryManager.Accounts()}
}

func (m brokenManager) InTx(ctx context.Context, fn func(context.Context, accounts.Repository) error) error {
	return fn(ctx, m.Accounts())
}
