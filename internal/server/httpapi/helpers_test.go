package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/mailer"
	"github.com/dmitrijs2005/credkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/credkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/credkeeper/internal/server/services"
	"github.com/dmitrijs2005/credkeeper/internal/timex"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const refreshTTL = 7 * 24 * time.Hour

type outbox struct {
	mu   sync.Mutex
	msgs []mailer.Message
}

func (o *outbox) Enqueue(_ context.Context, msg mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

var tokenParam = regexp.MustCompile(`token=([A-Za-z0-9._\-]+)`)

func (o *outbox) token(t *testing.T, kind string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].Kind == kind {
			m := tokenParam.FindStringSubmatch(o.msgs[i].HTMLBody)
			require.Len(t, m, 2)
			return m[1]
		}
	}
	t.Fatalf("no %s message queued", kind)
	return ""
}

type server struct {
	router  *gin.Engine
	repos   *repomanager.MemoryRepositoryManager
	mail    *outbox
	clock   *timex.FixedClock
	metrics *metrics.Metrics
}

type serverOption func(*Options)

func newServer(t *testing.T, opts ...serverOption) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := timex.NewFixedClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Issuer:       "credkeeper-test",
		Access:       auth.FamilyConfig{Secret: []byte("access"), TTL: 15 * time.Minute},
		Refresh:      auth.FamilyConfig{Secret: []byte("refresh"), TTL: refreshTTL},
		Verification: auth.FamilyConfig{Secret: []byte("verification"), TTL: 30 * time.Minute},
	}, clock)
	require.NoError(t, err)

	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost, 2)
	require.NoError(t, err)

	repos := repomanager.NewMemoryRepositoryManager()
	mail := &outbox{}
	m := metrics.New()

	deps := services.Deps{
		Repos:         repos,
		Issuer:        issuer,
		Hasher:        hasher,
		Mail:          mail,
		Clock:         clock,
		Logger:        logging.Nop{},
		Metrics:       m,
		PublicBaseURL: "https://auth.example.com",
	}

	o := Options{
		Accounts: services.NewAccountService(deps),
		Resets:   services.NewPasswordResetService(deps, 30*time.Minute, false),
		Cookie:   NewRefreshCookie(refreshTTL, true),
		Limiter:  ratelimit.NewMemoryLimiter(1000, time.Minute),
		Clock:    clock,
		Logger:   logging.Nop{},
		Metrics:  m,
		Ready:    repos.Ping,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &server{router: NewRouter(o), repos: repos, mail: mail, clock: clock, metrics: m}
}

type call struct {
	method  string
	path    string
	body    any
	bearer  string
	cookies []*http.Cookie
}

func (s *server) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if c.body != nil {
		payload, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == common.RefreshTokenCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", common.RefreshTokenCookieName)
	return nil
}

type profileBody struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	IsVerified bool   `json:"isVerified"`
}

// registerVerified runs register and verify-email over HTTP.
func (s *server) registerVerified(t *testing.T, email, password string) profileBody {
	t.Helper()

	rec := s.do(t, call{method: http.MethodPost, path: "/auth/register",
		body: map[string]string{"name": "Alice", "email": email, "password": password}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodGet, path: "/auth/verify-email?token=" + s.mail.token(t, mailer.KindVerification)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[profileBody](t, rec)
}

func (s *server) login(t *testing.T, email, password string) (sessionResponse, *http.Cookie) {
	t.Helper()
	rec := s.do(t, call{method: http.MethodPost, path: "/auth/login",
		body: map[string]string{"email": email, "password": password}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[sessionResponse](t, rec), refreshCookie(t, rec)
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}
