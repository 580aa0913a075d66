// Package auth issues and verifies the signed token families and hashes
// passwords. Verification failures are deliberately opaque: every reason
// collapses into common.ErrInvalidOrExpiredToken.
package auth

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/timex"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Family selects one of the independent token families.
type Family int

const (
	// FamilyAccess tokens authenticate API calls. Subject is the account id.
	FamilyAccess Family = iota + 1
	// FamilyRefresh tokens are exchanged for new pairs. Subject is the
	// account id.
	FamilyRefresh
	// FamilyVerification tokens confirm an email address. Subject is the
	// address.
	FamilyVerification
)

func (f Family) String() string {
	switch f {
	case FamilyAccess:
		return "access"
	case FamilyRefresh:
		return "refresh"
	case FamilyVerification:
		return "verification"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// FamilyConfig is the secret and lifetime of one family.
type FamilyConfig struct {
	Secret []byte
	TTL    time.Duration
}

// IssuerConfig configures all families. Secrets must be distinct.
type IssuerConfig struct {
	Issuer       string
	Access       FamilyConfig
	Refresh      FamilyConfig
	Verification FamilyConfig
}

// Claims is the payload of every token. Type repeats the family so a token
// minted for one purpose is useless for another even under a shared key.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

type Issuer struct {
	issuer   string
	families map[Family]FamilyConfig
	clock    timex.Clock
}

func NewIssuer(cfg IssuerConfig, clock timex.Clock) (*Issuer, error) {
	families := map[Family]FamilyConfig{
		FamilyAccess:       cfg.Access,
		FamilyRefresh:      cfg.Refresh,
		FamilyVerification: cfg.Verification,
	}

	seen := make(map[string]Family, len(families))
	for f, fc := range families {
		if len(fc.Secret) == 0 {
			return nil, fmt.Errorf("%s token secret is empty", f)
		}
		if fc.TTL <= 0 {
			return nil, fmt.Errorf("%s token ttl must be positive", f)
		}
		if other, ok := seen[string(fc.Secret)]; ok {
			return nil, fmt.Errorf("%s and %s tokens share a secret", other, f)
		}
		seen[string(fc.Secret)] = f
	}

	if clock == nil {
		clock = timex.SystemClock{}
	}

	return &Issuer{issuer: cfg.Issuer, families: families, clock: clock}, nil
}

// TTL reports the configured lifetime of a family.
func (i *Issuer) TTL(f Family) time.Duration {
	return i.families[f].TTL
}

// Issue signs a new token for subject. Each call carries a fresh jti, so
// two tokens for the same subject in the same second still differ.
func (i *Issuer) Issue(f Family, subject string) (string, time.Time, error) {
	fc, ok := i.families[f]
	if !ok {
		return "", time.Time{}, fmt.Errorf("unknown token family %s", f)
	}

	now := i.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{f.String()},
			ExpiresAt: jwt.NewNumericDate(now.Add(fc.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Type: f.String(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(fc.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", f, err)
	}

	return token, claims.ExpiresAt.Time, nil
}

// Verify checks signature, family, issuer and expiry.
func (i *Issuer) Verify(f Family, token string) (*Claims, error) {
	return i.parse(f, token,
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(f.String()),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.clock.Now),
	)
}

// VerifySignature checks only signature and family. Logout uses it so an
// expired refresh token can still be revoked.
func (i *Issuer) VerifySignature(f Family, token string) (*Claims, error) {
	return i.parse(f, token, jwt.WithoutClaimsValidation())
}

func (i *Issuer) parse(f Family, token string, opts ...jwt.ParserOption) (*Claims, error) {
	fc, ok := i.families[f]
	if !ok || token == "" {
		return nil, common.ErrInvalidOrExpiredToken
	}

	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}

	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return fc.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, common.ErrInvalidOrExpiredToken
	}
	if claims.Type != f.String() || claims.Subject == "" {
		return nil, common.ErrInvalidOrExpiredToken
	}

	return claims, nil
}
