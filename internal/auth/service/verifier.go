package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/referrals/internal/auth/domain"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const leeway = 30 * time.Second

type claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Clock  clock.Clock
}

// Verifier validates HS256 bearer tokens issued by the identity provider.
type Verifier struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

func New(p Params) *Verifier {
	if p.Config.AuthJWTSecret == "" {
		p.Log.Named("auth.verifier").Warn("AUTH_JWT_SECRET not set; every bearer token will be rejected")
	}
	return NewVerifier(p.Config.AuthJWTSecret, p.Config.AuthJWTIssuer, p.Clock)
}

func NewVerifier(secret, issuer string, clk clock.Clock) *Verifier {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, clock: clk}
}

// Verify parses raw and returns the identity it carries.
func (v *Verifier) Verify(raw string) (domain.Identity, error) {
	if len(v.secret) == 0 {
		return domain.Identity{}, domain.ErrNotConfigured
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Identity{}, domain.ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || strings.TrimSpace(c.Subject) == "" {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	return domain.Identity{
		Subject: strings.TrimSpace(c.Subject),
		Email:   c.Email,
		Roles:   c.Roles,
	}, nil
}

// Issue signs a token for identity. It exists for local tooling and tests.
func (v *Verifier) Issue(identity domain.Identity, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", domain.ErrNotConfigured
	}
	now := v.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: identity.Email,
		Roles: identity.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}
