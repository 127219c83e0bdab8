package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/middleware"
	"go.uber.org/multierr"
)

// HMACTokens issues and verifies HS256 access tokens signed with a shared
// secret. Other services use it to mint tokens for their users.
type HMACTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewHMACTokens(secret string, ttl time.Duration) (*HMACTokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &HMACTokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue creates a signed access token for the user.
func (h *HMACTokens) Issue(sub, name, email string) (string, error) {
	if sub == "" {
		return "", errors.New("token subject is empty")
	}
	now := h.now()
	claims := jwt.MapClaims{
		"sub":   sub,
		"name":  name,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(h.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
}

// Verify checks signature, algorithm and expiry.
func (h *HMACTokens) Verify(_ context.Context, raw string) (middleware.Token, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("verify token: unexpected claims type")
	}
	if _, ok := claims["exp"]; !ok {
		return nil, errors.New("verify token: exp claim not present")
	}
	return &claimsToken{claims: claims}, nil
}

// Chain tries each verifier in order and returns the first success.
type Chain []middleware.Verifier

func (ch Chain) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	if len(ch) == 0 {
		return nil, errors.New("no token verifier configured")
	}
	var errs error
	for _, v := range ch {
		tok, err := v.Verify(ctx, raw)
		if err == nil {
			return tok, nil
		}
		errs = multierr.Append(errs, err)
	}
	return nil, errs
}
