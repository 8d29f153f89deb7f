package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 30 * time.Minute

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubject       = errors.New("subject msa id must be provided")
)

// AccessTokensConfig configures the gateway's bearer-token manager.
type AccessTokensConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// AccessTokens issues and validates the HS256 bearer tokens that identify a
// requester's MSA id to the content endpoints. Token provisioning itself
// happens in the sign-in flow that fronts this gateway; this type is the
// validating counterpart plus the issuer half that flow uses.
type AccessTokens struct {
	config AccessTokensConfig
	clock  func() time.Time
}

// NewAccessTokens constructs an AccessTokens manager with sane defaults.
func NewAccessTokens(cfg AccessTokensConfig) *AccessTokens {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &AccessTokens{config: cfg, clock: cfg.Clock}
}

// Issue produces a signed token for the given MSA id and returns it with
// its lifetime in seconds.
func (t *AccessTokens) Issue(msaID string) (string, int64, error) {
	if len(t.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if msaID == "" {
		return "", 0, errMissingSubject
	}

	now := t.clock().UTC()
	expiresAt := now.Add(t.config.TokenTTL)

	claims := jwt.RegisteredClaims{
		Subject:   msaID,
		Issuer:    t.config.Issuer,
		Audience:  []string{t.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate checks a bearer token and returns the MSA id it identifies.
func (t *AccessTokens) Validate(tokenString string) (string, error) {
	if len(t.config.SigningSecret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return t.config.SigningSecret, nil
		},
		jwt.WithAudience(t.config.Audience),
		jwt.WithIssuer(t.config.Issuer),
		jwt.WithTimeFunc(t.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubject
	}
	return claims.Subject, nil
}
