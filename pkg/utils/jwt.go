package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RoleCorper Role = "corper"
	RoleTemp   Role = "temp"
)

const (
	defaultSessionTTL = 7 * 24 * time.Hour
	defaultTempTTL    = 5 * time.Minute
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type Claims struct {
	StateCode string `json:"stateCode"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 tokens. Corper tokens are long-lived
// sessions; temp tokens only authorize the second step of a 2FA login.
type TokenIssuer struct {
	secret     []byte
	sessionTTL time.Duration
	tempTTL    time.Duration
	now        func() time.Time
}

func NewTokenIssuer(secret string, sessionTTL, tempTTL time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	if tempTTL <= 0 {
		tempTTL = defaultTempTTL
	}
	return &TokenIssuer{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		tempTTL:    tempTTL,
		now:        time.Now,
	}, nil
}

// WithClock returns a copy of the issuer that reads time from now when
// stamping and checking expiry.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	clone := *t
	clone.now = now
	return &clone
}

func (t *TokenIssuer) SessionTTL() time.Duration { return t.sessionTTL }

func (t *TokenIssuer) TempTTL() time.Duration { return t.tempTTL }

// Issue signs a token for subject. A zero ttl selects the default window for
// the role.
func (t *TokenIssuer) Issue(subject string, role Role, ttl time.Duration) (string, time.Time, error) {
	if ttl == 0 {
		switch role {
		case RoleTemp:
			ttl = t.tempTTL
		default:
			ttl = t.sessionTTL
		}
	}

	now := t.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		StateCode: subject,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.StateCode == "" || (claims.Role != RoleCorper && claims.Role != RoleTemp) {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
