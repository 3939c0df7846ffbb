package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"arenalink/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

func init() {
	// Sub-second TTLs must survive the encode/decode round trip.
	jwt.TimePrecision = time.Millisecond
}

var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

type Claims struct {
	AccountType domain.AccountType `json:"account_type,omitempty"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret []byte
	now    func() time.Time
}

func NewTokenService(secret string) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	return &TokenService{
		secret: []byte(secret),
		now:    time.Now,
	}, nil
}

// WithClock replaces the wall clock used for issuing and expiry checks.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

func (s *TokenService) Issue(identity *domain.Identity, ttl time.Duration) (string, time.Time, error) {
	if identity == nil || identity.Subject == "" {
		return "", time.Time{}, errors.New("identity with a subject is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("ttl must be > 0, got %s", ttl)
	}

	issuedAt := s.now()
	expiresAt := issuedAt.Add(ttl)
	claims := &Claims{
		AccountType: identity.AccountType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify returns the token subject. Failures are classified as
// domain.ErrTokenMalformed, domain.ErrTokenExpired or domain.ErrTokenBadSignature;
// callers facing a remote peer must collapse them to domain.ErrUnauthenticated.
func (s *TokenService) Verify(tokenString string) (string, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", domain.ErrTokenMalformed
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", jwt.ErrTokenSignatureInvalid, token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods(hmacMethods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", classifyTokenError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", domain.ErrTokenMalformed
	}
	return claims.Subject, nil
}

// SafeVerify is Verify for probing paths that must not fail.
func (s *TokenService) SafeVerify(tokenString string) (subject string, ok bool) {
	defer func() {
		if recover() != nil {
			subject, ok = "", false
		}
	}()
	subject, err := s.Verify(tokenString)
	if err != nil {
		return "", false
	}
	return subject, true
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", domain.ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", domain.ErrTokenBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrTokenMalformed, err)
	}
}
