package auth

import (
	"errors"
	"strings"
	"time"

	"optiroute/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier resolves a bearer credential into the subject it was issued for.
type Verifier interface {
	Verify(credential string) (domain.Subject, error)
}

// Claims mirrors the token payload issued at login.
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWT issues and verifies HS256 tokens.
type JWT struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewJWT(secret string, ttl time.Duration) *JWT {
	return &JWT{Secret: []byte(secret), TTL: ttl}
}

func (j *JWT) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

func (j *JWT) Issue(subject domain.Subject) (string, error) {
	if subject.UserID <= 0 {
		return "", errors.New("subject id is required")
	}
	ttl := j.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := j.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: int64(subject.UserID),
		Role:   string(subject.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(j.Secret)
}

func (j *JWT) Verify(credential string) (domain.Subject, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.Subject{}, domain.UnauthorizedError{Msg: "missing credential"}
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return j.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(j.now))
	if err != nil {
		return domain.Subject{}, domain.UnauthorizedError{Msg: "invalid credential", Err: err}
	}
	if claims.UserID <= 0 {
		return domain.Subject{}, domain.UnauthorizedError{Msg: "invalid credential"}
	}

	return domain.Subject{
		UserID: domain.ID(claims.UserID),
		Role:   domain.NormalizeRole(claims.Role),
	}, nil
}
