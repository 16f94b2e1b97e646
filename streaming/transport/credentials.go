package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Credentials 为每次建连提供认证头
type Credentials interface {
	Header(ctx context.Context) (http.Header, error)
}

// StaticToken 固定 Bearer token
type StaticToken string

// Header 实现 Credentials
func (t StaticToken) Header(context.Context) (http.Header, error) {
	h := http.Header{}
	if t != "" {
		h.Set("Authorization", "Bearer "+string(t))
	}
	return h, nil
}

// JWTCredentials 每次取认证头时签发一个短期 HS256 token
type JWTCredentials struct {
	Secret   []byte
	Issuer   string
	Subject  string // 通常是 tenant hash
	Audience string
	TTL      time.Duration

	now func() time.Time
}

// NewJWTCredentials 创建 JWT 凭据
func NewJWTCredentials(secret []byte, issuer, subject, audience string, ttl time.Duration) *JWTCredentials {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JWTCredentials{
		Secret:   secret,
		Issuer:   issuer,
		Subject:  subject,
		Audience: audience,
		TTL:      ttl,
		now:      time.Now,
	}
}

// Sign 签发 token
func (c *JWTCredentials) Sign() (string, error) {
	if len(c.Secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	issued := now()

	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    c.Issuer,
		Subject:   c.Subject,
		IssuedAt:  jwt.NewNumericDate(issued),
		NotBefore: jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(c.TTL)),
	}
	if c.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.Secret)
}

// Header 实现 Credentials
func (c *JWTCredentials) Header(context.Context) (http.Header, error) {
	token, err := c.Sign()
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}
