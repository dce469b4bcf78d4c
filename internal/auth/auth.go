// Package auth provides the blog twin's password hashing, bearer tokens and
// authentication middleware.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	stdtime "time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Errors
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("token invalid")
	ErrMissingToken       = errors.New("token missing")
)

// TokenTTL is how long a login token stays valid.
const TokenTTL = stdtime.Hour

// Clock abstracts time for testability.
type Clock interface {
	Now() stdtime.Time
}

type realClock struct{}

func (realClock) Now() stdtime.Time { return stdtime.Now() }

// RealClock returns the system clock.
func RealClock() Clock { return realClock{} }

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encodedHash string) bool
}

// BcryptHasher hashes passwords with bcrypt at Cost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) HashPassword(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (BcryptHasher) VerifyPassword(password, encodedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password)) == nil
}

// Claims are carried by login tokens.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 login tokens.
type TokenIssuer struct {
	secret []byte
	clock  Clock
}

// NewTokenIssuer creates an issuer. An empty secret is replaced by a random
// one, which invalidates tokens across restarts.
func NewTokenIssuer(secret string, clock Clock) (*TokenIssuer, error) {
	if clock == nil {
		clock = realClock{}
	}
	key := []byte(secret)
	if len(key) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
		key = []byte(hex.EncodeToString(buf))
	}
	return &TokenIssuer{secret: key, clock: clock}, nil
}

// Issue returns a signed token for the user.
func (ti *TokenIssuer) Issue(userID, username string) (string, error) {
	now := ti.clock.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns its claims. Any failure is ErrInvalidToken.
func (ti *TokenIssuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ti.clock.Now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
