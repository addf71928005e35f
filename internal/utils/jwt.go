// Package utils provides token signing and hashing helpers.
package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the "role" claim.
const (
	RoleMember = "MEMBER"
	RoleAdmin  = "ADMIN"
)

// AccessToken is a signed HS256 JWT with its expiry.  Member tokens are
// issued by the membership service; this package signs them only for
// tests and local tooling.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// Claims is what the reservation API reads from a verified token.
type Claims struct {
	MemberID uint64
	Role     string
}

// ErrInvalidToken is returned for unparsable, expired or badly signed
// tokens.
var ErrInvalidToken = errors.New("invalid token")

// NewAccessToken signs a token for memberID with the given role and TTL.
// The subject is the decimal member id.
func NewAccessToken(secret string, memberID uint64, role string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  strconv.FormatUint(memberID, 10),
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies raw with secret and extracts its claims.
// Only HMAC signatures are accepted.
func ParseAccessToken(secret, raw string) (Claims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	var id uint64
	switch sub := mc["sub"].(type) {
	case string:
		id, err = strconv.ParseUint(sub, 10, 64)
		if err != nil {
			return Claims{}, ErrInvalidToken
		}
	case float64:
		if sub < 0 {
			return Claims{}, ErrInvalidToken
		}
		id = uint64(sub)
	default:
		return Claims{}, ErrInvalidToken
	}
	role, _ := mc["role"].(string)
	if role == "" {
		role = RoleMember
	}
	return Claims{MemberID: id, Role: role}, nil
}
