package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role identifies the access level carried by a token.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// ParseRole validates a stored role string.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleUser, RoleAgent, RoleAdmin:
		return Role(raw), nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Staff reports whether the role belongs to an internal account.
func (r Role) Staff() bool {
	return r == RoleAgent || r == RoleAdmin
}

// Identity is the authenticated principal extracted from a token.
type Identity struct {
	UserID string
	Role   Role
}

// TokenIssuer signs and verifies bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer with the given signing secret and TTL.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token for the identity.
func (t *TokenIssuer) Issue(id Identity, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"user_id": id.UserID,
		"role":    string(id.Role),
		"iat":     now.Unix(),
		"exp":     now.Add(t.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token string.
func (t *TokenIssuer) Verify(tokenStr string) (Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}

	userID, _ := claims["user_id"].(string)
	roleStr, _ := claims["role"].(string)
	role, roleErr := ParseRole(roleStr)
	if userID == "" || roleErr != nil {
		return Identity{}, fmt.Errorf("invalid token claims")
	}
	return Identity{UserID: userID, Role: role}, nil
}
