package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"parkeaya/internal/entities"
)

// Claims carried by access tokens.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for the user and its roles.
func (t *Tokens) Issue(userID int64, roles []string) (string, error) {
	now := t.now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse verifies raw and resolves the caller. Unknown roles reject the
// token.
func (t *Tokens) Parse(raw string) (entities.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return entities.Actor{}, fmt.Errorf("invalid token: %w", err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return entities.Actor{}, errors.New("invalid token subject")
	}
	roles := make([]entities.Role, 0, len(claims.Roles))
	for _, name := range claims.Roles {
		role, err := entities.ParseRole(name)
		if err != nil {
			return entities.Actor{}, err
		}
		roles = append(roles, role)
	}
	return entities.Actor{UserID: userID, Roles: entities.NewRoleSet(roles...)}, nil
}
