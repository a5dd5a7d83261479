package service

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"parkeaya/internal/auth"
	"parkeaya/internal/db"
	apperr "parkeaya/internal/errors"
	"parkeaya/internal/log"
	"parkeaya/internal/repository"
)

var errInvalidCredentials = apperr.ErrUnauthorized("invalid credentials")

type AuthService struct {
	store  repository.Reader
	tokens *auth.Tokens
}

func NewAuthService(store repository.Reader, tokens *auth.Tokens) *AuthService {
	return &AuthService{store: store, tokens: tokens}
}

// Login checks the password of an active user and returns a signed
// access token carrying the user's roles.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, repository.ErrNotFound) {
		return "", errInvalidCredentials
	}
	if err != nil {
		return "", apperr.Internal("loading user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", errInvalidCredentials
	}
	if user.State != db.UserActive {
		log.Info(ctx, "login of deactivated user", log.Actor(user.ID))
		return "", apperr.ErrUnauthorized("account deactivated")
	}

	token, err := s.tokens.Issue(user.ID, user.Roles)
	if err != nil {
		return "", apperr.Internal("signing token", err)
	}
	return token, nil
}
