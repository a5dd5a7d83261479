package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"parkeaya/internal/auth"
	"parkeaya/internal/db"
	"parkeaya/internal/entities"
	apperr "parkeaya/internal/errors"
	"parkeaya/internal/repository/memstore"
)

func TestLogin(t *testing.T) {
	store := memstore.New()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	id := store.AddUser(db.User{Email: "staff@example.com", PasswordHash: string(hash), Roles: []string{"staff"}})
	store.AddUser(db.User{Email: "gone@example.com", PasswordHash: string(hash), Roles: []string{"client"}, State: db.UserDeactivated})

	tokens := auth.NewTokens("jwt-secret", time.Hour)
	svc := NewAuthService(store, tokens)
	ctx := context.Background()

	token, err := svc.Login(ctx, " Staff@Example.com ", "s3cret")
	require.NoError(t, err)
	actor, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, id, actor.UserID)
	assert.True(t, actor.Roles.Has(entities.RoleStaff))

	_, err = svc.Login(ctx, "staff@example.com", "wrong")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	_, err = svc.Login(ctx, "nobody@example.com", "s3cret")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	_, err = svc.Login(ctx, "gone@example.com", "s3cret")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}
