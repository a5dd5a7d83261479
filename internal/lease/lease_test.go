package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLease() (*Redis, redismock.ClientMock) {
	client, mock := redismock.NewClientMock()
	l := NewRedis(client)
	l.token = func() string { return "token-1" }
	return l, mock
}

func TestAcquireAndRelease(t *testing.T) {
	l, mock := newTestLease()
	defer mock.ClearExpect()
	ctx := context.Background()

	mock.ExpectSetNX("parking:lease:expire_unused", "token-1", 30*time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"parking:lease:expire_unused"}, "token-1").SetVal(int64(1))

	release, err := l.Acquire(ctx, "expire_unused", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireHeld(t *testing.T) {
	l, mock := newTestLease()
	defer mock.ClearExpect()

	mock.ExpectSetNX("parking:lease:expire_overdue", "token-1", time.Minute).SetVal(false)

	_, err := l.Acquire(context.Background(), "expire_overdue", time.Minute)
	assert.ErrorIs(t, err, ErrHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireRedisError(t *testing.T) {
	l, mock := newTestLease()
	defer mock.ClearExpect()

	mock.ExpectSetNX("parking:lease:expire_tickets", "token-1", time.Minute).SetErr(errors.New("connection refused"))

	_, err := l.Acquire(context.Background(), "expire_tickets", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHeld)
}

func TestNilRedisGrants(t *testing.T) {
	var l *Redis
	release, err := l.Acquire(context.Background(), "any", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))

	release, err = Noop{}.Acquire(context.Background(), "any", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))
}
