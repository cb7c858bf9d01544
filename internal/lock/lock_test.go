package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T) (*Redis, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	l := NewRedis(db, 30*time.Second)
	l.retryInterval = time.Millisecond
	l.maxRetries = 3
	l.newToken = func() string { return "tok-1" }
	return l, mock
}

func TestAcquireAndRelease(t *testing.T) {
	l, mock := newTestLock(t)
	key := ReserveKey("SYS-RESERVE-0001")

	mock.ExpectSetNX(key, "tok-1", 30*time.Second).SetVal(true)
	mock.ExpectEval(unlockScript, []string{key}, "tok-1").SetVal(int64(1))

	release, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)
	release()
	release()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireRetriesThenFails(t *testing.T) {
	l, mock := newTestLock(t)
	key := UserKey(7)

	for i := 0; i < 3; i++ {
		mock.ExpectSetNX(key, "tok-1", 30*time.Second).SetVal(false)
	}

	_, err := l.Acquire(context.Background(), key)
	assert.ErrorIs(t, err, ErrLockFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireRedisError(t *testing.T) {
	l, mock := newTestLock(t)
	key := UserKey(7)

	mock.ExpectSetNX(key, "tok-1", 30*time.Second).SetErr(errors.New("connection refused"))

	_, err := l.Acquire(context.Background(), key)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockFailed)
}

func TestAcquireSecondAttemptWins(t *testing.T) {
	l, mock := newTestLock(t)
	key := ReserveKey("R")

	mock.ExpectSetNX(key, "tok-1", 30*time.Second).SetVal(false)
	mock.ExpectSetNX(key, "tok-1", 30*time.Second).SetVal(true)

	release, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)
	assert.NotNil(t, release)
}

func TestNoop(t *testing.T) {
	release, err := Noop{}.Acquire(context.Background(), "anything")
	require.NoError(t, err)
	release()
}
