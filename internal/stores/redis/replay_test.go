package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log, err := NewReplayLog(db, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectExists("webhook:event:evt_1").SetVal(1)
	mock.ExpectExists("webhook:event:evt_2").SetVal(0)
	mock.ExpectExists("webhook:event:evt_3").SetErr(errors.New("connection refused"))

	seen, err := log.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = log.Seen(ctx, "evt_2")
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = log.Seen(ctx, "evt_3")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemember(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log, err := NewReplayLog(db, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, log.ttl)

	mock.ExpectSetNX("webhook:event:evt_1", "1", DefaultTTL).SetVal(true)

	require.NoError(t, log.Remember(context.Background(), "evt_1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewReplayLog_NilClient(t *testing.T) {
	_, err := NewReplayLog(nil, time.Hour)
	require.Error(t, err)
}
