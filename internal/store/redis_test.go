package store

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-ledger/internal/status"
)

func TestRedisStore_Get(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, DefaultSchema())

	mock.ExpectHGetAll("doc:tickets:t1").SetVal(map[string]string{
		"body":    `{"ticketId":"t1","status":"sold"}`,
		"version": "4",
	})

	doc, err := s.Get(context.Background(), "tickets", "t1")

	require.NoError(t, err)
	assert.Equal(t, "t1", doc.ID)
	assert.Equal(t, int64(4), doc.Version)
	assert.JSONEq(t, `{"ticketId":"t1","status":"sold"}`, string(doc.Body))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_GetMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, DefaultSchema())

	mock.ExpectHGetAll("doc:tickets:nope").SetVal(map[string]string{})

	_, err := s.Get(context.Background(), "tickets", "nope")

	assert.ErrorIs(t, err, status.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_GetError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, DefaultSchema())

	mock.ExpectHGetAll("doc:tickets:t1").SetErr(errors.New("connection refused"))

	_, err := s.Get(context.Background(), "tickets", "t1")

	assert.Error(t, err)
	assert.NotErrorIs(t, err, status.ErrNotFound)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRedisStore_GetBadVersion(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, DefaultSchema())

	mock.ExpectHGetAll("doc:tickets:t1").SetVal(map[string]string{"body": "{}", "version": "x"})

	_, err := s.Get(context.Background(), "tickets", "t1")

	assert.ErrorContains(t, err, "bad version")
}

func TestRedisStore_QueryByIndex(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, DefaultSchema())

	mock.ExpectSMembers("idx:tickets:userId:u1").SetVal([]string{"t2", "t1", "t3"})
	mock.ExpectHGetAll("doc:tickets:t1").SetVal(map[string]string{"body": `{"ticketId":"t1","userId":"u1"}`, "version": "1"})
	mock.ExpectHGetAll("doc:tickets:t2").SetVal(map[string]string{"body": `{"ticketId":"t2","userId":"u1"}`, "version": "2"})
	mock.ExpectHGetAll("doc:tickets:t3").SetVal(map[string]string{})

	docs, err := s.QueryByIndex(context.Background(), "tickets", "userId", "u1")

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "t1", docs[0].ID)
	assert.Equal(t, "t2", docs[1].ID)
	assert.Equal(t, int64(2), docs[1].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_QueryByIndexEmpty(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, DefaultSchema())

	mock.ExpectSMembers("idx:payments:userId:u9").SetVal([]string{})

	docs, err := s.QueryByIndex(context.Background(), "payments", "userId", "u9")

	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_CompareAndSwapStaleVersion(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, DefaultSchema())

	mock.ExpectWatch("doc:tickets:t1")
	mock.ExpectHGetAll("doc:tickets:t1").SetVal(map[string]string{
		"body":    `{"ticketId":"t1","status":"used"}`,
		"version": "3",
	})

	_, err := s.CompareAndSwap(context.Background(), "tickets", "t1", 2, map[string]any{"ticketId": "t1", "status": "used"})

	assert.ErrorIs(t, err, status.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
