package boltdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ideal-lab5/etf-cli/common/testlogger"
	"github.com/ideal-lab5/etf-cli/etf"
	"github.com/ideal-lab5/etf-cli/internal/store"
)

func newBundle(t *testing.T, msg string) *etf.Bundle {
	t.Helper()
	b, err := etf.Encrypt([]byte(msg), [][]byte{[]byte("id1"), []byte("id2"), []byte("id3")}, 2)
	require.NoError(t, err)
	return b
}

func TestStoreBoltOrder(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")
	s, err := NewBoltStore(ctx, testlogger.New(t), dir, nil)
	require.NoError(t, err)
	defer s.Close()

	l, err := s.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, l)

	b1, b2 := newBundle(t, "first"), newBundle(t, "second")
	id1, err := s.Put(ctx, b1)
	require.NoError(t, err)
	id2, err := s.Put(ctx, b2)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	got, err := s.Get(ctx, id1)
	require.NoError(t, err)
	require.True(t, b1.Equal(got))
	msg, err := etf.Decrypt(got.Ciphertext, got.Nonce, got.EtfCt, got.Secrets)
	require.NoError(t, err)
	require.Equal(t, "first", string(msg))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{id1, id2}, ids)

	require.NoError(t, s.Del(ctx, id1))
	_, err = s.Get(ctx, id1)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.Del(ctx, id1))

	l, err = s.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, l)
}

func TestStoreBoltReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewBoltStore(ctx, testlogger.New(t), dir, nil)
	require.NoError(t, err)
	b := newBundle(t, "kept")
	id, err := s.Put(ctx, b)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewBoltStore(ctx, testlogger.New(t), dir, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, b.Equal(got))
}

func TestStoreBoltCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewBoltStore(ctx, testlogger.New(t), t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()
	cancel()

	_, err = s.Put(ctx, newBundle(t, "late"))
	require.ErrorIs(t, err, context.Canceled)
	_, err = s.Get(ctx, uuid.New())
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, s.Del(ctx, uuid.New()), context.Canceled)

	_, err = NewBoltStore(ctx, testlogger.New(t), t.TempDir(), nil)
	require.ErrorIs(t, err, context.Canceled)
}
