package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	primary := NewMemoryDisk("primary", false)
	worm := NewMemoryDisk("worm", true)

	r, err := NewRegistry(primary, worm, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "worm"}, r.Names())

	d, err := r.Disk("worm")
	require.NoError(t, err)
	assert.True(t, d.WORM())

	_, err = r.Disk("nope")
	require.ErrorIs(t, err, ErrUnknownDisk)

	_, err = NewRegistry(primary, NewMemoryDisk("primary", true))
	require.ErrorIs(t, err, ErrDuplicateDisk)
}

func TestRegistry_Get(t *testing.T) {
	d := NewMemoryDisk("primary", false)
	require.NoError(t, d.Put(context.Background(), "a", []byte("x")))
	r, err := NewRegistry(d)
	require.NoError(t, err)

	b, err := r.Get(context.Background(), "primary", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), b)

	_, err = r.Get(context.Background(), "other", "a")
	require.ErrorIs(t, err, ErrUnknownDisk)
}

func TestMemoryDisk(t *testing.T) {
	ctx := context.Background()

	t.Run("put get copies", func(t *testing.T) {
		d := NewMemoryDisk("m", false)
		in := []byte("abc")
		require.NoError(t, d.Put(ctx, "p", in))
		in[0] = 'z'

		out, err := d.Get(ctx, "p")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), out)

		out[0] = 'y'
		again, _ := d.Get(ctx, "p")
		assert.Equal(t, []byte("abc"), again)
	})

	t.Run("missing", func(t *testing.T) {
		d := NewMemoryDisk("m", false)
		_, err := d.Get(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("worm refuses overwrite", func(t *testing.T) {
		d := NewMemoryDisk("w", true)
		require.NoError(t, d.Put(ctx, "p", []byte("1")))
		require.ErrorIs(t, d.Put(ctx, "p", []byte("2")), ErrObjectLocked)
	})

	t.Run("non-worm overwrites", func(t *testing.T) {
		d := NewMemoryDisk("m", false)
		require.NoError(t, d.Put(ctx, "p", []byte("1")))
		require.NoError(t, d.Put(ctx, "p", []byte("2")))
		b, _ := d.Get(ctx, "p")
		assert.Equal(t, []byte("2"), b)
	})

	t.Run("injected failures", func(t *testing.T) {
		d := NewMemoryDisk("m", false)
		boom := errors.New("unreachable")
		d.FailPuts(boom)
		require.ErrorIs(t, d.Put(ctx, "p", nil), boom)
		d.FailPuts(nil)
		require.NoError(t, d.Put(ctx, "p", nil))

		d.FailGets(boom)
		_, err := d.Get(ctx, "p")
		require.ErrorIs(t, err, boom)
	})

	t.Run("cancelled context", func(t *testing.T) {
		d := NewMemoryDisk("m", false)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		require.ErrorIs(t, d.Put(cctx, "p", nil), context.Canceled)
		_, err := d.Get(cctx, "p")
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("tamper bypasses worm", func(t *testing.T) {
		d := NewMemoryDisk("w", true)
		require.NoError(t, d.Put(ctx, "p", []byte{1, 2, 3}))
		ok := d.Tamper("p", func(b []byte) []byte { b[0] ^= 0xff; return b })
		require.True(t, ok)
		b, _ := d.Get(ctx, "p")
		assert.Equal(t, []byte{0xfe, 2, 3}, b)
		assert.False(t, d.Tamper("missing", func(b []byte) []byte { return b }))
		assert.Equal(t, 1, d.Len())
	})
}

func TestLocalDisk(t *testing.T) {
	ctx := context.Background()
	d, err := NewLocalDisk("fallback", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "fallback", d.Name())
	assert.False(t, d.WORM())

	require.NoError(t, d.Put(ctx, "contracts/2026/10/c1/x.enc", []byte("sealed")))
	b, err := d.Get(ctx, "contracts/2026/10/c1/x.enc")
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed"), b)

	_, err = d.Get(ctx, "contracts/missing.enc")
	require.ErrorIs(t, err, ErrNotFound)

	require.Error(t, d.Put(ctx, "../escape.enc", []byte("x")))
}
