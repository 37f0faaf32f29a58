package storage

import (
	"context"
	"testing"

	"github.com/ShoshinNikita/rthumb/rthumb"
	"github.com/stretchr/testify/require"
)

// testObjectStore checks the behavior every [rthumb.ObjectStore] must follow.
func testObjectStore(t *testing.T, store rthumb.ObjectStore) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		r := require.New(t)

		exists, err := store.Exists(ctx, "files/a.png")
		r.NoError(err)
		r.False(exists)

		_, err = store.Get(ctx, "files/a.png")
		r.ErrorIs(err, rthumb.ErrNotFound)

		err = store.Put(ctx, "files/a.png", []byte("png"), rthumb.PutOptions{
			ContentType: "image/png",
			Filename:    "a.png",
			Metadata:    map[string]string{"digest": "abc"},
		})
		r.NoError(err)

		exists, err = store.Exists(ctx, "files/a.png")
		r.NoError(err)
		r.True(exists)

		obj, err := store.Get(ctx, "files/a.png")
		r.NoError(err)
		r.Equal("png", string(obj.Data))
		r.Equal("image/png", obj.ContentType)
		r.Equal("abc", obj.Digest())

		// Overwrite.
		r.NoError(store.Put(ctx, "files/a.png", []byte("new"), rthumb.PutOptions{}))
		obj, err = store.Get(ctx, "files/a.png")
		r.NoError(err)
		r.Equal("new", string(obj.Data))
		r.Equal(rthumb.DefaultContentType, obj.ContentType)
		r.Empty(obj.Digest())
	})

	t.Run("delete", func(t *testing.T) {
		r := require.New(t)

		r.NoError(store.Put(ctx, "files/b.png", []byte("b"), rthumb.PutOptions{}))
		r.NoError(store.Delete(ctx, "files/b.png"))

		exists, err := store.Exists(ctx, "files/b.png")
		r.NoError(err)
		r.False(exists)

		// Must be idempotent.
		r.NoError(store.Delete(ctx, "files/b.png"))
		r.NoError(store.Delete(ctx, "files/never-existed.png"))
	})

	t.Run("move", func(t *testing.T) {
		r := require.New(t)

		r.NoError(store.Put(ctx, "move/src", []byte("src"), rthumb.PutOptions{}))
		r.NoError(store.Put(ctx, "move/busy", []byte("busy"), rthumb.PutOptions{}))

		// Destination exists.
		moved, err := store.Move(ctx, "move/src", "move/busy")
		r.NoError(err)
		r.False(moved)
		assertData(t, store, "move/src", "src")
		assertData(t, store, "move/busy", "busy")

		// Source doesn't exist.
		moved, err = store.Move(ctx, "move/missing", "move/dst")
		r.NoError(err)
		r.False(moved)
		exists, err := store.Exists(ctx, "move/dst")
		r.NoError(err)
		r.False(exists)

		moved, err = store.Move(ctx, "move/src", "move/dst")
		r.NoError(err)
		r.True(moved)
		assertData(t, store, "move/dst", "src")
		exists, err = store.Exists(ctx, "move/src")
		r.NoError(err)
		r.False(exists)
	})

	t.Run("delete prefix", func(t *testing.T) {
		r := require.New(t)

		for _, key := range []string{
			"thumb/abc_100.png",
			"thumb/abc_200.png",
			"thumb/abcd.png",
			"thumb/xyz_100.png",
			"other/thumb/abc.png",
			"thumbabc.png",
		} {
			r.NoError(store.Put(ctx, key, []byte(key), rthumb.PutOptions{}))
		}

		r.NoError(store.DeletePrefix(ctx, "thumb/abc"))

		keys, err := store.List(ctx, "thumb/")
		r.NoError(err)
		r.Equal([]string{"thumb/xyz_100.png"}, keys)

		for _, key := range []string{"other/thumb/abc.png", "thumbabc.png"} {
			exists, err := store.Exists(ctx, key)
			r.NoError(err)
			r.True(exists, key)
		}

		// Nothing to delete.
		r.NoError(store.DeletePrefix(ctx, "thumb/abc"))

		r.Error(store.DeletePrefix(ctx, ""))
	})
}

func assertData(t *testing.T, store rthumb.ObjectStore, key, want string) {
	t.Helper()

	obj, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, want, string(obj.Data))
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	testObjectStore(t, NewMemoryStore())
}

func TestMemoryStore_ContentDisposition(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	store := NewMemoryStore()
	r.NoError(store.Put(context.Background(), "x", nil, rthumb.PutOptions{Filename: "my file.png"}))
	r.Equal("inline; filename=my%20file.png", store.ContentDisposition("x"))

	r.NoError(store.Put(context.Background(), "y", nil, rthumb.PutOptions{}))
	r.Empty(store.ContentDisposition("y"))
}
