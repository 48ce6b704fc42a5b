package drive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisnuc/appifi-sub000/pkg/fserror"
)

func TestDriveJSON(t *testing.T) {
	owner := uuid.New()
	alice, bob := uuid.New(), uuid.New()

	t.Run("private", func(t *testing.T) {
		d := NewPrivate(owner)
		b, err := json.Marshal(d)
		require.NoError(t, err)
		assert.JSONEq(t, `{"uuid":"`+d.ID.String()+`","type":"private","owner":"`+owner.String()+`"}`, string(b))

		var back Drive
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, d, back)
	})

	t.Run("public", func(t *testing.T) {
		d := NewPublic("shared", UserList{Users: []uuid.UUID{alice}}, Everyone)
		b, err := json.Marshal(d)
		require.NoError(t, err)
		assert.JSONEq(t, `{"uuid":"`+d.ID.String()+`","type":"public","writelist":["`+alice.String()+`"],"readlist":"*","label":"shared"}`, string(b))

		var back Drive
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, d, back)

		assert.True(t, back.CanWrite(alice))
		assert.False(t, back.CanWrite(bob))
		assert.True(t, back.CanRead(bob))
	})

	t.Run("bad lists", func(t *testing.T) {
		var d Drive
		assert.Error(t, json.Unmarshal([]byte(`{"type":"public","writelist":"all"}`), &d))
		assert.Error(t, json.Unmarshal([]byte(`{"type":"shared"}`), &d))
	})
}

func TestDriveValidate(t *testing.T) {
	assert.NoError(t, NewPrivate(uuid.New()).Validate())
	assert.NoError(t, NewPublic("", Everyone, Everyone).Validate())

	assert.Error(t, Drive{ID: uuid.New(), Kind: KindPrivate}.Validate(), "private drive without owner")
	assert.Error(t, Drive{Kind: KindPublic}.Validate(), "drive without id")
	assert.Error(t, Drive{ID: uuid.New(), Kind: "other"}.Validate())
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "drives.json")

	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().Drives)

	priv := NewPrivate(uuid.New())
	pub := NewPublic("music", Everyone, UserList{})
	require.NoError(t, s.Add(ctx, priv))
	require.NoError(t, s.Add(ctx, pub))
	require.NoError(t, s.Update(ctx, pub.ID, func(d *Drive) error {
		d.Label = "songs"
		return nil
	}))

	reopened, err := Open(path)
	require.NoError(t, err)
	snap := reopened.Snapshot()
	require.Len(t, snap.Drives, 2)
	got, ok := snap.Find(pub.ID)
	require.True(t, ok)
	assert.Equal(t, "songs", got.Label)

	require.NoError(t, reopened.Remove(ctx, priv.ID))
	assert.Len(t, reopened.Snapshot().Drives, 1)
	assert.True(t, fserror.Has(reopened.Remove(ctx, priv.ID), fserror.ErrNotFound))

	// no temporary files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStoreCommitConflict(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "drives.json"))
	require.NoError(t, err)

	stale := s.Snapshot()
	require.NoError(t, s.Add(ctx, NewPrivate(uuid.New())))

	err = s.Commit(ctx, stale.Version, append(stale.Drives, NewPrivate(uuid.New())))
	assert.True(t, fserror.Has(err, fserror.ErrConflict))
	assert.Len(t, s.Snapshot().Drives, 1)
}

func TestStoreCommitBusy(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "drives.json"))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	s.write = func(path string, drives []Drive) error {
		close(entered)
		<-release
		return writeAtomic(path, drives)
	}

	done := make(chan error, 1)
	go func() { done <- s.Add(ctx, NewPrivate(uuid.New())) }()
	<-entered

	err = s.Add(ctx, NewPrivate(uuid.New()))
	assert.True(t, fserror.Has(err, fserror.ErrBusy))

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, s.Snapshot().Drives, 1)
	assert.EqualValues(t, 1, s.Snapshot().Version)
}

func TestStoreRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "drives.json"))
	require.NoError(t, err)

	d := NewPrivate(uuid.New())
	err = s.Commit(ctx, 0, []Drive{d, d})
	assert.True(t, fserror.Has(err, fserror.ErrInvalidArgument))

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"type":"private"}]`), 0o644))
	_, err = Open(path)
	assert.Error(t, err)
}
