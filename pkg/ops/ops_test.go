package ops

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisnuc/appifi-sub000/internal/testutil"
	"github.com/wisnuc/appifi-sub000/pkg/extent"
	"github.com/wisnuc/appifi-sub000/pkg/fingerprint"
	"github.com/wisnuc/appifi-sub000/pkg/fserror"
	"github.com/wisnuc/appifi-sub000/pkg/identity"
)

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestAutoname(t *testing.T) {
	tests := []struct {
		name     string
		want     string
		siblings []string
	}{
		{name: "a.txt", siblings: nil, want: "a.txt"},
		{name: "a.txt", siblings: []string{"a.txt"}, want: "a (1).txt"},
		{name: "a.txt", siblings: []string{"a.txt", "a (1).txt"}, want: "a (2).txt"},
		{name: "a.txt", siblings: []string{"a.txt", "a (7).txt", "a (3).txt"}, want: "a (8).txt"},
		{name: "a (2).txt", siblings: []string{"a (2).txt"}, want: "a (3).txt"},
		{name: "a.txt", siblings: []string{"a.txt", "a (4).jpg"}, want: "a (1).txt"},
		{name: "photos", siblings: []string{"photos", "photos (1)"}, want: "photos (2)"},
		{name: ".profile", siblings: []string{".profile"}, want: ".profile (1)"},
		{name: "archive.tar.gz", siblings: []string{"archive.tar.gz"}, want: "archive.tar (1).gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.want, func(t *testing.T) {
			got := Autoname(tt.name, tt.siblings)
			assert.Equal(t, tt.want, got)
			if len(tt.siblings) > 0 {
				assert.NotContains(t, tt.siblings, got)
			}
		})
	}
}

func TestPolicyJSON(t *testing.T) {
	p, err := ParsePolicy([]byte(`["skip", null]`))
	require.NoError(t, err)
	assert.Equal(t, Policy{Skip, Unset}, p)
	assert.Equal(t, `["skip",null]`, p.String())

	p, err = ParsePolicy([]byte(`[null, "rename"]`))
	require.NoError(t, err)
	assert.Equal(t, Rename, p.Diff())

	_, err = ParsePolicy([]byte(`["overwrite", null]`))
	assert.Error(t, err)
	_, err = ParsePolicy([]byte(`["skip", null, null]`))
	assert.Error(t, err)
	_, err = ParsePolicy([]byte(`"skip"`))
	assert.Error(t, err)
}

func TestCreateDirectory(t *testing.T) {
	dir := testutil.XattrDir(t)
	path := filepath.Join(dir, "photos")

	st, resolved, err := CreateDirectory(path, Policy{})
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, identity.TypeDirectory, st.Type)
	assert.Equal(t, Resolved{}, resolved)
}

func TestCreateDirectoryConflictWithoutPolicy(t *testing.T) {
	dir := testutil.XattrDir(t)
	testutil.Mkdir(t, dir, "photos")
	testutil.WriteFile(t, dir, "notes", []byte("x"))

	_, _, err := CreateDirectory(filepath.Join(dir, "photos"), Policy{})
	require.Error(t, err)
	assert.ErrorIs(t, err, &fserror.Error{Code: fserror.ErrConflict, Aux: fserror.AuxSame})
	assert.Equal(t, fserror.ClassConflict, fserror.Classify(err))

	_, _, err = CreateDirectory(filepath.Join(dir, "notes"), Policy{})
	assert.ErrorIs(t, err, &fserror.Error{Code: fserror.ErrConflict, Aux: fserror.AuxDiff})
}

// Skipping a same-typed collision leaves the disk untouched and hands back
// the existing directory.
func TestCreateDirectorySkipSameIsIdempotent(t *testing.T) {
	dir := testutil.XattrDir(t)
	path := filepath.Join(dir, "photos")
	first, _, err := CreateDirectory(path, Policy{})
	require.NoError(t, err)
	testutil.WriteFile(t, path, "keep.txt", []byte("k"))
	before := listNames(t, dir)

	st, resolved, err := CreateDirectory(path, Policy{Skip, Unset})
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, first.ID, st.ID)
	assert.Equal(t, Resolved{true, false}, resolved)
	assert.Equal(t, before, listNames(t, dir))
	assert.Equal(t, []string{"keep.txt"}, listNames(t, path))
}

func TestCreateDirectorySkipDiff(t *testing.T) {
	dir := testutil.XattrDir(t)
	testutil.WriteFile(t, dir, "photos", []byte("a file"))

	st, resolved, err := CreateDirectory(filepath.Join(dir, "photos"), Policy{Unset, Skip})
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.Equal(t, Resolved{false, true}, resolved)
}

func TestCreateDirectoryReplace(t *testing.T) {
	dir := testutil.XattrDir(t)
	testutil.WriteFile(t, dir, "photos", []byte("a file"))

	st, resolved, err := CreateDirectory(filepath.Join(dir, "photos"), Policy{Unset, Replace})
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.IsDir())
	assert.Equal(t, Resolved{false, true}, resolved)
}

func TestCreateDirectoryRename(t *testing.T) {
	dir := testutil.XattrDir(t)
	testutil.Mkdir(t, dir, "photos")
	testutil.Mkdir(t, dir, "photos (1)")

	st, resolved, err := CreateDirectory(filepath.Join(dir, "photos"), Policy{Rename, Unset})
	require.NoError(t, err)
	assert.Equal(t, "photos (2)", st.Name)
	assert.Equal(t, Resolved{true, false}, resolved)
}

func stampedTemp(t *testing.T, dir string, data []byte) (string, string) {
	t.Helper()
	path := testutil.WriteFile(t, dir, ".tmp-upload", data)
	hash := fingerprint.Bytes(data)
	_, err := identity.ForceIdentity(path, identity.Force{Hash: hash})
	require.NoError(t, err)
	return path, hash
}

func TestCreateFileFromTemp(t *testing.T) {
	dir := testutil.XattrDir(t)
	tmpDir := testutil.Mkdir(t, dir, "tmp")
	tmp, hash := stampedTemp(t, tmpDir, []byte("content"))
	tmpStat, err := identity.ReadIdentifiedStat(tmp)
	require.NoError(t, err)

	st, _, err := CreateFileFromTemp(tmp, filepath.Join(dir, "a.txt"), hash, Policy{})
	require.NoError(t, err)
	assert.Equal(t, tmpStat.ID, st.ID)
	assert.Equal(t, hash, st.Hash)
	assert.NoFileExists(t, tmp)
}

func TestCreateFileFromTempHashMismatch(t *testing.T) {
	dir := testutil.XattrDir(t)
	tmp, _ := stampedTemp(t, dir, []byte("content"))

	_, _, err := CreateFileFromTemp(tmp, filepath.Join(dir, "a.txt"), fingerprint.Bytes([]byte("other")), Policy{})
	assert.True(t, fserror.Has(err, fserror.ErrHashMismatch))
	assert.FileExists(t, tmp)
}

func TestCreateFileFromTempRename(t *testing.T) {
	dir := testutil.XattrDir(t)
	testutil.WriteFile(t, dir, "a.txt", []byte("old"))
	testutil.WriteFile(t, dir, "a (1).txt", []byte("old"))
	tmpDir := testutil.Mkdir(t, dir, "tmp")
	tmp, hash := stampedTemp(t, tmpDir, []byte("new"))

	st, resolved, err := CreateFileFromTemp(tmp, filepath.Join(dir, "a.txt"), hash, Policy{Rename, Unset})
	require.NoError(t, err)
	assert.Equal(t, "a (2).txt", st.Name)
	assert.Equal(t, Resolved{true, false}, resolved)
}

func TestRenameEntry(t *testing.T) {
	dir := testutil.XattrDir(t)
	old := testutil.WriteFile(t, dir, "a.txt", []byte("a"))
	before, err := identity.ReadIdentifiedStat(old)
	require.NoError(t, err)

	st, _, err := RenameEntry(old, filepath.Join(dir, "b.txt"), false, Policy{})
	require.NoError(t, err)
	assert.Equal(t, before.ID, st.ID)
	assert.Equal(t, "b.txt", st.Name)
}

func TestRenameEntryNeverOverwrites(t *testing.T) {
	dir := testutil.XattrDir(t)
	old := testutil.WriteFile(t, dir, "a.txt", []byte("a"))
	testutil.WriteFile(t, dir, "b.txt", []byte("b"))

	_, _, err := RenameEntry(old, filepath.Join(dir, "b.txt"), false, Policy{})
	assert.ErrorIs(t, err, &fserror.Error{Code: fserror.ErrConflict, Aux: fserror.AuxSame})

	b, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(b))
}

func TestRenameEntryMissingParent(t *testing.T) {
	dir := testutil.XattrDir(t)
	old := testutil.WriteFile(t, dir, "a.txt", []byte("a"))
	testutil.WriteFile(t, dir, "plain", []byte("p"))

	_, _, err := RenameEntry(old, filepath.Join(dir, "nope", "a.txt"), false, Policy{})
	assert.True(t, fserror.Has(err, fserror.ErrNotFound))

	_, _, err = RenameEntry(old, filepath.Join(dir, "plain", "a.txt"), false, Policy{})
	assert.True(t, fserror.Has(err, fserror.ErrNotADirectory))
}

func TestRenameEntryWrongType(t *testing.T) {
	dir := testutil.XattrDir(t)
	old := testutil.WriteFile(t, dir, "a.txt", []byte("a"))

	_, _, err := RenameEntry(old, filepath.Join(dir, "b"), true, Policy{})
	assert.True(t, fserror.Has(err, fserror.ErrNotADirectory))
}

func TestCloneFile(t *testing.T) {
	dir := testutil.XattrDir(t)
	data := bytes.Repeat([]byte("clone me "), 1000)
	src := testutil.WriteFile(t, dir, "src.bin", data)
	hash := fingerprint.Bytes(data)
	srcStat, err := identity.ForceIdentity(src, identity.Force{Hash: hash})
	require.NoError(t, err)
	tmpDir := testutil.Mkdir(t, dir, "tmp")

	st, _, err := CloneFile(src, filepath.Join(dir, "copy.bin"), tmpDir, Policy{})
	require.NoError(t, err)
	assert.NotEqual(t, srcStat.ID, st.ID)
	assert.Equal(t, hash, st.Hash)

	got, err := os.ReadFile(filepath.Join(dir, "copy.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Empty(t, listNames(t, tmpDir))
}

func TestAppendFile(t *testing.T) {
	tests := []struct {
		name     string
		head     int
		withHash bool
	}{
		{name: "aligned with hash", head: 2 * extent.BlockSize, withHash: true},
		{name: "unaligned with hash", head: extent.BlockSize + 17, withHash: true},
		{name: "no prior hash", head: 100},
		{name: "empty target", head: 0, withHash: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := testutil.XattrDir(t)
			head := bytes.Repeat([]byte("h"), tt.head)
			tail := []byte("appended tail")
			target := testutil.WriteFile(t, dir, "log.bin", head)
			source := testutil.WriteFile(t, dir, "tail.bin", tail)
			tmpDir := testutil.Mkdir(t, dir, "tmp")

			var before identity.Stat
			var err error
			if tt.withHash {
				before, err = identity.ForceIdentity(target, identity.Force{Hash: fingerprint.Bytes(head)})
			} else {
				before, err = identity.ReadIdentifiedStat(target)
			}
			require.NoError(t, err)

			st, err := AppendFile(context.Background(), target, source, tmpDir)
			require.NoError(t, err)

			whole := append(append([]byte{}, head...), tail...)
			assert.Equal(t, before.ID, st.ID)
			assert.Equal(t, fingerprint.Bytes(whole), st.Hash)
			assert.EqualValues(t, len(whole), st.Size)

			got, err := os.ReadFile(target)
			require.NoError(t, err)
			assert.Equal(t, whole, got)
			assert.Empty(t, listNames(t, tmpDir))
		})
	}
}

func TestAppendFileRejectsDirectory(t *testing.T) {
	dir := testutil.XattrDir(t)
	source := testutil.WriteFile(t, dir, "tail.bin", []byte("x"))

	_, err := AppendFile(context.Background(), dir, source, dir)
	assert.True(t, fserror.Has(err, fserror.ErrNotAFile))
}
