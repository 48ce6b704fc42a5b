// Package identity persists a stable id, a content fingerprint and a type tag
// on every tracked file and directory, stored in the user.fruitmix extended
// attribute.
//
// The fingerprint is trusted only while the recorded hash time equals the
// file's current modification time; any write to the file silently
// invalidates it.
package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/wisnuc/appifi-sub000/pkg/fingerprint"
	"github.com/wisnuc/appifi-sub000/pkg/fserror"
)

// MaxHashSize is the largest file size a fingerprint is recorded for.
const MaxHashSize int64 = 1 << 40

func modTimeMillis(fi os.FileInfo) int64 {
	return fi.ModTime().UnixMilli()
}

func entryType(fi os.FileInfo) (EntryType, bool) {
	switch {
	case fi.Mode().IsRegular():
		return TypeFile, true
	case fi.IsDir():
		return TypeDirectory, true
	}
	return "", false
}

func lstat(path string) (os.FileInfo, EntryType, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, "", fserror.FromErrno("lstat", path, err)
	}
	typ, ok := entryType(fi)
	if !ok {
		return nil, "", fserror.New(fserror.ErrNotAFile, path, "not a regular file or directory")
	}
	return fi, typ, nil
}

// ReadIdentity parses and validates the record on path. fi must be the lstat
// of path. A missing or unparsable attribute returns (nil, nil).
//
// Invalid sub-fields are dropped and the record is marked Dirty. For files a
// hash whose time does not match fi's modification time is dropped, as is
// one for a file larger than MaxHashSize. Directories keep only their id.
func ReadIdentity(path string, fi os.FileInfo) (*Record, error) {
	raw, err := getXattr(path, XattrName)
	if err != nil {
		if isNoData(err) {
			return nil, nil
		}
		return nil, fserror.FromErrno("getxattr", path, err)
	}

	var d diskRecord
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, nil
	}

	rec := &Record{}
	if id, err := uuid.Parse(d.ID); err == nil && id != uuid.Nil {
		rec.ID = id
	} else {
		rec.Dirty = true
	}

	if fi.Mode().IsRegular() {
		if d.Hash != "" {
			if fingerprint.Valid(d.Hash) && d.HTime == modTimeMillis(fi) && fi.Size() <= MaxHashSize {
				rec.Hash = d.Hash
				rec.HTime = d.HTime
			} else {
				rec.Dirty = true
			}
		}
		if d.Magic != nil && d.Magic.Current() {
			rec.Magic = *d.Magic
		} else {
			rec.Dirty = true
		}
	} else if d.Hash != "" || d.HTime != 0 || d.Magic != nil {
		rec.Dirty = true
	}
	return rec, nil
}

// Materialize completes rec and writes it to path. A nil rec starts from an
// empty record. A missing id is generated; a file with no current magic is
// sniffed.
func Materialize(path string, rec *Record, isFile bool) (*Record, error) {
	if rec == nil {
		rec = &Record{}
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if isFile {
		if !rec.Magic.Current() {
			magic, err := DetectMagic(path)
			if err != nil {
				return nil, fserror.FromErrno("detect", path, err)
			}
			rec.Magic = magic
		}
	} else {
		rec.Hash, rec.HTime, rec.Magic = "", 0, Magic{}
	}
	if err := writeRecord(path, rec); err != nil {
		return nil, err
	}
	rec.Dirty = false
	return rec, nil
}

func writeRecord(path string, rec *Record) error {
	raw, err := json.Marshal(rec.disk())
	if err != nil {
		return err
	}
	if err := setXattr(path, XattrName, raw); err != nil {
		return fserror.FromErrno("setxattr", path, err)
	}
	return nil
}

func makeStat(fi os.FileInfo, typ EntryType, rec *Record) Stat {
	st := Stat{
		ID:      rec.ID,
		Type:    typ,
		Name:    fi.Name(),
		ModTime: modTimeMillis(fi),
	}
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		st.Ino = sys.Ino
	}
	if typ == TypeFile {
		st.Size = fi.Size()
		st.Magic = rec.Magic
		st.Hash = rec.Hash
	}
	return st
}

// ReadIdentifiedStat lstats path and returns it joined with its identity,
// materializing the record first when it is missing or dirty.
//
// Entries that are neither regular files nor directories yield ErrNotAFile.
func ReadIdentifiedStat(path string) (Stat, error) {
	fi, typ, err := lstat(path)
	if err != nil {
		return Stat{}, err
	}
	rec, err := ReadIdentity(path, fi)
	if err != nil {
		return Stat{}, err
	}
	if rec == nil || rec.Dirty {
		if rec, err = Materialize(path, rec, typ == TypeFile); err != nil {
			return Stat{}, err
		}
	}
	st := makeStat(fi, typ, rec)
	if st.Name == "." || st.Name == "/" {
		st.Name = filepath.Base(filepath.Clean(path))
	}
	return st, nil
}

// UpdateContentHash records hash on the file at path. htime is the file's
// modification time observed before hashing began; if the file has been
// modified since, ErrStaleTimestamp is returned and nothing is written.
func UpdateContentHash(path string, id uuid.UUID, hash string, htime int64) (Stat, error) {
	if !fingerprint.Valid(hash) {
		return Stat{}, fserror.New(fserror.ErrInvalidArgument, path, "invalid fingerprint %q", hash)
	}
	fi, typ, err := lstat(path)
	if err != nil {
		return Stat{}, err
	}
	if typ != TypeFile {
		return Stat{}, fserror.New(fserror.ErrNotAFile, path, "not a regular file")
	}
	if modTimeMillis(fi) != htime {
		return Stat{}, fserror.New(fserror.ErrStaleTimestamp, path, "modified during hashing")
	}
	rec, err := ReadIdentity(path, fi)
	if err != nil {
		return Stat{}, err
	}
	if rec == nil || rec.ID != id {
		return Stat{}, fserror.New(fserror.ErrIdentityMismatch, path, "expected id %s", id)
	}
	rec.Hash = hash
	rec.HTime = htime
	if !rec.Magic.Current() {
		if rec.Magic, err = DetectMagic(path); err != nil {
			return Stat{}, fserror.FromErrno("detect", path, err)
		}
	}
	if err := writeRecord(path, rec); err != nil {
		return Stat{}, err
	}
	return makeStat(fi, typ, rec), nil
}

// Force carries the fields ForceIdentity overwrites. Zero values leave the
// existing field alone.
type Force struct {
	ID   uuid.UUID
	Hash string
}

// ForceIdentity overwrites the id and, for files, the hash on path. A forced
// hash is stamped with the file's current modification time, so the caller
// must know it describes the current content.
func ForceIdentity(path string, f Force) (Stat, error) {
	if f.Hash != "" && !fingerprint.Valid(f.Hash) {
		return Stat{}, fserror.New(fserror.ErrInvalidArgument, path, "invalid fingerprint %q", f.Hash)
	}
	fi, typ, err := lstat(path)
	if err != nil {
		return Stat{}, err
	}
	if f.Hash != "" && typ != TypeFile {
		return Stat{}, fserror.New(fserror.ErrNotAFile, path, "hash forced on a directory")
	}

	rec, err := ReadIdentity(path, fi)
	if err != nil {
		return Stat{}, err
	}
	if rec == nil {
		rec = &Record{}
	}
	if f.ID != uuid.Nil {
		rec.ID = f.ID
	}
	if f.Hash != "" {
		rec.Hash = f.Hash
		rec.HTime = modTimeMillis(fi)
	}
	if rec, err = Materialize(path, rec, typ == TypeFile); err != nil {
		return Stat{}, err
	}
	return makeStat(fi, typ, rec), nil
}
