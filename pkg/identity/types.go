package identity

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EntryType is the kind of a tracked filesystem entry.
type EntryType string

const (
	TypeFile      EntryType = "file"
	TypeDirectory EntryType = "directory"
)

// Record is the identity persisted on every tracked entry.
//
// Hash and HTime go together: Hash is only meaningful while HTime equals the
// entry's current modification time. ID never changes once assigned.
type Record struct {
	ID    uuid.UUID
	Hash  string
	HTime int64 // epoch milliseconds
	Magic Magic

	// Dirty is set by ReadIdentity when a sub-field was dropped or is
	// missing and the record must be rewritten.
	Dirty bool
}

// diskRecord is the JSON form stored in the xattr.
type diskRecord struct {
	ID    string `json:"id,omitempty"`
	Hash  string `json:"hash,omitempty"`
	HTime int64  `json:"htime,omitempty"`
	Magic *Magic `json:"magic,omitempty"`
}

func (r *Record) disk() diskRecord {
	d := diskRecord{ID: r.ID.String()}
	if r.Hash != "" {
		d.Hash = r.Hash
		d.HTime = r.HTime
	}
	if !r.Magic.IsZero() {
		m := r.Magic
		d.Magic = &m
	}
	return d
}

// Stat is an lstat result joined with the entry's identity. It is also the
// element of a directory listing.
type Stat struct {
	ID      uuid.UUID
	Type    EntryType
	Name    string
	ModTime int64 // epoch milliseconds
	Size    int64
	Magic   Magic
	Hash    string

	// Ino tells hard links, which share an id, apart from copies that
	// carried the xattr along. Not part of the JSON form.
	Ino uint64
}

func (s Stat) IsDir() bool  { return s.Type == TypeDirectory }
func (s Stat) IsFile() bool { return s.Type == TypeFile }

type statJSON struct {
	ID      string    `json:"id"`
	Type    EntryType `json:"type"`
	Name    string    `json:"name"`
	ModTime int64     `json:"mtime"`
	Size    *int64    `json:"size,omitempty"`
	Magic   *Magic    `json:"magic,omitempty"`
	Hash    string    `json:"hash,omitempty"`
}

// MarshalJSON emits the listing form {id, type, name, mtime, size?, magic?, hash?}.
// Directories carry no size, magic or hash.
func (s Stat) MarshalJSON() ([]byte, error) {
	j := statJSON{ID: s.ID.String(), Type: s.Type, Name: s.Name, ModTime: s.ModTime}
	if s.Type == TypeFile {
		size := s.Size
		j.Size = &size
		if !s.Magic.IsZero() {
			m := s.Magic
			j.Magic = &m
		}
		j.Hash = s.Hash
	}
	return json.Marshal(j)
}

func (s *Stat) UnmarshalJSON(b []byte) error {
	var j statJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	id, err := uuid.Parse(j.ID)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", j.ID, err)
	}
	*s = Stat{ID: id, Type: j.Type, Name: j.Name, ModTime: j.ModTime, Hash: j.Hash}
	if j.Size != nil {
		s.Size = *j.Size
	}
	if j.Magic != nil {
		s.Magic = *j.Magic
	}
	return nil
}
