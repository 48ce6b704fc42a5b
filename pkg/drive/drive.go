// Package drive defines drives and the persisted drive list.
//
// A drive is a top-level directory tree under the drives directory, named by
// the drive id. Private drives belong to one user; public drives carry a
// write list, a read list and a label.
package drive

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Kind tells private drives from public ones.
type Kind string

const (
	KindPrivate Kind = "private"
	KindPublic  Kind = "public"
)

// UserList is either every user ("*") or an explicit list of user ids.
type UserList struct {
	All   bool
	Users []uuid.UUID
}

// Everyone is the "*" list.
var Everyone = UserList{All: true}

// Contains reports whether user is on the list.
func (l UserList) Contains(user uuid.UUID) bool {
	if l.All {
		return true
	}
	for _, u := range l.Users {
		if u == user {
			return true
		}
	}
	return false
}

func (l UserList) MarshalJSON() ([]byte, error) {
	if l.All {
		return json.Marshal("*")
	}
	users := l.Users
	if users == nil {
		users = []uuid.UUID{}
	}
	return json.Marshal(users)
}

func (l *UserList) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s != "*" {
			return fmt.Errorf("user list must be \"*\" or an array, got %q", s)
		}
		*l = Everyone
		return nil
	}
	var users []uuid.UUID
	if err := json.Unmarshal(b, &users); err != nil {
		return fmt.Errorf("user list must be \"*\" or an array of ids: %w", err)
	}
	*l = UserList{Users: users}
	return nil
}

// Drive is one entry of the drive list.
type Drive struct {
	ID   uuid.UUID `json:"uuid" validate:"required"`
	Kind Kind      `json:"type" validate:"required,oneof=private public"`

	// private
	Owner uuid.UUID `json:"owner,omitempty" validate:"required_if=Kind private"`

	// public
	Writelist UserList `json:"writelist"`
	Readlist  UserList `json:"readlist"`
	Label     string   `json:"label,omitempty" validate:"max=255"`
}

// NewPrivate returns a private drive of owner with a fresh id.
func NewPrivate(owner uuid.UUID) Drive {
	return Drive{ID: uuid.New(), Kind: KindPrivate, Owner: owner}
}

// NewPublic returns a public drive with a fresh id.
func NewPublic(label string, writelist, readlist UserList) Drive {
	return Drive{ID: uuid.New(), Kind: KindPublic, Label: label, Writelist: writelist, Readlist: readlist}
}

// CanRead reports whether user may read the drive.
func (d Drive) CanRead(user uuid.UUID) bool {
	if d.Kind == KindPrivate {
		return d.Owner == user
	}
	return d.Writelist.Contains(user) || d.Readlist.Contains(user)
}

// CanWrite reports whether user may write the drive.
func (d Drive) CanWrite(user uuid.UUID) bool {
	if d.Kind == KindPrivate {
		return d.Owner == user
	}
	return d.Writelist.Contains(user)
}

type privateDrive struct {
	ID    uuid.UUID `json:"uuid"`
	Kind  Kind      `json:"type"`
	Owner uuid.UUID `json:"owner"`
}

type publicDrive struct {
	ID        uuid.UUID `json:"uuid"`
	Kind      Kind      `json:"type"`
	Writelist UserList  `json:"writelist"`
	Readlist  UserList  `json:"readlist"`
	Label     string    `json:"label"`
}

// MarshalJSON writes only the fields of the drive's kind.
func (d Drive) MarshalJSON() ([]byte, error) {
	if d.Kind == KindPrivate {
		return json.Marshal(privateDrive{ID: d.ID, Kind: d.Kind, Owner: d.Owner})
	}
	return json.Marshal(publicDrive{ID: d.ID, Kind: d.Kind, Writelist: d.Writelist, Readlist: d.Readlist, Label: d.Label})
}

func (d *Drive) UnmarshalJSON(b []byte) error {
	var head struct {
		Kind Kind `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	switch head.Kind {
	case KindPrivate:
		var p privateDrive
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		*d = Drive{ID: p.ID, Kind: p.Kind, Owner: p.Owner}
	case KindPublic:
		var p publicDrive
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		*d = Drive{ID: p.ID, Kind: p.Kind, Writelist: p.Writelist, Readlist: p.Readlist, Label: p.Label}
	default:
		return fmt.Errorf("unknown drive type %q", head.Kind)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		// the nil uuid validates as an empty string
		if id, ok := field.Interface().(uuid.UUID); ok && id != uuid.Nil {
			return id.String()
		}
		return ""
	}, uuid.UUID{})
	return v
}

// Validate checks the drive's fields for its kind.
func (d Drive) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid drive %s: %w", d.ID, err)
	}
	return nil
}
