// Package identity defines the billing principal attached to every request:
// an application, an authenticated user, or an anonymous session. Exactly one
// branch is ever set; everything that reads or writes jobs and usage is
// scoped by it.
package identity

import (
	"errors"

	"github.com/google/uuid"
)

var ErrAmbiguous = errors.New("identity: exactly one of application, user or session must be set")

type Identity struct {
	ApplicationID *uuid.UUID
	UserID        *uint64
	SessionKey    *string
}

func ForApplication(id uuid.UUID) Identity {
	return Identity{ApplicationID: &id}
}

func ForUser(id uint64) Identity {
	return Identity{UserID: &id}
}

func ForSession(key string) Identity {
	return Identity{SessionKey: &key}
}

// Validate fails closed: a request whose authentication result does not pin
// down exactly one principal must be rejected, never guessed at.
func (id Identity) Validate() error {
	n := 0
	if id.ApplicationID != nil {
		n++
	}
	if id.UserID != nil {
		n++
	}
	if id.SessionKey != nil && *id.SessionKey != "" {
		n++
	}
	if n != 1 {
		return ErrAmbiguous
	}
	return nil
}

func (id Identity) IsApplication() bool { return id.ApplicationID != nil }
func (id Identity) IsUser() bool        { return id.UserID != nil }
func (id Identity) IsSession() bool     { return id.SessionKey != nil && *id.SessionKey != "" }
