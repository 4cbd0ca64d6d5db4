package models

import (
	"fmt"
	"time"
)

// User represents one locally-known identity mirroring a Spotify account.
//
// The external ID is the provider-assigned stable identifier and the natural
// key; at most one User exists per external ID at any time.
type User struct {
	id          string
	sequence    int
	externalID  string
	displayName string
	createdAt   time.Time
	updatedAt   time.Time
}

// NewUser creates a User for the given external identity.
func NewUser(sequence int, externalID, displayName string) *User {
	now := time.Now()
	return &User{
		sequence:    sequence,
		externalID:  externalID,
		displayName: displayName,
		createdAt:   now,
		updatedAt:   now,
	}
}

func (u *User) ID() string          { return u.id }
func (u *User) Sequence() int       { return u.sequence }
func (u *User) ExternalID() string  { return u.externalID }
func (u *User) DisplayName() string { return u.displayName }

func (u *User) CreatedAt() time.Time { return u.createdAt }
func (u *User) UpdatedAt() time.Time { return u.updatedAt }

func (u *User) SetID(id string)            { u.id = id }
func (u *User) SetSequence(sequence int)   { u.sequence = sequence }
func (u *User) SetCreatedAt(t time.Time)   { u.createdAt = t }
func (u *User) SetUpdatedAt(t time.Time)   { u.updatedAt = t }
func (u *User) SetDisplayName(name string) { u.displayName = name }

// Validate checks that the user carries an external identity. The display
// name is optional; Spotify returns a null display_name for some accounts.
func (u *User) Validate() error {
	if u.externalID == "" {
		return fmt.Errorf("user external ID is required")
	}
	return nil
}
