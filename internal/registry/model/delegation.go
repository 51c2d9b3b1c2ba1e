package model

import (
	"time"

	"github.com/google/uuid"
)

// Delegation binds an owner's domain to a permanent target inside the
// validation zone. It is immutable once created.
type Delegation struct {
	ID       uuid.UUID `json:"id"`
	OwnerID  string    `json:"owner_id"`
	Email    string    `json:"-"` // owner contact for reminders
	Domain   string    `json:"domain"`
	Target   string    `json:"cname_target"`
	Provider string    `json:"provider"`
	// Sealed credential fields; empty for the managed provider.
	Subdomain string    `json:"-"`
	Username  string    `json:"-"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ChallengeName is the record the owner must CNAME to Target.
func (d *Delegation) ChallengeName() string {
	return "_acme-challenge." + d.Domain
}

// WWWChallengeName is the additional record to CNAME to Target when
// certificates also cover www.Domain.
func (d *Delegation) WWWChallengeName() string {
	return "_acme-challenge.www." + d.Domain
}
