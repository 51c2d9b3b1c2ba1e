package model

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a certificate record.
type Status string

const (
	StatusActionRequired Status = "ACTION_REQUIRED"
	StatusIssued         Status = "ISSUED"
	StatusFailed         Status = "FAILED"
	StatusRevoked        Status = "REVOKED"
	StatusExpired        Status = "EXPIRED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActionRequired, StatusIssued, StatusFailed, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// Certificate is one issuance attempt for a domain. Each attempt after the
// first gets its own row; the newest row carries the domain's status and
// older rows are kept as history.
// IssuedAt and ExpiresAt are set only while the status is ISSUED or EXPIRED.
// The PEM fields hold sealed values.
type Certificate struct {
	ID              uuid.UUID  `json:"id"`
	DelegationID    uuid.UUID  `json:"-"`
	OwnerID         string     `json:"-"`
	Domain          string     `json:"domain"`
	Target          string     `json:"cname_target"`
	Status          Status     `json:"status"`
	Wildcard        bool       `json:"wildcard"`
	IncludeWWW      bool       `json:"include_www"`
	IssuedAt        *time.Time `json:"issued_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CertificatePEM  string     `json:"-"`
	PrivateKeyPEM   string     `json:"-"`
	ReminderEnabled bool       `json:"reminder_enabled"`
	OwnerEmail      string     `json:"-"` // joined from the delegation
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Present returns the status to display at now. It never mutates c.
// FAILED and REVOKED are shown as stored. Otherwise a record without an
// expiry needs action, a past expiry is EXPIRED, and an expiry within
// threshold is presented as needing action.
func Present(c *Certificate, now time.Time, threshold time.Duration) Status {
	switch c.Status {
	case StatusFailed, StatusRevoked:
		return c.Status
	}
	if c.ExpiresAt == nil {
		return StatusActionRequired
	}
	if !now.Before(*c.ExpiresAt) {
		return StatusExpired
	}
	if c.ExpiresAt.Sub(now) <= threshold {
		return StatusActionRequired
	}
	return StatusIssued
}

// DaysLeft returns whole days until expiry, or -1 when there is none.
func (c *Certificate) DaysLeft(now time.Time) int {
	if c.ExpiresAt == nil {
		return -1
	}
	d := c.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
