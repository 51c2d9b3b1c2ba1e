// Package dnszone publishes DNS-01 proof records in the validation zone this
// system administers. Users CNAME their _acme-challenge name at a per-domain
// label inside that zone, so proofs never touch the user's own DNS.
package dnszone

import (
	"context"
)

// Provider names accepted by configuration.
const (
	ProviderManaged = "managed"
	ProviderACMEDNS = "acmedns"
)

// Zone is the capability the ACME driver uses during challenge fulfilment.
type Zone interface {
	// CreateProof publishes a TXT record with value at name and returns a
	// handle that DeleteProof accepts.
	CreateProof(ctx context.Context, name, value string) (recordID string, err error)
	// DeleteProof removes the record created by CreateProof.
	DeleteProof(ctx context.Context, recordID string) error
}

// Credentials authenticate proof updates for a single delegated label.
// Only the acme-dns variant issues them.
type Credentials struct {
	Subdomain string `json:"subdomain"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// Registration is a freshly allocated delegation target.
type Registration struct {
	// Target is the FQDN the user's _acme-challenge CNAME must point at.
	Target string
	// Credentials is nil for providers that authenticate with a zone-wide token.
	Credentials *Credentials
}

// Provider allocates delegation targets and hands out Zones bound to them.
type Provider interface {
	Name() string
	Delegate(ctx context.Context, domain string) (*Registration, error)
	Zone(creds *Credentials) (Zone, error)
}
