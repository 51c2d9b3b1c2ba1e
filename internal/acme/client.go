// Package acme drives the ACME DNS-01 issuance sequence against a CA.
//
// The driver is plain sequential code: it creates an account, opens an
// order, publishes one proof per pending authorization through a
// dnszone.Zone, waits for the CA, finalizes, and always removes the proofs
// it created before returning.
package acme

import (
	"context"
	"crypto"

	xacme "golang.org/x/crypto/acme"
)

// Client is the subset of *acme.Client the driver uses. It exists so tests
// can substitute a fake CA.
type Client interface {
	Register(ctx context.Context, acct *xacme.Account, prompt func(tosURL string) bool) (*xacme.Account, error)
	AuthorizeOrder(ctx context.Context, id []xacme.AuthzID, opt ...xacme.OrderOption) (*xacme.Order, error)
	GetAuthorization(ctx context.Context, url string) (*xacme.Authorization, error)
	Accept(ctx context.Context, chal *xacme.Challenge) (*xacme.Challenge, error)
	WaitAuthorization(ctx context.Context, url string) (*xacme.Authorization, error)
	WaitOrder(ctx context.Context, url string) (*xacme.Order, error)
	CreateOrderCert(ctx context.Context, url string, csr []byte, bundle bool) (der [][]byte, certURL string, err error)
}

// ClientFactory builds a Client bound to an account key and directory.
type ClientFactory func(key crypto.Signer, directoryURL string) Client

// NewClient is the default ClientFactory.
func NewClient(key crypto.Signer, directoryURL string) Client {
	return &xacme.Client{
		Key:          key,
		DirectoryURL: directoryURL,
		UserAgent:    "sslgen",
	}
}
