// Package dns performs the read-only lookups used to check that a user has
// wired their _acme-challenge CNAME before any ACME traffic is sent.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/LightHostingFree/sslgen/internal/acme"
	"github.com/LightHostingFree/sslgen/internal/certerr"
	"github.com/go-acme/lego/v4/challenge/dns01"
)

// Resolver is the subset of *net.Resolver used here.
type Resolver interface {
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
}

// Status is the result of a read-only DNS check.
type Status struct {
	Domain         string `json:"domain"`
	HasNameservers bool   `json:"has_nameservers"`
	ChallengeName  string `json:"cname_name"`
	CNAME          string `json:"cname,omitempty"`
}

// Prechecker verifies delegation wiring through DNS.
type Prechecker struct {
	resolver Resolver
}

// NewPrechecker creates a Prechecker. A nil resolver uses net.DefaultResolver.
func NewPrechecker(r Resolver) *Prechecker {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Prechecker{resolver: r}
}

// ChallengeName returns the record a user must CNAME for domain.
func ChallengeName(domain string) string {
	return "_acme-challenge." + canonical(domain)
}

func canonical(name string) string {
	return strings.ToLower(dns01.UnFqdn(strings.TrimSpace(name)))
}

// Lookup reports NS presence for domain and the current CNAME of its
// _acme-challenge name. Lookup failures are reported as absent values.
func (p *Prechecker) Lookup(ctx context.Context, domain string) *Status {
	st := &Status{Domain: canonical(domain), ChallengeName: ChallengeName(domain)}

	if ns, err := p.resolver.LookupNS(ctx, st.Domain); err == nil && len(ns) > 0 {
		st.HasNameservers = true
	}
	if cname, err := p.resolver.LookupCNAME(ctx, st.ChallengeName); err == nil {
		cname = canonical(cname)
		if cname != st.ChallengeName {
			st.CNAME = cname
		}
	}
	return st
}

// Check returns a validation error unless the apex of names has nameservers
// and the _acme-challenge name of every entry is a CNAME to target. names is
// the certificate name set; the shortest non-wildcard entry is the apex.
func (p *Prechecker) Check(ctx context.Context, names []string, target string) error {
	if len(names) == 0 {
		return certerr.New(certerr.KindValidation, "no names to check")
	}
	apex := ""
	for _, n := range names {
		n = strings.TrimPrefix(canonical(n), "*.")
		if apex == "" || len(n) < len(apex) {
			apex = n
		}
	}

	ns, err := p.resolver.LookupNS(ctx, apex)
	if err != nil || len(ns) == 0 {
		return certerr.Wrap(certerr.KindValidation,
			fmt.Sprintf("%s has no nameservers; check that the domain is registered and delegated", apex),
			errOrEmpty(err))
	}

	for _, name := range acme.ChallengeNames(names) {
		if err := p.checkCNAME(ctx, name, canonical(target)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Prechecker) checkCNAME(ctx context.Context, name, target string) error {
	cname, err := p.resolver.LookupCNAME(ctx, name)
	if err == nil && canonical(cname) == name {
		// The resolver returns the queried name when no CNAME exists.
		err = errors.New("no CNAME record")
	}
	if err != nil {
		return certerr.Wrap(certerr.KindValidation,
			fmt.Sprintf("no CNAME found at %s; create a CNAME record pointing to %s", name, target), err)
	}
	if canonical(cname) != target {
		return certerr.New(certerr.KindValidation,
			fmt.Sprintf("%s points to %s; it must be a CNAME to %s", name, canonical(cname), target))
	}
	return nil
}

func errOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return errors.New("empty NS answer")
}
