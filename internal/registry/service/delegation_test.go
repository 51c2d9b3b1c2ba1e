package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LightHostingFree/sslgen/internal/dnszone"
	"github.com/LightHostingFree/sslgen/internal/registry/model"
	"github.com/LightHostingFree/sslgen/internal/registry/service"
	"github.com/LightHostingFree/sslgen/internal/secret"
	"go.uber.org/zap"
)

func newDelegationSvc(t *testing.T, store *memStore, p *stubProvider) *service.DelegationService {
	t.Helper()
	return service.NewDelegationService(store, store, p, testCodec(t), 14*24*time.Hour, zap.NewNop())
}

func TestDelegate_createsRecordWithActionRequired(t *testing.T) {
	store := newMemStore()
	p := &stubProvider{name: dnszone.ProviderManaged}
	svc := newDelegationSvc(t, store, p)

	res, err := svc.Delegate(context.Background(), "owner-1", "o@example.com", "  Example.COM. ")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if !res.Created {
		t.Error("first call should create")
	}
	if res.Domain != "example.com" {
		t.Errorf("domain should be normalized, got %q", res.Domain)
	}
	if res.ChallengeName != "_acme-challenge.example.com" {
		t.Errorf("cname name: got %q", res.ChallengeName)
	}
	if res.Status != model.StatusActionRequired {
		t.Errorf("status: got %s", res.Status)
	}
	if got := store.cert(t, "owner-1", "example.com").Status; got != model.StatusActionRequired {
		t.Errorf("stored status: got %s", got)
	}
}

func TestDelegate_idempotentNeverRotatesTarget(t *testing.T) {
	store := newMemStore()
	p := &stubProvider{name: dnszone.ProviderManaged}
	svc := newDelegationSvc(t, store, p)
	ctx := context.Background()

	first, err := svc.Delegate(ctx, "owner-1", "", "example.com")
	if err != nil {
		t.Fatalf("first Delegate: %v", err)
	}
	expires := time.Now().Add(60 * 24 * time.Hour)
	store.put(t, "owner-1", "example.com", func(c *model.Certificate) {
		c.Status = model.StatusIssued
		c.ExpiresAt = &expires
	})

	second, err := svc.Delegate(ctx, "owner-1", "", "example.com")
	if err != nil {
		t.Fatalf("second Delegate: %v", err)
	}
	if second.Target != first.Target {
		t.Errorf("target rotated: %q -> %q", first.Target, second.Target)
	}
	if second.Created {
		t.Error("second call must not create")
	}
	if second.Status != model.StatusIssued {
		t.Errorf("status should be unchanged, got %s", second.Status)
	}
	if p.delegated != 1 {
		t.Errorf("provider called %d times, want 1", p.delegated)
	}
}

func TestDelegate_concurrentCallsConvergeOnOneTarget(t *testing.T) {
	store := newMemStore()
	store.hideOnFind = true // every caller races to CreateIfAbsent
	p := &stubProvider{name: dnszone.ProviderManaged}
	svc := newDelegationSvc(t, store, p)

	const n = 16
	targets := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Delegate(context.Background(), "owner-1", "", "example.com")
			if err != nil {
				t.Errorf("Delegate: %v", err)
				return
			}
			targets[i] = res.Target
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if targets[i] != targets[0] {
			t.Fatalf("callers saw different targets: %q vs %q", targets[0], targets[i])
		}
	}
	if len(store.delegations) != 1 {
		t.Errorf("delegations stored: got %d, want 1", len(store.delegations))
	}
}

func TestDelegate_sealsProviderCredentials(t *testing.T) {
	store := newMemStore()
	p := &stubProvider{name: dnszone.ProviderACMEDNS, withCreds: true}
	svc := newDelegationSvc(t, store, p)
	ctx := context.Background()

	if _, err := svc.Delegate(ctx, "owner-1", "", "example.com"); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	d := store.delegations[key("owner-1", "example.com")]
	for _, v := range []string{d.Subdomain, d.Username, d.Password} {
		if !secret.IsSealed(v) {
			t.Errorf("credential stored in clear: %q", v)
		}
	}

	got, err := svc.Lookup(ctx, "owner-1", "example.com")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := svc.Zone(got); err != nil {
		t.Fatalf("Zone: %v", err)
	}
	if p.lastCreds == nil || p.lastCreds.Username != "user" || p.lastCreds.Password != "pass" {
		t.Errorf("provider should receive opened credentials, got %+v", p.lastCreds)
	}
}

func TestDelegate_invalidDomain(t *testing.T) {
	svc := newDelegationSvc(t, newMemStore(), &stubProvider{name: dnszone.ProviderManaged})
	for _, d := range []string{"", "localhost", "*.example.com", "exa mple.com", "-bad.example.com"} {
		if _, err := svc.Delegate(context.Background(), "owner-1", "", d); !errors.Is(err, service.ErrInvalidDomain) {
			t.Errorf("Delegate(%q): expected ErrInvalidDomain, got %v", d, err)
		}
	}
}

func TestNormalizeDomain_internationalized(t *testing.T) {
	tests := []struct{ in, want string }{
		{"xn--e1afmkfd.xn--p1ai", "xn--e1afmkfd.xn--p1ai"},
		{"Пример.РФ", "xn--e1afmkfd.xn--p1ai"},
		{"shop.example.xn--p1ai", "shop.example.xn--p1ai"},
	}
	for _, tc := range tests {
		got, err := service.NormalizeDomain(tc.in)
		if err != nil {
			t.Errorf("NormalizeDomain(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeDomain(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDelegate_advertisesWWWRecord(t *testing.T) {
	svc := newDelegationSvc(t, newMemStore(), &stubProvider{name: dnszone.ProviderManaged})
	res, err := svc.Delegate(context.Background(), "owner-1", "", "example.com")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if res.WWWChallengeName != "_acme-challenge.www.example.com" {
		t.Errorf("www cname name: got %q", res.WWWChallengeName)
	}
}

func TestZone_providerMismatch(t *testing.T) {
	store := newMemStore()
	svc := newDelegationSvc(t, store, &stubProvider{name: dnszone.ProviderManaged})
	_, err := svc.Zone(&model.Delegation{Domain: "example.com", Provider: dnszone.ProviderACMEDNS})
	if !errors.Is(err, service.ErrProviderMismatch) {
		t.Errorf("expected ErrProviderMismatch, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	store := newMemStore()
	svc := newDelegationSvc(t, store, &stubProvider{name: dnszone.ProviderManaged})
	ctx := context.Background()

	if _, err := svc.Delegate(ctx, "owner-1", "", "example.com"); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if err := svc.Remove(ctx, "owner-1", "example.com"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(store.certs) != 0 {
		t.Error("certificate rows should be removed with the delegation")
	}
	if err := svc.Remove(ctx, "owner-1", "example.com"); !errors.Is(err, service.ErrDelegationNotFound) {
		t.Errorf("expected ErrDelegationNotFound, got %v", err)
	}
}
