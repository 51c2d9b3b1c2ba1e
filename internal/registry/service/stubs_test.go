package service_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/LightHostingFree/sslgen/internal/dnszone"
	"github.com/LightHostingFree/sslgen/internal/registry/model"
	"github.com/LightHostingFree/sslgen/internal/registry/repository"
	"github.com/LightHostingFree/sslgen/internal/secret"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/google/uuid"
)

// ── In-memory store for delegations and certificates ──────────────────────

type memStore struct {
	mu          sync.RWMutex
	delegations map[string]*model.Delegation
	certs       map[uuid.UUID]*model.Certificate
	// hideOnFind makes FindByOwnerAndDomain miss, forcing CreateIfAbsent.
	hideOnFind bool
}

func newMemStore() *memStore {
	return &memStore{
		delegations: make(map[string]*model.Delegation),
		certs:       make(map[uuid.UUID]*model.Certificate),
	}
}

func key(owner, domain string) string { return owner + "|" + domain }

func (s *memStore) FindByOwnerAndDomain(_ context.Context, owner, domain string) (*model.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.delegations[key(owner, domain)]
	if !ok || s.hideOnFind {
		return nil, repository.ErrDelegationNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) CreateIfAbsent(_ context.Context, d *model.Delegation) (*model.Delegation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.delegations[key(d.OwnerID, d.Domain)]; ok {
		cp := *existing
		return &cp, false, nil
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	cp := *d
	s.delegations[key(d.OwnerID, d.Domain)] = &cp

	c := &model.Certificate{
		ID:              uuid.New(),
		DelegationID:    d.ID,
		OwnerID:         d.OwnerID,
		Domain:          d.Domain,
		Target:          d.Target,
		Status:          model.StatusActionRequired,
		ReminderEnabled: true,
		OwnerEmail:      d.Email,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.CreatedAt,
	}
	s.certs[c.ID] = c
	return d, true, nil
}

func (s *memStore) Delete(_ context.Context, owner, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.delegations[key(owner, domain)]
	if !ok {
		return repository.ErrDelegationNotFound
	}
	delete(s.delegations, key(owner, domain))
	for id, c := range s.certs {
		if c.DelegationID == d.ID {
			delete(s.certs, id)
		}
	}
	return nil
}

func (s *memStore) Latest(_ context.Context, owner, domain string) (*model.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.Certificate
	for _, c := range s.certs {
		if c.OwnerID == owner && c.Domain == domain {
			if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
				latest = c
			}
		}
	}
	if latest == nil {
		return nil, repository.ErrCertificateNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *memStore) LatestIssued(_ context.Context, owner, domain string) (*model.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.Certificate
	for _, c := range s.certs {
		if c.OwnerID == owner && c.Domain == domain && c.CertificatePEM != "" {
			if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
				latest = c
			}
		}
	}
	if latest == nil {
		return nil, repository.ErrCertificateNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *memStore) Create(_ context.Context, c *model.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, existing := range s.certs {
		if existing.DelegationID == c.DelegationID && !now.After(existing.CreatedAt) {
			now = existing.CreatedAt.Add(time.Microsecond)
		}
	}
	c.ID = uuid.New()
	c.Status = model.StatusActionRequired
	c.IssuedAt, c.ExpiresAt = nil, nil
	c.CertificatePEM, c.PrivateKeyPEM = "", ""
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	s.certs[c.ID] = &cp
	return nil
}

// rows returns every certificate row for (owner, domain), newest first.
func (s *memStore) rows(owner, domain string) []*model.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Certificate
	for _, c := range s.certs {
		if c.OwnerID == owner && c.Domain == domain {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memStore) ListByOwner(_ context.Context, owner string) ([]*model.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[uuid.UUID]*model.Certificate)
	for _, c := range s.certs {
		if c.OwnerID != owner {
			continue
		}
		if l, ok := latest[c.DelegationID]; !ok || c.CreatedAt.After(l.CreatedAt) {
			latest[c.DelegationID] = c
		}
	}
	var out []*model.Certificate
	for _, c := range latest {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (s *memStore) ListIssuedExpiringBefore(_ context.Context, cutoff time.Time, remindersOnly bool, now time.Time) ([]*model.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	superseded := func(c *model.Certificate) bool {
		for _, n := range s.certs {
			if n.DelegationID == c.DelegationID && n.Status == model.StatusIssued && n.CreatedAt.After(c.CreatedAt) {
				return true
			}
		}
		return false
	}
	var out []*model.Certificate
	for _, c := range s.certs {
		if c.Status != model.StatusIssued || c.ExpiresAt == nil || !c.ExpiresAt.Before(cutoff) {
			continue
		}
		if remindersOnly && (!c.ReminderEnabled || !c.ExpiresAt.After(now)) {
			continue
		}
		if superseded(c) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id uuid.UUID, status model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.certs[id]
	if !ok {
		return repository.ErrCertificateNotFound
	}
	c.Status = status
	switch status {
	case model.StatusIssued, model.StatusExpired, model.StatusRevoked:
	default:
		c.IssuedAt, c.ExpiresAt = nil, nil
		c.CertificatePEM, c.PrivateKeyPEM = "", ""
	}
	return nil
}

func (s *memStore) MarkIssued(_ context.Context, c *model.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[c.ID]; !ok {
		return repository.ErrCertificateNotFound
	}
	cp := *c
	cp.Status = model.StatusIssued
	s.certs[c.ID] = &cp
	return nil
}

func (s *memStore) SetReminder(_ context.Context, owner, domain string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, c := range s.certs {
		if c.OwnerID == owner && c.Domain == domain {
			c.ReminderEnabled = enabled
			found = true
		}
	}
	if !found {
		return repository.ErrCertificateNotFound
	}
	return nil
}

// put overwrites the latest certificate row for (owner, domain).
func (s *memStore) put(t *testing.T, owner, domain string, mutate func(c *model.Certificate)) {
	t.Helper()
	c, err := s.Latest(context.Background(), owner, domain)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(s.certs[c.ID])
}

func (s *memStore) cert(t *testing.T, owner, domain string) *model.Certificate {
	t.Helper()
	c, err := s.Latest(context.Background(), owner, domain)
	if err != nil {
		t.Fatalf("cert: %v", err)
	}
	return c
}

// ── Provider stub ──────────────────────────────────────────────────────────

type stubProvider struct {
	mu        sync.Mutex
	name      string
	delegated int
	withCreds bool
	lastCreds *dnszone.Credentials
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Delegate(_ context.Context, domain string) (*dnszone.Registration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delegated++
	reg := &dnszone.Registration{Target: uuid.NewString() + ".acme.example.net"}
	if p.withCreds {
		reg.Credentials = &dnszone.Credentials{Subdomain: "sub-" + domain, Username: "user", Password: "pass"}
	}
	return reg, nil
}

func (p *stubProvider) Zone(creds *dnszone.Credentials) (dnszone.Zone, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCreds = creds
	return nopZone{}, nil
}

type nopZone struct{}

func (nopZone) CreateProof(context.Context, string, string) (string, error) { return "rec", nil }
func (nopZone) DeleteProof(context.Context, string) error                  { return nil }

// ── Helpers ────────────────────────────────────────────────────────────────

func testCodec(t *testing.T) *secret.Codec {
	t.Helper()
	c, err := secret.NewCodec("test-encryption-key")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

// testChain returns a PEM chain of a leaf and one intermediate, plus a key.
func testChain(t *testing.T) (chain, keyPEM []byte) {
	t.Helper()
	newCert := func(cn string, key *ecdsa.PrivateKey) []byte {
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(time.Now().UnixNano()),
			Subject:      pkix.Name{CommonName: cn},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(90 * 24 * time.Hour),
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
		if err != nil {
			t.Fatalf("create certificate: %v", err)
		}
		return der
	}
	leafKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	caKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	chain = append(chain, certcrypto.PEMEncode(certcrypto.DERCertificateBytes(newCert("example.com", leafKey)))...)
	chain = append(chain, certcrypto.PEMEncode(certcrypto.DERCertificateBytes(newCert("Test Intermediate", caKey)))...)
	return chain, certcrypto.PEMEncode(leafKey)
}
