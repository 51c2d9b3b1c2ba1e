package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LightHostingFree/sslgen/internal/certerr"
	"github.com/LightHostingFree/sslgen/internal/dnszone"
	"github.com/go-acme/lego/v4/certcrypto"
	"go.uber.org/zap"
	xacme "golang.org/x/crypto/acme"
)

// Defaults for the driver.
const (
	DefaultPropagationDelay = 20 * time.Second
	DefaultCleanupTimeout   = 30 * time.Second
)

// Well-known directories.
const (
	LetsEncryptProduction = "https://acme-v02.api.letsencrypt.org/directory"
	LetsEncryptStaging    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	ZeroSSL               = "https://acme.zerossl.com/v2/DV90"
)

// EAB holds external account binding credentials.
type EAB struct {
	KID     string
	HMACKey string // base64url, as handed out by the CA
}

// CA is an ACME directory profile.
type CA struct {
	Name         string
	DirectoryURL string
	EAB          *EAB
}

// IssueRequest is one issuance attempt.
type IssueRequest struct {
	// Target is the delegation target the user's _acme-challenge CNAME points at.
	Target string
	// Zone publishes proofs at Target.
	Zone         dnszone.Zone
	Names        []string
	AccountEmail string
	CA           CA
}

// Result is the signed certificate and its key, PEM encoded.
type Result struct {
	CertificatePEM []byte // leaf first, then intermediates
	PrivateKeyPEM  []byte
	NotAfter       time.Time
}

// Driver runs the ACME DNS-01 sequence.
type Driver struct {
	newClient        ClientFactory
	propagationDelay time.Duration
	cleanupTimeout   time.Duration
	sleep            func(ctx context.Context, d time.Duration) error
	logger           *zap.Logger
}

// NewDriver creates a Driver. A zero propagationDelay disables the wait.
func NewDriver(propagationDelay time.Duration, logger *zap.Logger) *Driver {
	return &Driver{
		newClient:        NewClient,
		propagationDelay: propagationDelay,
		cleanupTimeout:   DefaultCleanupTimeout,
		sleep:            sleepCtx,
		logger:           logger,
	}
}

// SetClientFactory replaces the ACME client constructor.
func (d *Driver) SetClientFactory(f ClientFactory) {
	d.newClient = f
}

// session tracks proofs published during one attempt, keyed by key
// authorization. It is never shared between attempts.
type session struct {
	zone    dnszone.Zone
	records map[string]string
	order   []string
}

func newSession(zone dnszone.Zone) *session {
	return &session{zone: zone, records: make(map[string]string)}
}

func (s *session) add(keyAuth, recordID string) {
	if _, ok := s.records[keyAuth]; !ok {
		s.order = append(s.order, keyAuth)
	}
	s.records[keyAuth] = recordID
}

// Issue obtains a certificate for req.Names. Proof records are removed
// before Issue returns, whether or not issuance succeeded.
func (d *Driver) Issue(ctx context.Context, req IssueRequest) (*Result, error) {
	if len(req.Names) == 0 {
		return nil, certerr.New(certerr.KindInternal, "no names requested")
	}
	if req.Zone == nil || req.Target == "" {
		return nil, certerr.Configf("domain has no delegation target")
	}
	directory := req.CA.DirectoryURL
	if directory == "" {
		directory = LetsEncryptProduction
	}

	log := d.logger.With(zap.String("domain", req.Names[0]), zap.String("ca", req.CA.Name))

	accountKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, certerr.Wrap(certerr.KindInternal, "generate account key", err)
	}
	client := d.newClient(accountKey, directory)

	if err := d.register(ctx, client, req); err != nil {
		return nil, err
	}

	certKey, csr, err := newCSR(req.Names)
	if err != nil {
		return nil, err
	}

	order, err := client.AuthorizeOrder(ctx, xacme.DomainIDs(req.Names...))
	if err != nil {
		return nil, caError("create order", err)
	}

	thumbprint, err := xacme.JWKThumbprint(accountKey.Public())
	if err != nil {
		return nil, certerr.Wrap(certerr.KindInternal, "compute account thumbprint", err)
	}

	sess := newSession(req.Zone)
	defer d.cleanup(ctx, sess, log)

	var pending []*xacme.Challenge
	var pendingAuthz []string
	for _, authzURL := range order.AuthzURLs {
		authz, err := client.GetAuthorization(ctx, authzURL)
		if err != nil {
			return nil, caError("fetch authorization", err)
		}
		if authz.Status != xacme.StatusPending {
			continue
		}

		chal := findDNS01(authz)
		if chal == nil {
			return nil, certerr.New(certerr.KindValidation,
				fmt.Sprintf("CA offered no dns-01 challenge for %s", authz.Identifier.Value))
		}

		keyAuth := KeyAuthorization(chal.Token, thumbprint)
		recordID, err := req.Zone.CreateProof(ctx, req.Target, ProofValue(keyAuth))
		if err != nil {
			return nil, err
		}
		sess.add(keyAuth, recordID)
		log.Info("dns-01 proof published",
			zap.String("identifier", authz.Identifier.Value),
			zap.Bool("wildcard", authz.Wildcard),
			zap.String("target", req.Target),
		)

		pending = append(pending, chal)
		pendingAuthz = append(pendingAuthz, authz.URI)
	}

	if len(pending) > 0 && d.propagationDelay > 0 {
		log.Debug("waiting for proof propagation", zap.Duration("delay", d.propagationDelay))
		if err := d.sleep(ctx, d.propagationDelay); err != nil {
			return nil, certerr.Wrap(certerr.KindTransient, "issuance timed out waiting for DNS propagation", err)
		}
	}

	for i, chal := range pending {
		if _, err := client.Accept(ctx, chal); err != nil {
			return nil, caError("accept challenge", err)
		}
		if _, err := client.WaitAuthorization(ctx, pendingAuthz[i]); err != nil {
			return nil, validationError(err)
		}
	}

	order, err = client.WaitOrder(ctx, order.URI)
	if err != nil {
		return nil, validationError(err)
	}

	ders, _, err := client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return nil, caError("finalize order", err)
	}
	if len(ders) == 0 {
		return nil, certerr.New(certerr.KindInternal, "CA returned an empty certificate chain")
	}

	leaf, err := x509.ParseCertificate(ders[0])
	if err != nil {
		return nil, certerr.Wrap(certerr.KindInternal, "parse issued certificate", err)
	}

	var chain []byte
	for _, der := range ders {
		chain = append(chain, certcrypto.PEMEncode(certcrypto.DERCertificateBytes(der))...)
	}

	log.Info("certificate issued", zap.Time("not_after", leaf.NotAfter))
	return &Result{
		CertificatePEM: chain,
		PrivateKeyPEM:  certcrypto.PEMEncode(certKey),
		NotAfter:       leaf.NotAfter,
	}, nil
}

func (d *Driver) register(ctx context.Context, client Client, req IssueRequest) error {
	acct := &xacme.Account{}
	if req.AccountEmail != "" {
		acct.Contact = []string{"mailto:" + req.AccountEmail}
	}
	if req.CA.EAB != nil {
		key, err := decodeHMACKey(req.CA.EAB.HMACKey)
		if err != nil {
			return certerr.Wrap(certerr.KindConfig, "invalid EAB HMAC key for "+req.CA.Name, err)
		}
		acct.ExternalAccountBinding = &xacme.ExternalAccountBinding{KID: req.CA.EAB.KID, Key: key}
	}

	_, err := client.Register(ctx, acct, xacme.AcceptTOS)
	if err != nil && !errors.Is(err, xacme.ErrAccountAlreadyExists) {
		return caError("register account", err)
	}
	return nil
}

// cleanup deletes every proof in the session. It runs on a context detached
// from the caller so a cancelled attempt still removes its records.
func (d *Driver) cleanup(parent context.Context, sess *session, log *zap.Logger) {
	if len(sess.order) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.cleanupTimeout)
	defer cancel()

	for _, keyAuth := range sess.order {
		recordID := sess.records[keyAuth]
		if err := sess.zone.DeleteProof(ctx, recordID); err != nil {
			log.Warn("failed to remove dns-01 proof", zap.String("record_id", recordID), zap.Error(err))
		}
	}
}

func findDNS01(authz *xacme.Authorization) *xacme.Challenge {
	for _, c := range authz.Challenges {
		if c.Type == "dns-01" {
			return c
		}
	}
	return nil
}

func newCSR(names []string) (crypto.Signer, []byte, error) {
	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, nil, certerr.Wrap(certerr.KindInternal, "generate certificate key", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, nil, certerr.New(certerr.KindInternal, "certificate key is not a signer")
	}
	tmpl := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: names[0]},
		DNSNames: names,
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, tmpl, signer)
	if err != nil {
		return nil, nil, certerr.Wrap(certerr.KindInternal, "create CSR", err)
	}
	return signer, csr, nil
}

func decodeHMACKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// caDetail returns the CA's own problem detail when one is present.
func caDetail(err error) string {
	var authzErr *xacme.AuthorizationError
	if errors.As(err, &authzErr) {
		for _, e := range authzErr.Errors {
			if d := caDetail(e); d != "" {
				return d
			}
		}
	}
	var acmeErr *xacme.Error
	if errors.As(err, &acmeErr) && acmeErr.Detail != "" {
		return acmeErr.Detail
	}
	return ""
}

func validationError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return certerr.Wrap(certerr.KindTransient, "issuance timed out waiting for CA validation", err)
	}
	detail := caDetail(err)
	if detail == "" {
		detail = err.Error()
	}
	return certerr.Wrap(certerr.KindValidation, detail, err)
}

func caError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return certerr.Wrap(certerr.KindTransient, op+" timed out", err)
	}
	var acmeErr *xacme.Error
	if errors.As(err, &acmeErr) {
		if acmeErr.StatusCode >= 500 {
			return certerr.Wrap(certerr.KindTransient, "CA unavailable during "+op, err)
		}
		if acmeErr.Detail != "" {
			return certerr.Wrap(certerr.KindValidation, acmeErr.Detail, err)
		}
	}
	return certerr.Wrap(certerr.KindInternal, op+" failed", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
