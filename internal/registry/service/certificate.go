package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LightHostingFree/sslgen/internal/acme"
	"github.com/LightHostingFree/sslgen/internal/certerr"
	"github.com/LightHostingFree/sslgen/internal/registry/model"
	"github.com/LightHostingFree/sslgen/internal/registry/repository"
	"github.com/LightHostingFree/sslgen/internal/secret"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// certificateStore is the storage interface required by CertificateService.
// *repository.CertificateRepository satisfies this interface.
type certificateStore interface {
	Latest(ctx context.Context, ownerID, domain string) (*model.Certificate, error)
	LatestIssued(ctx context.Context, ownerID, domain string) (*model.Certificate, error)
	Create(ctx context.Context, c *model.Certificate) error
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Certificate, error)
	ListIssuedExpiringBefore(ctx context.Context, cutoff time.Time, remindersOnly bool, now time.Time) ([]*model.Certificate, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error
	MarkIssued(ctx context.Context, c *model.Certificate) error
	SetReminder(ctx context.Context, ownerID, domain string, enabled bool) error
}

// issuer runs one ACME attempt. *acme.Driver satisfies this interface.
type issuer interface {
	Issue(ctx context.Context, req acme.IssueRequest) (*acme.Result, error)
}

// domainLocker serializes attempts for a domain across instances.
// *repository.DomainLocks satisfies this interface.
type domainLocker interface {
	TryLock(ctx context.Context, domain string) (unlock func(), ok bool, err error)
}

// prechecker verifies a domain can validate before any ACME traffic.
type prechecker interface {
	Check(ctx context.Context, names []string, target string) error
}

// CertificateConfig holds lifecycle settings.
type CertificateConfig struct {
	Validity        time.Duration // fixed validity window recorded at issuance
	ExpiryThreshold time.Duration // window in which ISSUED is presented as ACTION_REQUIRED
	IssueTimeout    time.Duration // bound on a whole attempt
	DefaultCA       string
	CAs             map[string]acme.CA
}

// IssueOptions are the per-request issuance choices.
type IssueOptions struct {
	Email      string
	Wildcard   bool
	IncludeWWW bool
	CA         string
}

// CertificateView is a certificate record with its presented status.
type CertificateView struct {
	Domain          string       `json:"domain"`
	ChallengeName   string       `json:"cname_name"`
	ChallengeNames  []string     `json:"cname_names"` // every record the CA queries
	Target          string       `json:"cname_target"`
	Status          model.Status `json:"status"`
	Wildcard        bool         `json:"wildcard"`
	IncludeWWW      bool         `json:"include_www"`
	IssuedAt        *time.Time   `json:"issued_at,omitempty"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
	DaysLeft        int          `json:"days_left"`
	ReminderEnabled bool         `json:"reminder_enabled"`
}

// Bundle is the decrypted material for download.
type Bundle struct {
	PrivateKey  string `json:"private_key"`
	Certificate string `json:"certificate"`
	CABundle    string `json:"ca_bundle"`
}

// CertificateService drives issuance and owns the certificate lifecycle.
type CertificateService struct {
	certs       certificateStore
	delegations *DelegationService
	driver      issuer
	codec       *secret.Codec
	cfg         CertificateConfig
	precheck    prechecker
	locks       domainLocker
	onFailure   func(kind certerr.Kind)
	now         func() time.Time
	logger      *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewCertificateService creates a CertificateService.
func NewCertificateService(certs certificateStore, delegations *DelegationService, driver issuer, codec *secret.Codec, cfg CertificateConfig, logger *zap.Logger) *CertificateService {
	return &CertificateService{
		certs:       certs,
		delegations: delegations,
		driver:      driver,
		codec:       codec,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger,
		inflight:    make(map[string]struct{}),
	}
}

// SetPrechecker enables the DNS precheck before every attempt.
func (s *CertificateService) SetPrechecker(p prechecker) {
	s.precheck = p
}

// SetDomainLocker adds a shared lock on top of the in-process guard so that
// replicas sharing one database never run concurrent attempts for a domain.
func (s *CertificateService) SetDomainLocker(l domainLocker) {
	s.locks = l
}

// SetFailureRecorder configures a callback invoked once per failed attempt.
func (s *CertificateService) SetFailureRecorder(fn func(kind certerr.Kind)) {
	s.onFailure = fn
}

func (s *CertificateService) acquire(domain string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[domain]; busy {
		return false
	}
	s.inflight[domain] = struct{}{}
	return true
}

func (s *CertificateService) release(domain string) {
	s.mu.Lock()
	delete(s.inflight, domain)
	s.mu.Unlock()
}

func (s *CertificateService) resolveCA(name string) (acme.CA, error) {
	if name == "" {
		name = s.cfg.DefaultCA
	}
	ca, ok := s.cfg.CAs[name]
	if !ok {
		return acme.CA{}, fmt.Errorf("%w: %q", ErrUnknownCA, name)
	}
	return ca, nil
}

// Issue runs one issuance attempt for (ownerID, domain). Only one attempt per
// domain runs at a time; a concurrent call returns ErrIssuanceInProgress.
func (s *CertificateService) Issue(ctx context.Context, ownerID, rawDomain string, opts IssueOptions) (*CertificateView, error) {
	d, err := s.delegations.Lookup(ctx, ownerID, rawDomain)
	if err != nil {
		return nil, err
	}
	ca, err := s.resolveCA(opts.CA)
	if err != nil {
		return nil, err
	}

	if !s.acquire(d.Domain) {
		return nil, ErrIssuanceInProgress
	}
	defer s.release(d.Domain)

	if s.locks != nil {
		unlock, ok, err := s.locks.TryLock(ctx, d.Domain)
		if err != nil {
			return nil, fmt.Errorf("lock domain: %w", err)
		}
		if !ok {
			return nil, ErrIssuanceInProgress
		}
		defer unlock()
	}

	prev, err := s.latest(ctx, ownerID, d.Domain)
	if err != nil {
		return nil, err
	}
	if prev.Status == model.StatusRevoked {
		return nil, ErrRevoked
	}

	zone, err := s.delegations.Zone(d)
	if err != nil {
		return nil, err
	}

	if s.cfg.IssueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.IssueTimeout)
		defer cancel()
	}

	log := s.logger.With(zap.String("domain", d.Domain), zap.String("owner_id", ownerID), zap.String("ca", ca.Name))
	names := acme.Names(d.Domain, opts.Wildcard, opts.IncludeWWW)

	if s.precheck != nil {
		if err := s.precheck.Check(ctx, names, d.Target); err != nil {
			s.recordFailure(err)
			log.Info("issuance rejected by DNS precheck", zap.Error(err))
			return nil, err
		}
	}

	email := opts.Email
	if email == "" {
		email = d.Email
	}

	cert, err := s.attemptRow(ctx, prev, opts)
	if err != nil {
		return nil, err
	}

	log.Info("issuance started", zap.Bool("wildcard", opts.Wildcard), zap.Bool("include_www", opts.IncludeWWW))
	res, err := s.driver.Issue(ctx, acme.IssueRequest{
		Target:       d.Target,
		Zone:         zone,
		Names:        names,
		AccountEmail: email,
		CA:           ca,
	})
	if err != nil {
		s.recordFailure(err)
		s.markFailed(ctx, cert, log)
		log.Warn("issuance failed", zap.String("kind", string(certerr.KindOf(err))), zap.Error(err))
		return nil, err
	}

	certPEM, err := s.codec.Seal(string(res.CertificatePEM))
	if err != nil {
		return nil, s.abort(ctx, cert, log, fmt.Errorf("seal certificate: %w", err))
	}
	keyPEM, err := s.codec.Seal(string(res.PrivateKeyPEM))
	if err != nil {
		return nil, s.abort(ctx, cert, log, fmt.Errorf("seal private key: %w", err))
	}

	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.cfg.Validity)
	cert.Status = model.StatusIssued
	cert.Wildcard = opts.Wildcard
	cert.IncludeWWW = opts.IncludeWWW
	cert.IssuedAt = &issuedAt
	cert.ExpiresAt = &expiresAt
	cert.CertificatePEM = certPEM
	cert.PrivateKeyPEM = keyPEM

	// The CA has already signed; persist even if the caller's deadline passed.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.certs.MarkIssued(persistCtx, cert); err != nil {
		return nil, s.abort(ctx, cert, log, fmt.Errorf("store certificate: %w", err))
	}

	log.Info("issuance succeeded", zap.Time("expires_at", expiresAt), zap.Time("ca_not_after", res.NotAfter))
	return s.view(d.Domain, d.Target, cert), nil
}

// attemptRow returns the row an attempt writes to. The untouched row created
// with the delegation is reused. Any other latest row is kept as history and
// a fresh one is inserted, so a failed renewal never clears issued material.
func (s *CertificateService) attemptRow(ctx context.Context, prev *model.Certificate, opts IssueOptions) (*model.Certificate, error) {
	if prev.Status == model.StatusActionRequired && prev.CertificatePEM == "" {
		return prev, nil
	}
	next := &model.Certificate{
		DelegationID:    prev.DelegationID,
		OwnerID:         prev.OwnerID,
		Domain:          prev.Domain,
		Target:          prev.Target,
		Wildcard:        opts.Wildcard,
		IncludeWWW:      opts.IncludeWWW,
		ReminderEnabled: prev.ReminderEnabled,
		OwnerEmail:      prev.OwnerEmail,
	}
	if err := s.certs.Create(ctx, next); err != nil {
		return nil, fmt.Errorf("create certificate attempt: %w", err)
	}
	return next, nil
}

func (s *CertificateService) abort(ctx context.Context, cert *model.Certificate, log *zap.Logger, err error) error {
	wrapped := certerr.Wrap(certerr.KindInternal, "could not store the issued certificate", err)
	s.recordFailure(wrapped)
	s.markFailed(ctx, cert, log)
	log.Error("issuance could not be completed", zap.Error(err))
	return wrapped
}

// markFailed uses a detached context so a timed-out attempt is still recorded.
func (s *CertificateService) markFailed(ctx context.Context, cert *model.Certificate, log *zap.Logger) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.certs.UpdateStatus(bg, cert.ID, model.StatusFailed); err != nil {
		log.Error("failed to mark certificate FAILED", zap.Error(err))
	}
}

func (s *CertificateService) recordFailure(err error) {
	if s.onFailure != nil {
		s.onFailure(certerr.KindOf(err))
	}
}

func (s *CertificateService) latest(ctx context.Context, ownerID, domain string) (*model.Certificate, error) {
	c, err := s.certs.Latest(ctx, ownerID, domain)
	if err != nil {
		if errors.Is(err, repository.ErrCertificateNotFound) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	return c, nil
}

func (s *CertificateService) view(domain, target string, c *model.Certificate) *CertificateView {
	now := s.now()
	return &CertificateView{
		Domain:          domain,
		ChallengeName:   acme.ChallengeName(domain),
		ChallengeNames:  acme.ChallengeNames(acme.Names(domain, c.Wildcard, c.IncludeWWW)),
		Target:          target,
		Status:          model.Present(c, now, s.cfg.ExpiryThreshold),
		Wildcard:        c.Wildcard,
		IncludeWWW:      c.IncludeWWW,
		IssuedAt:        c.IssuedAt,
		ExpiresAt:       c.ExpiresAt,
		DaysLeft:        c.DaysLeft(now),
		ReminderEnabled: c.ReminderEnabled,
	}
}

// Get returns the presented certificate record for (ownerID, domain).
func (s *CertificateService) Get(ctx context.Context, ownerID, rawDomain string) (*CertificateView, error) {
	domain, err := NormalizeDomain(rawDomain)
	if err != nil {
		return nil, err
	}
	c, err := s.latest(ctx, ownerID, domain)
	if err != nil {
		return nil, err
	}
	return s.view(c.Domain, c.Target, c), nil
}

// List returns every certificate of ownerID with presented statuses,
// optionally filtered by presented status. Records found past expiry are
// written back as EXPIRED.
func (s *CertificateService) List(ctx context.Context, ownerID string, status model.Status) ([]*CertificateView, error) {
	certs, err := s.certs.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}

	out := make([]*CertificateView, 0, len(certs))
	for _, c := range certs {
		v := s.view(c.Domain, c.Target, c)
		if v.Status == model.StatusExpired && c.Status == model.StatusIssued {
			if err := s.certs.UpdateStatus(ctx, c.ID, model.StatusExpired); err != nil {
				s.logger.Warn("failed to record expiry", zap.String("domain", c.Domain), zap.Error(err))
			}
		}
		if status != "" && v.Status != status {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Download returns the decrypted key and the chain split into leaf and CA bundle.
func (s *CertificateService) Download(ctx context.Context, ownerID, rawDomain string) (*Bundle, error) {
	domain, err := NormalizeDomain(rawDomain)
	if err != nil {
		return nil, err
	}
	c, err := s.latest(ctx, ownerID, domain)
	if err != nil {
		return nil, err
	}
	if c.CertificatePEM == "" || c.PrivateKeyPEM == "" {
		// A failed or running renewal falls back to the last issued certificate.
		c, err = s.certs.LatestIssued(ctx, ownerID, domain)
		if errors.Is(err, repository.ErrCertificateNotFound) {
			return nil, ErrNotIssued
		}
		if err != nil {
			return nil, fmt.Errorf("get issued certificate: %w", err)
		}
	}

	chainPEM, err := s.codec.Open(c.CertificatePEM)
	if err != nil {
		return nil, fmt.Errorf("open certificate: %w", err)
	}
	keyPEM, err := s.codec.Open(c.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("open private key: %w", err)
	}

	leaf, bundle, err := SplitChain([]byte(chainPEM))
	if err != nil {
		return nil, err
	}
	return &Bundle{PrivateKey: keyPEM, Certificate: leaf, CABundle: bundle}, nil
}

// SplitChain separates a PEM chain into the leaf and the remaining CA bundle.
func SplitChain(chain []byte) (leaf, bundle string, err error) {
	certs, err := certcrypto.ParsePEMBundle(chain)
	if err != nil {
		return "", "", fmt.Errorf("parse certificate chain: %w", err)
	}
	if len(certs) == 0 {
		return "", "", errors.New("certificate chain is empty")
	}
	leaf = string(certcrypto.PEMEncode(certcrypto.DERCertificateBytes(certs[0].Raw)))
	for _, c := range certs[1:] {
		bundle += string(certcrypto.PEMEncode(certcrypto.DERCertificateBytes(c.Raw)))
	}
	return leaf, bundle, nil
}

// SetReminder enables or disables expiry reminders for (ownerID, domain).
func (s *CertificateService) SetReminder(ctx context.Context, ownerID, rawDomain string, enabled bool) error {
	domain, err := NormalizeDomain(rawDomain)
	if err != nil {
		return err
	}
	if err := s.certs.SetReminder(ctx, ownerID, domain, enabled); err != nil {
		if errors.Is(err, repository.ErrCertificateNotFound) {
			return ErrCertificateNotFound
		}
		return fmt.Errorf("set reminder: %w", err)
	}
	return nil
}

// DueForRenewal returns ISSUED certificates expiring within the given window.
func (s *CertificateService) DueForRenewal(ctx context.Context, within time.Duration) ([]*model.Certificate, error) {
	now := s.now()
	return s.certs.ListIssuedExpiringBefore(ctx, now.Add(within), false, now)
}

// ReminderDue returns ISSUED, not yet expired certificates with reminders
// enabled that expire within the given window.
func (s *CertificateService) ReminderDue(ctx context.Context, within time.Duration) ([]*model.Certificate, error) {
	now := s.now()
	return s.certs.ListIssuedExpiringBefore(ctx, now.Add(within), true, now)
}
