package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/LightHostingFree/sslgen/internal/acme"
	"github.com/LightHostingFree/sslgen/internal/dnszone"
	"github.com/LightHostingFree/sslgen/internal/registry/model"
	"github.com/LightHostingFree/sslgen/internal/registry/repository"
	"github.com/LightHostingFree/sslgen/internal/secret"
	"go.uber.org/zap"
	"golang.org/x/net/idna"
)

// delegationStore is the storage interface required by DelegationService.
// *repository.DelegationRepository satisfies this interface.
type delegationStore interface {
	FindByOwnerAndDomain(ctx context.Context, ownerID, domain string) (*model.Delegation, error)
	CreateIfAbsent(ctx context.Context, d *model.Delegation) (*model.Delegation, bool, error)
	Delete(ctx context.Context, ownerID, domain string) error
}

// DelegateResult is returned by Delegate.
type DelegateResult struct {
	Domain        string `json:"domain"`
	ChallengeName string `json:"cname_name"`
	// WWWChallengeName must also point at Target for include_www requests.
	WWWChallengeName string       `json:"www_cname_name"`
	Target           string       `json:"cname_target"`
	Status           model.Status `json:"status"`
	Created          bool         `json:"created"`
}

var domainPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+([a-z]{2,63}|xn--[a-z0-9]([a-z0-9-]{0,57}[a-z0-9])?)$`)

// NormalizeDomain trims, lowercases and validates a bare domain name.
// Internationalized names are converted to their punycode form.
func NormalizeDomain(raw string) (string, error) {
	d := acme.NormalizeDomain(raw)
	if d == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	d, err := idna.Lookup.ToASCII(d)
	if err != nil || len(d) > 253 || !domainPattern.MatchString(d) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	return d, nil
}

// DelegationService allocates and stores the permanent CNAME target for
// each owner's domain.
type DelegationService struct {
	store     delegationStore
	certs     certificateStore
	provider  dnszone.Provider
	codec     *secret.Codec
	threshold time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewDelegationService creates a DelegationService. threshold is the expiry
// window used when presenting an existing record's status.
func NewDelegationService(store delegationStore, certs certificateStore, provider dnszone.Provider, codec *secret.Codec, threshold time.Duration, logger *zap.Logger) *DelegationService {
	return &DelegationService{
		store:     store,
		certs:     certs,
		provider:  provider,
		codec:     codec,
		threshold: threshold,
		now:       time.Now,
		logger:    logger,
	}
}

// Delegate returns the delegation target for (ownerID, domain), creating
// one when none exists. An existing target is never rotated.
func (s *DelegationService) Delegate(ctx context.Context, ownerID, email, rawDomain string) (*DelegateResult, error) {
	domain, err := NormalizeDomain(rawDomain)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindByOwnerAndDomain(ctx, ownerID, domain)
	switch {
	case err == nil:
		return s.current(ctx, existing), nil
	case !errors.Is(err, repository.ErrDelegationNotFound):
		return nil, fmt.Errorf("find delegation: %w", err)
	}

	reg, err := s.provider.Delegate(ctx, domain)
	if err != nil {
		return nil, err
	}

	d := &model.Delegation{
		OwnerID:  ownerID,
		Email:    email,
		Domain:   domain,
		Target:   reg.Target,
		Provider: s.provider.Name(),
	}
	if reg.Credentials != nil {
		if err := s.sealCredentials(d, reg.Credentials); err != nil {
			return nil, err
		}
	}

	stored, created, err := s.store.CreateIfAbsent(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("persist delegation: %w", err)
	}
	if !created {
		s.logger.Info("concurrent delegation won; discarding freshly allocated target",
			zap.String("domain", domain),
			zap.String("discarded_target", reg.Target),
			zap.String("target", stored.Target),
		)
		return s.current(ctx, stored), nil
	}

	s.logger.Info("domain delegated",
		zap.String("domain", domain),
		zap.String("owner_id", ownerID),
		zap.String("provider", d.Provider),
		zap.String("target", stored.Target),
	)
	return &DelegateResult{
		Domain:           stored.Domain,
		ChallengeName:    stored.ChallengeName(),
		WWWChallengeName: stored.WWWChallengeName(),
		Target:           stored.Target,
		Status:           model.StatusActionRequired,
		Created:          true,
	}, nil
}

func (s *DelegationService) current(ctx context.Context, d *model.Delegation) *DelegateResult {
	status := model.StatusActionRequired
	if c, err := s.certs.Latest(ctx, d.OwnerID, d.Domain); err == nil {
		status = model.Present(c, s.now(), s.threshold)
	} else if !errors.Is(err, repository.ErrCertificateNotFound) {
		s.logger.Warn("could not load certificate status", zap.String("domain", d.Domain), zap.Error(err))
	}
	return &DelegateResult{
		Domain:           d.Domain,
		ChallengeName:    d.ChallengeName(),
		WWWChallengeName: d.WWWChallengeName(),
		Target:           d.Target,
		Status:           status,
	}
}

// Lookup returns the delegation for (ownerID, domain).
func (s *DelegationService) Lookup(ctx context.Context, ownerID, rawDomain string) (*model.Delegation, error) {
	domain, err := NormalizeDomain(rawDomain)
	if err != nil {
		return nil, err
	}
	d, err := s.store.FindByOwnerAndDomain(ctx, ownerID, domain)
	if err != nil {
		if errors.Is(err, repository.ErrDelegationNotFound) {
			return nil, ErrDelegationNotFound
		}
		return nil, fmt.Errorf("find delegation: %w", err)
	}
	return d, nil
}

// Remove deletes the delegation and its certificate history.
func (s *DelegationService) Remove(ctx context.Context, ownerID, rawDomain string) error {
	domain, err := NormalizeDomain(rawDomain)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, ownerID, domain); err != nil {
		if errors.Is(err, repository.ErrDelegationNotFound) {
			return ErrDelegationNotFound
		}
		return fmt.Errorf("delete delegation: %w", err)
	}
	s.logger.Info("delegation removed", zap.String("domain", domain), zap.String("owner_id", ownerID))
	return nil
}

// Zone returns the proof-publishing capability bound to d.
func (s *DelegationService) Zone(d *model.Delegation) (dnszone.Zone, error) {
	if d.Provider != s.provider.Name() {
		return nil, fmt.Errorf("%w: delegation for %s uses provider %q but %q is configured",
			ErrProviderMismatch, d.Domain, d.Provider, s.provider.Name())
	}
	var creds *dnszone.Credentials
	if d.Username != "" {
		c, err := s.openCredentials(d)
		if err != nil {
			return nil, err
		}
		creds = c
	}
	return s.provider.Zone(creds)
}

func (s *DelegationService) sealCredentials(d *model.Delegation, c *dnszone.Credentials) error {
	var err error
	if d.Subdomain, err = s.codec.Seal(c.Subdomain); err != nil {
		return fmt.Errorf("seal subdomain: %w", err)
	}
	if d.Username, err = s.codec.Seal(c.Username); err != nil {
		return fmt.Errorf("seal username: %w", err)
	}
	if d.Password, err = s.codec.Seal(c.Password); err != nil {
		return fmt.Errorf("seal password: %w", err)
	}
	return nil
}

func (s *DelegationService) openCredentials(d *model.Delegation) (*dnszone.Credentials, error) {
	var (
		c   dnszone.Credentials
		err error
	)
	if c.Subdomain, err = s.codec.Open(d.Subdomain); err != nil {
		return nil, fmt.Errorf("open subdomain: %w", err)
	}
	if c.Username, err = s.codec.Open(d.Username); err != nil {
		return nil, fmt.Errorf("open username: %w", err)
	}
	if c.Password, err = s.codec.Open(d.Password); err != nil {
		return nil, fmt.Errorf("open password: %w", err)
	}
	return &c, nil
}
