package dnszone

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/LightHostingFree/sslgen/internal/certerr"
	"go.uber.org/zap"
)

// ACMEDNS delegates to a third-party acme-dns server. Each domain gets its own
// registered subdomain and credentials; proofs are set with /update, which
// replaces the TXT value for that subdomain, so no separate delete exists.
type ACMEDNS struct {
	baseURL string
	http    *http.Client
	retry   *Retrier
	logger  *zap.Logger
}

// NewACMEDNS creates an ACMEDNS provider rooted at baseURL.
func NewACMEDNS(baseURL string, retry *Retrier, logger *zap.Logger) *ACMEDNS {
	return &ACMEDNS{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(),
		retry:   retry,
		logger:  logger,
	}
}

// SetHTTPClient replaces the default HTTP client.
func (a *ACMEDNS) SetHTTPClient(hc *http.Client) {
	a.http = hc
}

// Name implements Provider.
func (a *ACMEDNS) Name() string { return ProviderACMEDNS }

type acmeDNSRegisterResponse struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	FullDomain string `json:"fulldomain"`
	SubDomain  string `json:"subdomain"`
}

// Delegate registers a new acme-dns account for domain.
func (a *ACMEDNS) Delegate(ctx context.Context, domain string) (*Registration, error) {
	var reg acmeDNSRegisterResponse
	err := a.retry.Do(ctx, "acme-dns register", func(ctx context.Context) error {
		return doJSON(ctx, a.http, http.MethodPost, a.baseURL+"/register", nil, struct{}{}, &reg)
	})
	if err != nil {
		return nil, err
	}
	if reg.FullDomain == "" || reg.SubDomain == "" || reg.Username == "" {
		return nil, certerr.New(certerr.KindInternal, "acme-dns register returned an incomplete registration")
	}

	a.logger.Info("acme-dns subdomain registered",
		zap.String("domain", domain),
		zap.String("fulldomain", reg.FullDomain),
	)
	return &Registration{
		Target: strings.TrimSuffix(reg.FullDomain, "."),
		Credentials: &Credentials{
			Subdomain: reg.SubDomain,
			Username:  reg.Username,
			Password:  reg.Password,
		},
	}, nil
}

// Zone implements Provider. creds are required.
func (a *ACMEDNS) Zone(creds *Credentials) (Zone, error) {
	if creds == nil || creds.Subdomain == "" || creds.Username == "" {
		return nil, certerr.New(certerr.KindConfig, "acme-dns delegation has no stored credentials")
	}
	return &acmeDNSZone{provider: a, creds: *creds}, nil
}

type acmeDNSZone struct {
	provider *ACMEDNS
	creds    Credentials
}

type acmeDNSUpdate struct {
	SubDomain string `json:"subdomain"`
	TXT       string `json:"txt"`
}

// CreateProof sets the TXT value for the bound subdomain. name is ignored:
// acme-dns addresses records by subdomain only.
func (z *acmeDNSZone) CreateProof(ctx context.Context, _ string, value string) (string, error) {
	if len(value) != 43 {
		return "", certerr.New(certerr.KindInternal, "acme-dns only accepts 43-character DNS-01 proof values")
	}
	headers := map[string]string{
		"X-Api-User": z.creds.Username,
		"X-Api-Key":  z.creds.Password,
	}
	body := acmeDNSUpdate{SubDomain: z.creds.Subdomain, TXT: value}
	err := z.provider.retry.Do(ctx, "acme-dns update", func(ctx context.Context) error {
		return doJSON(ctx, z.provider.http, http.MethodPost, z.provider.baseURL+"/update", headers, body, nil)
	})
	if err != nil {
		return "", err
	}
	return z.creds.Subdomain, nil
}

// DeleteProof is a no-op; the next update replaces the record.
func (z *acmeDNSZone) DeleteProof(_ context.Context, recordID string) error {
	if recordID != z.creds.Subdomain {
		return errors.New("acme-dns: record id does not belong to this delegation")
	}
	return nil
}
