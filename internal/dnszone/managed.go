package dnszone

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/LightHostingFree/sslgen/internal/certerr"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTTL is the TXT record TTL used when none is configured.
const DefaultTTL = 60

// ManagedConfig configures the managed-zone provider.
type ManagedConfig struct {
	APIURL string // e.g. https://api.cloudflare.com/client/v4
	ZoneID string
	Token  string
	Host   string // validation zone apex, e.g. acme.example.net
	TTL    int
}

// Managed publishes proofs through a token-authenticated zone API and
// synthesizes delegation targets as <uuid>.<host> without any remote call.
type Managed struct {
	cfg    ManagedConfig
	http   *http.Client
	retry  *Retrier
	logger *zap.Logger
}

// NewManaged validates cfg and creates a Managed provider.
func NewManaged(cfg ManagedConfig, retry *Retrier, logger *zap.Logger) (*Managed, error) {
	switch {
	case cfg.APIURL == "":
		return nil, certerr.Configf("zone.api_url is required for the managed provider")
	case cfg.ZoneID == "":
		return nil, certerr.Configf("zone.zone_id is required for the managed provider")
	case cfg.Token == "":
		return nil, certerr.Configf("zone.api_token is required for the managed provider")
	case cfg.Host == "":
		return nil, certerr.Configf("zone.host is required for the managed provider")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.Host = strings.Trim(strings.ToLower(cfg.Host), ".")
	return &Managed{cfg: cfg, http: newHTTPClient(), retry: retry, logger: logger}, nil
}

// SetHTTPClient replaces the default HTTP client.
func (m *Managed) SetHTTPClient(hc *http.Client) {
	m.http = hc
}

// Name implements Provider.
func (m *Managed) Name() string { return ProviderManaged }

// Delegate implements Provider.
func (m *Managed) Delegate(_ context.Context, domain string) (*Registration, error) {
	target := uuid.NewString() + "." + m.cfg.Host
	m.logger.Info("validation subdomain allocated",
		zap.String("domain", domain),
		zap.String("target", target),
	)
	return &Registration{Target: target}, nil
}

// Zone implements Provider. The managed zone needs no per-delegation creds.
func (m *Managed) Zone(_ *Credentials) (Zone, error) {
	return m, nil
}

type dnsRecordRequest struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

type dnsRecordResponse struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result struct {
		ID string `json:"id"`
	} `json:"result"`
}

type dnsRecordListResponse struct {
	Success bool `json:"success"`
	Result  []struct {
		ID string `json:"id"`
	} `json:"result"`
}

func (m *Managed) recordsURL() string {
	return m.cfg.APIURL + "/zones/" + url.PathEscape(m.cfg.ZoneID) + "/dns_records"
}

func (m *Managed) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + m.cfg.Token}
}

// CreateProof creates a TXT record and returns the provider's record id.
func (m *Managed) CreateProof(ctx context.Context, name, value string) (string, error) {
	req := dnsRecordRequest{
		Type:    "TXT",
		Name:    strings.TrimSuffix(name, "."),
		Content: value,
		TTL:     m.cfg.TTL,
	}

	// A create whose reply was lost may still have taken effect, so every
	// retry first looks for the record before posting it again.
	var resp dnsRecordResponse
	attempt := 0
	err := m.retry.Do(ctx, "create TXT record", func(ctx context.Context) error {
		attempt++
		resp = dnsRecordResponse{}
		if attempt > 1 {
			id, err := m.findRecord(ctx, req.Name, req.Content)
			if err != nil {
				return err
			}
			if id != "" {
				m.logger.Info("TXT record from an earlier attempt found, reusing it", zap.String("record_id", id))
				resp.Result.ID = id
				return nil
			}
		}
		return doJSON(ctx, m.http, http.MethodPost, m.recordsURL(), m.authHeaders(), req, &resp)
	})
	if err != nil {
		return "", err
	}
	if resp.Result.ID == "" {
		detail := "DNS provider did not return a record id"
		if len(resp.Errors) > 0 {
			detail = fmt.Sprintf("%s (%s)", detail, resp.Errors[0].Message)
		}
		return "", certerr.New(certerr.KindInternal, detail)
	}

	m.logger.Debug("TXT record created", zap.String("name", req.Name), zap.String("record_id", resp.Result.ID))
	return resp.Result.ID, nil
}

// findRecord returns the id of the TXT record with exactly name and content,
// or "" when there is none.
func (m *Managed) findRecord(ctx context.Context, name, content string) (string, error) {
	q := url.Values{"type": {"TXT"}, "name": {name}, "content": {content}}
	var list dnsRecordListResponse
	if err := doJSON(ctx, m.http, http.MethodGet, m.recordsURL()+"?"+q.Encode(), m.authHeaders(), nil, &list); err != nil {
		return "", err
	}
	if len(list.Result) == 0 {
		return "", nil
	}
	return list.Result[0].ID, nil
}

// DeleteProof removes the TXT record with the given id.
func (m *Managed) DeleteProof(ctx context.Context, recordID string) error {
	if recordID == "" {
		return certerr.New(certerr.KindInternal, "empty record id")
	}
	target := m.recordsURL() + "/" + url.PathEscape(recordID)
	return m.retry.Do(ctx, "delete TXT record", func(ctx context.Context) error {
		return doJSON(ctx, m.http, http.MethodDelete, target, m.authHeaders(), nil, nil)
	})
}
