// Package handler exposes the delegation and certificate services over HTTP.
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/LightHostingFree/sslgen/internal/dns"
	"github.com/LightHostingFree/sslgen/internal/identity"
	"github.com/LightHostingFree/sslgen/internal/registry/model"
	"github.com/LightHostingFree/sslgen/internal/registry/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// delegationAPI is satisfied by *service.DelegationService.
type delegationAPI interface {
	Delegate(ctx context.Context, ownerID, email, domain string) (*service.DelegateResult, error)
	Remove(ctx context.Context, ownerID, domain string) error
}

// certificateAPI is satisfied by *service.CertificateService.
type certificateAPI interface {
	Issue(ctx context.Context, ownerID, domain string, opts service.IssueOptions) (*service.CertificateView, error)
	Get(ctx context.Context, ownerID, domain string) (*service.CertificateView, error)
	List(ctx context.Context, ownerID string, status model.Status) ([]*service.CertificateView, error)
	Download(ctx context.Context, ownerID, domain string) (*service.Bundle, error)
	SetReminder(ctx context.Context, ownerID, domain string, enabled bool) error
}

// dnsLookup is satisfied by *dns.Prechecker.
type dnsLookup interface {
	Lookup(ctx context.Context, domain string) *dns.Status
}

// CertificateHandler serves the owner-facing domain and certificate routes.
type CertificateHandler struct {
	delegations  delegationAPI
	certs        certificateAPI
	dns          dnsLookup
	tokens       *identity.OwnerTokens
	issueLimiter gin.HandlerFunc
	logger       *zap.Logger
}

// NewCertificateHandler creates a CertificateHandler. dnsLookup may be nil to
// disable the check-dns route.
func NewCertificateHandler(delegations delegationAPI, certs certificateAPI, lookup dnsLookup, tokens *identity.OwnerTokens, logger *zap.Logger) *CertificateHandler {
	return &CertificateHandler{
		delegations: delegations,
		certs:       certs,
		dns:         lookup,
		tokens:      tokens,
		logger:      logger,
	}
}

// SetIssueLimit throttles issuance attempts per owner.
func (h *CertificateHandler) SetIssueLimit(interval time.Duration, burst int) {
	h.issueLimiter = IssueLimiter(interval, burst)
}

// Register registers all routes on the given router group.
func (h *CertificateHandler) Register(rg *gin.RouterGroup) {
	owner := rg.Group("", identity.RequireOwner(h.tokens))

	issue := []gin.HandlerFunc{h.Issue}
	if h.issueLimiter != nil {
		issue = []gin.HandlerFunc{h.issueLimiter, h.Issue}
	}

	domains := owner.Group("/domains")
	{
		domains.POST("", h.Delegate)
		domains.GET("/:domain", h.Get)
		domains.DELETE("/:domain", h.Remove)
		domains.POST("/:domain/issue", issue...)
		domains.GET("/:domain/certificate", h.Download)
		domains.PATCH("/:domain/reminders", h.SetReminder)
	}
	owner.GET("/certificates", h.List)
	if h.dns != nil {
		owner.GET("/check-dns", h.CheckDNS)
	}
}

func ownerID(c *gin.Context) string {
	return identity.OwnerFromCtx(c).OwnerID()
}

type delegateRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// Delegate handles POST /domains. It answers 201 the first time a domain is
// delegated and 200 with the unchanged target afterwards.
func (h *CertificateHandler) Delegate(c *gin.Context) {
	var req delegateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := identity.OwnerFromCtx(c)
	res, err := h.delegations.Delegate(c.Request.Context(), claims.OwnerID(), claims.Email, req.Domain)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// Get handles GET /domains/:domain.
func (h *CertificateHandler) Get(c *gin.Context) {
	view, err := h.certs.Get(c.Request.Context(), ownerID(c), c.Param("domain"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Remove handles DELETE /domains/:domain.
func (h *CertificateHandler) Remove(c *gin.Context) {
	if err := h.delegations.Remove(c.Request.Context(), ownerID(c), c.Param("domain")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type issueRequest struct {
	Email      string `json:"email"`
	Wildcard   bool   `json:"wildcard"`
	IncludeWWW bool   `json:"include_www"`
	CA         string `json:"ca"`
}

// Issue handles POST /domains/:domain/issue. The call blocks for the whole
// attempt and returns the updated record.
func (h *CertificateHandler) Issue(c *gin.Context) {
	var req issueRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	view, err := h.certs.Issue(c.Request.Context(), ownerID(c), c.Param("domain"), service.IssueOptions{
		Email:      strings.TrimSpace(req.Email),
		Wildcard:   req.Wildcard,
		IncludeWWW: req.IncludeWWW,
		CA:         req.CA,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Download handles GET /domains/:domain/certificate.
func (h *CertificateHandler) Download(c *gin.Context) {
	bundle, err := h.certs.Download(c.Request.Context(), ownerID(c), c.Param("domain"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, bundle)
}

type reminderRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetReminder handles PATCH /domains/:domain/reminders.
func (h *CertificateHandler) SetReminder(c *gin.Context) {
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.certs.SetReminder(c.Request.Context(), ownerID(c), c.Param("domain"), *req.Enabled); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// List handles GET /certificates?status=.
func (h *CertificateHandler) List(c *gin.Context) {
	status := model.Status(strings.ToUpper(c.Query("status")))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + c.Query("status")})
		return
	}
	views, err := h.certs.List(c.Request.Context(), ownerID(c), status)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"certificates": views, "count": len(views)})
}

// CheckDNS handles GET /check-dns?domain=.
func (h *CertificateHandler) CheckDNS(c *gin.Context) {
	domain, err := service.NormalizeDomain(c.Query("domain"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	c.JSON(http.StatusOK, h.dns.Lookup(ctx, domain))
}
