package handler

import (
	"errors"
	"net/http"

	"github.com/LightHostingFree/sslgen/internal/certerr"
	"github.com/LightHostingFree/sslgen/internal/registry/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps service sentinels and certerr kinds to HTTP responses.
// Config and internal causes are logged but never shown to the client.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDomain), errors.Is(err, service.ErrUnknownCA):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrDelegationNotFound), errors.Is(err, service.ErrCertificateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrIssuanceInProgress), errors.Is(err, service.ErrRevoked),
		errors.Is(err, service.ErrNotIssued):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrProviderMismatch):
		logger.Error("delegation provider mismatch", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server misconfiguration"})
		return
	}

	var tagged *certerr.Error
	if !errors.As(err, &tagged) {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": tagged.Detail, "kind": tagged.Kind}
	switch tagged.Kind {
	case certerr.KindValidation:
		c.JSON(http.StatusUnprocessableEntity, body)
	case certerr.KindAuth:
		c.JSON(http.StatusBadGateway, body)
	case certerr.KindTransient:
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, body)
	case certerr.KindConfig:
		logger.Error("configuration error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server misconfiguration", "kind": tagged.Kind})
	default:
		logger.Error("internal error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": tagged.Kind})
	}
}
