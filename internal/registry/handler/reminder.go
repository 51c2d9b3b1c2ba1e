package handler

import (
	"context"
	"net/http"

	"github.com/LightHostingFree/sslgen/internal/identity"
	"github.com/LightHostingFree/sslgen/internal/renewal"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// reminderRunner is satisfied by *renewal.Reminder.
type reminderRunner interface {
	Run(ctx context.Context) (*renewal.Report, error)
}

// ReminderHandler lets an operator or a cron job trigger the reminder run.
type ReminderHandler struct {
	reminder reminderRunner
	secret   string
	logger   *zap.Logger
}

// NewReminderHandler creates a ReminderHandler guarded by a static secret.
func NewReminderHandler(r reminderRunner, secret string, logger *zap.Logger) *ReminderHandler {
	return &ReminderHandler{reminder: r, secret: secret, logger: logger}
}

// Register mounts POST /admin/reminders. Nothing is mounted without a secret.
func (h *ReminderHandler) Register(rg *gin.RouterGroup) {
	if h.secret == "" {
		return
	}
	rg.POST("/admin/reminders", identity.RequireSecret(h.secret), h.Run)
}

// Run handles POST /admin/reminders.
func (h *ReminderHandler) Run(c *gin.Context) {
	report, err := h.reminder.Run(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
