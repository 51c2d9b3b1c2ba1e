// Package renewal sends expiry reminders for issued certificates.
package renewal

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/LightHostingFree/sslgen/internal/email"
	"github.com/LightHostingFree/sslgen/internal/registry/model"
	"go.uber.org/zap"
)

// DefaultThreshold is the reminder window used when none is configured.
const DefaultThreshold = 30 * 24 * time.Hour

// source lists certificates that need a reminder.
// *service.CertificateService satisfies this interface.
type source interface {
	ReminderDue(ctx context.Context, within time.Duration) ([]*model.Certificate, error)
}

// SendError records a failed delivery to one owner.
type SendError struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// Report summarizes one reminder run.
type Report struct {
	Sent   int         `json:"sent"`
	Errors []SendError `json:"errors,omitempty"`
}

// Reminder groups expiring certificates by owner and emails each owner once.
type Reminder struct {
	source    source
	sender    email.EmailSender
	threshold time.Duration
	now       func() time.Time
	onSent    func(ok bool)
	logger    *zap.Logger
}

// NewReminder creates a Reminder.
func NewReminder(src source, sender email.EmailSender, threshold time.Duration, logger *zap.Logger) *Reminder {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Reminder{
		source:    src,
		sender:    sender,
		threshold: threshold,
		now:       time.Now,
		logger:    logger,
	}
}

// SetSendRecorder configures a callback invoked after every delivery attempt.
func (r *Reminder) SetSendRecorder(fn func(ok bool)) {
	r.onSent = fn
}

// Run sends one reminder per owner. A failed delivery is recorded in the
// report and does not stop the run.
func (r *Reminder) Run(ctx context.Context) (*Report, error) {
	certs, err := r.source.ReminderDue(ctx, r.threshold)
	if err != nil {
		return nil, fmt.Errorf("list expiring certificates: %w", err)
	}

	byOwner := make(map[string][]*model.Certificate)
	for _, c := range certs {
		if c.OwnerEmail == "" {
			r.logger.Debug("no contact email for expiring certificate", zap.String("domain", c.Domain))
			continue
		}
		byOwner[c.OwnerEmail] = append(byOwner[c.OwnerEmail], c)
	}

	owners := make([]string, 0, len(byOwner))
	for addr := range byOwner {
		owners = append(owners, addr)
	}
	sort.Strings(owners)

	report := &Report{}
	now := r.now()
	for _, addr := range owners {
		msg := compose(addr, byOwner[addr], now)
		if err := r.sender.Send(ctx, msg); err != nil {
			r.logger.Warn("reminder delivery failed", zap.String("to", addr), zap.Error(err))
			report.Errors = append(report.Errors, SendError{Email: addr, Error: err.Error()})
			r.record(false)
			continue
		}
		report.Sent++
		r.record(true)
	}

	r.logger.Info("expiry reminders sent",
		zap.Int("certificates", len(certs)),
		zap.Int("sent", report.Sent),
		zap.Int("failed", len(report.Errors)),
	)
	return report, nil
}

func (r *Reminder) record(ok bool) {
	if r.onSent != nil {
		r.onSent(ok)
	}
}

// Loop runs the reminder every interval until ctx is cancelled.
func (r *Reminder) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.logger.Error("reminder run failed", zap.Error(err))
			}
		}
	}
}

func compose(to string, certs []*model.Certificate, now time.Time) email.Message {
	subject := "Your SSL certificate is expiring soon"
	if len(certs) > 1 {
		subject = fmt.Sprintf("%d SSL certificates are expiring soon", len(certs))
	}

	var text, rows strings.Builder
	text.WriteString("The following certificates expire soon. Request a new certificate to keep your sites secure.\n\n")
	for _, c := range certs {
		days := c.DaysLeft(now)
		expires := c.ExpiresAt.UTC().Format("2006-01-02")
		fmt.Fprintf(&text, "  %s  expires %s (%d days)\n", c.Domain, expires, days)
		fmt.Fprintf(&rows, "<tr><td>%s</td><td>%s</td><td>%d</td></tr>", html.EscapeString(c.Domain), expires, days)
	}

	body := "<p>The following certificates expire soon. Request a new certificate to keep your sites secure.</p>" +
		"<table><tr><th>Domain</th><th>Expires</th><th>Days left</th></tr>" + rows.String() + "</table>"

	return email.Message{To: to, Subject: subject, Text: text.String(), HTML: body}
}
