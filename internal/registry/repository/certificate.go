package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LightHostingFree/sslgen/internal/registry/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCertificateNotFound is returned when no certificate record matches.
var ErrCertificateNotFound = errors.New("certificate not found")

// CertificateRepository persists certificate lifecycle records in PostgreSQL.
type CertificateRepository struct {
	db *pgxpool.Pool
}

// NewCertificateRepository creates a new CertificateRepository.
func NewCertificateRepository(db *pgxpool.Pool) *CertificateRepository {
	return &CertificateRepository{db: db}
}

const certificateSelect = `
	SELECT c.id, c.delegation_id, c.owner_id, c.domain, c.target, c.status,
	       c.wildcard, c.include_www, c.issued_at, c.expires_at,
	       c.certificate_pem, c.private_key_pem, c.reminder_enabled,
	       d.owner_email, c.created_at, c.updated_at
	FROM certificates c
	JOIN delegations d ON d.id = c.delegation_id`

func scanCertificate(row pgx.Row) (*model.Certificate, error) {
	c := &model.Certificate{}
	err := row.Scan(&c.ID, &c.DelegationID, &c.OwnerID, &c.Domain, &c.Target, &c.Status,
		&c.Wildcard, &c.IncludeWWW, &c.IssuedAt, &c.ExpiresAt,
		&c.CertificatePEM, &c.PrivateKeyPEM, &c.ReminderEnabled,
		&c.OwnerEmail, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func collectCertificates(rows pgx.Rows) ([]*model.Certificate, error) {
	defer rows.Close()
	var out []*model.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Latest returns the most recent certificate row for (ownerID, domain).
func (r *CertificateRepository) Latest(ctx context.Context, ownerID, domain string) (*model.Certificate, error) {
	c, err := scanCertificate(r.db.QueryRow(ctx,
		certificateSelect+`
		WHERE c.owner_id = $1 AND c.domain = $2
		ORDER BY c.created_at DESC
		LIMIT 1`, ownerID, domain,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	return c, nil
}

// LatestIssued returns the newest row for (ownerID, domain) that still holds
// key material. A failed attempt never hides the certificate before it.
func (r *CertificateRepository) LatestIssued(ctx context.Context, ownerID, domain string) (*model.Certificate, error) {
	c, err := scanCertificate(r.db.QueryRow(ctx,
		certificateSelect+`
		WHERE c.owner_id = $1 AND c.domain = $2 AND c.certificate_pem <> ''
		ORDER BY c.created_at DESC
		LIMIT 1`, ownerID, domain,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("get issued certificate: %w", err)
	}
	return c, nil
}

// Create inserts a new ACTION_REQUIRED row for the delegation of c. Earlier
// rows are left untouched as history.
func (r *CertificateRepository) Create(ctx context.Context, c *model.Certificate) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = model.StatusActionRequired
	c.IssuedAt, c.ExpiresAt = nil, nil
	c.CertificatePEM, c.PrivateKeyPEM = "", ""

	err := r.db.QueryRow(ctx,
		`INSERT INTO certificates (id, delegation_id, owner_id, domain, target, status,
		                           wildcard, include_www, reminder_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, clock_timestamp(), clock_timestamp())
		 RETURNING created_at, updated_at`,
		c.ID, c.DelegationID, c.OwnerID, c.Domain, c.Target, c.Status,
		c.Wildcard, c.IncludeWWW, c.ReminderEnabled,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// ListByOwner returns the latest certificate row per domain for ownerID.
func (r *CertificateRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.Certificate, error) {
	rows, err := r.db.Query(ctx,
		certificateSelect+`
		WHERE c.owner_id = $1
		  AND c.created_at = (
		      SELECT max(created_at) FROM certificates
		      WHERE delegation_id = c.delegation_id)
		ORDER BY c.domain`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	return collectCertificates(rows)
}

// ListIssuedExpiringBefore returns ISSUED rows whose expiry is before cutoff.
// Rows superseded by a newer ISSUED row of the same delegation are skipped.
// When remindersOnly is set, rows with reminders disabled or already expired
// at now are skipped.
func (r *CertificateRepository) ListIssuedExpiringBefore(ctx context.Context, cutoff time.Time, remindersOnly bool, now time.Time) ([]*model.Certificate, error) {
	rows, err := r.db.Query(ctx,
		certificateSelect+`
		WHERE c.status = $1
		  AND c.expires_at IS NOT NULL
		  AND c.expires_at < $2
		  AND (NOT $3 OR (c.reminder_enabled AND c.expires_at > $4))
		  AND NOT EXISTS (
		      SELECT 1 FROM certificates n
		      WHERE n.delegation_id = c.delegation_id
		        AND n.status = $1
		        AND n.created_at > c.created_at)
		ORDER BY c.expires_at`,
		model.StatusIssued, cutoff, remindersOnly, now)
	if err != nil {
		return nil, fmt.Errorf("list expiring certificates: %w", err)
	}
	return collectCertificates(rows)
}

// UpdateStatus sets the stored status of a certificate row. Moving to
// ACTION_REQUIRED or FAILED clears the validity window and key material so a
// failed attempt never leaves partial material behind.
func (r *CertificateRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE certificates SET
		    status = $2,
		    issued_at       = CASE WHEN $2 IN ('ISSUED', 'EXPIRED', 'REVOKED') THEN issued_at END,
		    expires_at      = CASE WHEN $2 IN ('ISSUED', 'EXPIRED', 'REVOKED') THEN expires_at END,
		    certificate_pem = CASE WHEN $2 IN ('ISSUED', 'EXPIRED', 'REVOKED') THEN certificate_pem ELSE '' END,
		    private_key_pem = CASE WHEN $2 IN ('ISSUED', 'EXPIRED', 'REVOKED') THEN private_key_pem ELSE '' END,
		    updated_at = now()
		 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update certificate status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCertificateNotFound
	}
	return nil
}

// MarkIssued stores the sealed material and validity window and sets ISSUED.
func (r *CertificateRepository) MarkIssued(ctx context.Context, c *model.Certificate) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE certificates SET
		    status = $2, wildcard = $3, include_www = $4,
		    issued_at = $5, expires_at = $6,
		    certificate_pem = $7, private_key_pem = $8,
		    updated_at = now()
		 WHERE id = $1`,
		c.ID, model.StatusIssued, c.Wildcard, c.IncludeWWW,
		c.IssuedAt, c.ExpiresAt, c.CertificatePEM, c.PrivateKeyPEM)
	if err != nil {
		return fmt.Errorf("mark certificate issued: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCertificateNotFound
	}
	return nil
}

// SetReminder toggles expiry reminders on every row for (ownerID, domain), so
// the preference follows the domain across attempts.
func (r *CertificateRepository) SetReminder(ctx context.Context, ownerID, domain string, enabled bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE certificates SET reminder_enabled = $3, updated_at = now()
		 WHERE owner_id = $1 AND domain = $2`,
		ownerID, domain, enabled)
	if err != nil {
		return fmt.Errorf("set reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCertificateNotFound
	}
	return nil
}
