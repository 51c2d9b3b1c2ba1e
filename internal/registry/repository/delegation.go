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

// ErrDelegationNotFound is returned when no delegation exists for an owner and domain.
var ErrDelegationNotFound = errors.New("delegation not found")

// DelegationRepository persists delegations in PostgreSQL.
type DelegationRepository struct {
	db *pgxpool.Pool
}

// NewDelegationRepository creates a new DelegationRepository.
func NewDelegationRepository(db *pgxpool.Pool) *DelegationRepository {
	return &DelegationRepository{db: db}
}

const delegationColumns = `id, owner_id, owner_email, domain, target, provider,
	subdomain, username, password, created_at`

func scanDelegation(row pgx.Row) (*model.Delegation, error) {
	d := &model.Delegation{}
	err := row.Scan(&d.ID, &d.OwnerID, &d.Email, &d.Domain, &d.Target, &d.Provider,
		&d.Subdomain, &d.Username, &d.Password, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// FindByOwnerAndDomain returns the delegation for (ownerID, domain).
func (r *DelegationRepository) FindByOwnerAndDomain(ctx context.Context, ownerID, domain string) (*model.Delegation, error) {
	d, err := scanDelegation(r.db.QueryRow(ctx,
		`SELECT `+delegationColumns+` FROM delegations WHERE owner_id = $1 AND domain = $2`,
		ownerID, domain,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDelegationNotFound
		}
		return nil, fmt.Errorf("find delegation: %w", err)
	}
	return d, nil
}

// CreateIfAbsent inserts d together with its initial ACTION_REQUIRED
// certificate row. When a delegation for (owner, domain) already exists the
// insert is skipped and the existing row is returned with created=false.
func (r *DelegationRepository) CreateIfAbsent(ctx context.Context, d *model.Delegation) (*model.Delegation, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now().UTC()

	tag, err := tx.Exec(ctx,
		`INSERT INTO delegations (`+delegationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (owner_id, domain) DO NOTHING`,
		d.ID, d.OwnerID, d.Email, d.Domain, d.Target, d.Provider,
		d.Subdomain, d.Username, d.Password, d.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert delegation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := scanDelegation(tx.QueryRow(ctx,
			`SELECT `+delegationColumns+` FROM delegations WHERE owner_id = $1 AND domain = $2`,
			d.OwnerID, d.Domain,
		))
		if err != nil {
			return nil, false, fmt.Errorf("fetch existing delegation: %w", err)
		}
		return existing, false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO certificates (id, delegation_id, owner_id, domain, target, status,
		                           reminder_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, true, $7, $7)`,
		uuid.New(), d.ID, d.OwnerID, d.Domain, d.Target, model.StatusActionRequired, d.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert initial certificate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return d, true, nil
}

// Delete removes the delegation for (ownerID, domain). Certificate rows are
// removed by the foreign key cascade.
func (r *DelegationRepository) Delete(ctx context.Context, ownerID, domain string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM delegations WHERE owner_id = $1 AND domain = $2`, ownerID, domain,
	)
	if err != nil {
		return fmt.Errorf("delete delegation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDelegationNotFound
	}
	return nil
}
