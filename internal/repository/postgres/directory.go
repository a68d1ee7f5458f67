package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// DirectoryRepo implements scheduler.Directory against PostgreSQL. Reply
// subdomains and sender identities are owned by the provisioning system;
// this repository only reads their verified state.
type DirectoryRepo struct{ db *sql.DB }

// NewDirectoryRepo creates a Postgres-backed directory.
func NewDirectoryRepo(db *sql.DB) *DirectoryRepo { return &DirectoryRepo{db: db} }

func (r *DirectoryRepo) InboundSubdomain(ctx context.Context, tenantID string) (string, error) {
	var subdomain string
	err := r.db.QueryRowContext(ctx, `
		SELECT subdomain FROM tenant_reply_domains
		WHERE tenant_id = $1 AND verified
		ORDER BY created_at ASC
		LIMIT 1
	`, tenantID).Scan(&subdomain)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("tenant %s has no verified reply subdomain", tenantID)
	}
	if err != nil {
		return "", fmt.Errorf("lookup reply subdomain: %w", err)
	}
	return subdomain, nil
}

func (r *DirectoryRepo) IdentityVerified(ctx context.Context, senderEmail string) (bool, error) {
	var verified bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sender_identities WHERE email = $1 AND verified
		)
	`, senderEmail).Scan(&verified)
	if err != nil {
		return false, fmt.Errorf("lookup sender identity: %w", err)
	}
	return verified, nil
}
