package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
)

// ContentRepo implements content.TemplateStore and content.DraftStore
// against PostgreSQL.
type ContentRepo struct{ db *sql.DB }

// NewContentRepo creates a Postgres-backed content repository.
func NewContentRepo(db *sql.DB) *ContentRepo { return &ContentRepo{db: db} }

func (r *ContentRepo) GetTemplate(ctx context.Context, tenantID, templateID string) (*domain.Template, error) {
	t := &domain.Template{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, subject, html_body
		FROM email_templates
		WHERE id = $1 AND tenant_id = $2
	`, templateID, tenantID).Scan(&t.ID, &t.TenantID, &t.Subject, &t.HTMLBody)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// FindDraft returns the newest unsent pre-authored message for the
// tenant/lead/campaign triple. Drafts carry the synthetic provider-id
// prefix until dispatch replaces it.
func (r *ContentRepo) FindDraft(ctx context.Context, tenantID, leadID, campaignID string) (*domain.OutboundMessage, error) {
	m := &domain.OutboundMessage{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, conversation_id, provider_message_id,
		       COALESCE(reply_token, ''), from_email, to_email, subject, html_body, created_at
		FROM conversation_messages
		WHERE tenant_id = $1 AND lead_id = $2 AND campaign_id = $3
		  AND provider_message_id LIKE $4 AND sent_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, leadID, campaignID, domain.DraftProviderIDPrefix+"%").Scan(
		&m.ID, &m.TenantID, &m.ConversationID, &m.ProviderMessageID,
		&m.ReplyToken, &m.FromEmail, &m.ToEmail, &m.Subject, &m.HTMLBody, &m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("find draft: %w", err)
	}
	return m, nil
}

func (r *ContentRepo) ConversationThreadToken(ctx context.Context, tenantID, conversationID string) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx, `
		SELECT thread_token FROM conversations WHERE id = $1 AND tenant_id = $2
	`, conversationID, tenantID).Scan(&token)
	if err != nil {
		return "", fmt.Errorf("thread token: %w", err)
	}
	return token, nil
}

// BackfillDraftReplyToken writes the token only onto a tokenless draft, so
// re-resolving the same draft never rewrites it.
func (r *ContentRepo) BackfillDraftReplyToken(ctx context.Context, draftID, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_messages
		SET reply_token = $2
		WHERE id = $1 AND (reply_token IS NULL OR reply_token = '')
	`, draftID, token)
	if err != nil {
		return fmt.Errorf("backfill reply token: %w", err)
	}
	return nil
}
