package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/conversation"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
)

// mergeConversationSQL upserts a conversation without losing concurrent
// writes: the participant set is a union, the subject keeps its first
// non-empty value, and last activity only moves forward.
const mergeConversationSQL = `
	INSERT INTO conversations (id, tenant_id, thread_token, subject, participants, last_activity_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (tenant_id, thread_token) DO UPDATE
	SET subject = CASE WHEN conversations.subject IS NULL OR conversations.subject = ''
			THEN EXCLUDED.subject ELSE conversations.subject END,
	    participants = ARRAY(SELECT DISTINCT p FROM unnest(conversations.participants || EXCLUDED.participants) AS p),
	    last_activity_at = GREATEST(conversations.last_activity_at, EXCLUDED.last_activity_at)
`

// ConversationRepo implements conversation.Store against PostgreSQL.
type ConversationRepo struct{ db *sql.DB }

// NewConversationRepo creates a Postgres-backed conversation repository.
func NewConversationRepo(db *sql.DB) *ConversationRepo { return &ConversationRepo{db: db} }

func (r *ConversationRepo) GetByThreadToken(ctx context.Context, tenantID, token string) (*domain.Conversation, error) {
	c := &domain.Conversation{TenantID: tenantID, ThreadToken: token}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(subject, ''), participants, last_activity_at, created_at
		FROM conversations
		WHERE tenant_id = $1 AND thread_token = $2
	`, tenantID, token).Scan(&c.ID, &c.Subject, pq.Array(&c.Participants), &c.LastActivityAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) Save(ctx context.Context, c *domain.Conversation) error {
	_, err := r.db.ExecContext(ctx, mergeConversationSQL,
		c.ID, c.TenantID, c.ThreadToken, c.Subject, pq.Array(c.Participants), c.LastActivityAt)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// txConversationStore scopes conversation.Store to an open transaction. The
// read takes the row lock, so the reconciler's read-merge-write serializes
// against concurrent sends under the same thread token.
type txConversationStore struct{ tx *sql.Tx }

func (s *txConversationStore) GetByThreadToken(ctx context.Context, tenantID, token string) (*domain.Conversation, error) {
	c := &domain.Conversation{TenantID: tenantID, ThreadToken: token}
	err := s.tx.QueryRowContext(ctx, `
		SELECT id, COALESCE(subject, ''), participants, last_activity_at, created_at
		FROM conversations
		WHERE tenant_id = $1 AND thread_token = $2
		FOR UPDATE
	`, tenantID, token).Scan(&c.ID, &c.Subject, pq.Array(&c.Participants), &c.LastActivityAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w", err)
	}
	return c, nil
}

func (s *txConversationStore) Save(ctx context.Context, c *domain.Conversation) error {
	_, err := s.tx.ExecContext(ctx, mergeConversationSQL,
		c.ID, c.TenantID, c.ThreadToken, c.Subject, pq.Array(c.Participants), c.LastActivityAt)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// upsertConversationTx reconciles the conversation for an upsert inside an
// open transaction and returns the merged row.
func upsertConversationTx(ctx context.Context, tx *sql.Tx, up conversation.Upsert) (*domain.Conversation, error) {
	return conversation.NewReconciler(&txConversationStore{tx: tx}).Reconcile(ctx, up)
}
