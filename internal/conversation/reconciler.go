// Package conversation reconciles per-tenant conversations keyed by an
// opaque thread token. A token maps to exactly one conversation; repeated
// upserts only ever grow the participant set and never rewrite a subject
// that is already set.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
)

// ErrNotFound is returned by stores when no conversation exists for a
// (tenant, thread token) pair.
var ErrNotFound = errors.New("conversation not found")

// Upsert is one reconciliation input: the participants and subject a send
// (or reply) contributes under a thread token.
type Upsert struct {
	TenantID     string
	ThreadToken  string
	Subject      string
	Participants []string
	At           time.Time
}

// Apply merges an upsert into an existing conversation, or creates one when
// existing is nil. The merge is order-independent: participants are a
// deduplicated union, the subject keeps its first non-empty value, and the
// last-activity timestamp moves forward.
func Apply(existing *domain.Conversation, up Upsert) *domain.Conversation {
	if existing == nil {
		return &domain.Conversation{
			ID:             uuid.New().String(),
			TenantID:       up.TenantID,
			ThreadToken:    up.ThreadToken,
			Subject:        up.Subject,
			Participants:   dedup(up.Participants),
			LastActivityAt: up.At,
			CreatedAt:      up.At,
		}
	}

	merged := *existing
	merged.Participants = dedup(append(append([]string{}, existing.Participants...), up.Participants...))
	if merged.Subject == "" {
		merged.Subject = up.Subject
	}
	if up.At.After(merged.LastActivityAt) {
		merged.LastActivityAt = up.At
	}
	return &merged
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Store is the persistence contract for conversations.
type Store interface {
	// GetByThreadToken returns the conversation for (tenant, token), or ErrNotFound.
	GetByThreadToken(ctx context.Context, tenantID, token string) (*domain.Conversation, error)
	// Save upserts the conversation by its (tenant, thread token) logical key.
	Save(ctx context.Context, c *domain.Conversation) error
}

// Reconciler upserts conversations through a Store.
type Reconciler struct {
	store Store
}

// NewReconciler creates a reconciler.
func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile loads, merges and saves the conversation for the upsert's
// thread token, returning the merged result.
func (r *Reconciler) Reconcile(ctx context.Context, up Upsert) (*domain.Conversation, error) {
	existing, err := r.store.GetByThreadToken(ctx, up.TenantID, up.ThreadToken)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	merged := Apply(existing, up)
	if err := r.store.Save(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
