package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
)

var (
	// ErrNoTemplate means the job references a template that doesn't exist.
	ErrNoTemplate = errors.New("template not found")
	// ErrNoDraft means no pre-authored draft exists for this tenant/lead/campaign.
	ErrNoDraft = errors.New("draft message not found")
	// ErrRender wraps template parse/render failures.
	ErrRender = errors.New("template render failed")
)

// TemplateStore loads job templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, tenantID, templateID string) (*domain.Template, error)
}

// DraftStore finds pre-authored outbound messages (tagged with the
// synthetic draft provider-id prefix) and backfills their reply token.
type DraftStore interface {
	// FindDraft returns the draft outbound message for this tenant/lead/campaign,
	// or an error wrapping sql.ErrNoRows-equivalent absence.
	FindDraft(ctx context.Context, tenantID, leadID, campaignID string) (*domain.OutboundMessage, error)

	// ConversationThreadToken returns the thread token of the draft's conversation.
	ConversationThreadToken(ctx context.Context, tenantID, conversationID string) (string, error)

	// BackfillDraftReplyToken writes the token onto the draft only if the
	// draft has none yet. Calling it again with the same token is a no-op.
	BackfillDraftReplyToken(ctx context.Context, draftID, token string) error
}

// Resolved is the outcome of content resolution for one recipient.
type Resolved struct {
	Subject    string
	HTMLBody   string
	ReplyToken string // empty in template mode; the caller mints a fresh token
	DraftID    string // set in draft mode; the dispatched message updates this row
}

// Resolver produces send content for a job recipient. Template mode and
// draft mode are mutually exclusive, selected by whether the job carries a
// template id.
type Resolver struct {
	templates TemplateStore
	drafts    DraftStore
	renderer  *TemplateService
}

// NewResolver creates a resolver.
func NewResolver(templates TemplateStore, drafts DraftStore, renderer *TemplateService) *Resolver {
	return &Resolver{templates: templates, drafts: drafts, renderer: renderer}
}

// Resolve returns the content for one recipient of the given job. Any
// returned error is a validation failure: the recipient is terminally
// failed and never retried.
func (r *Resolver) Resolve(ctx context.Context, job *domain.CampaignJob, recipient *domain.JobRecipient) (*Resolved, error) {
	if job.UsesTemplate() {
		return r.resolveTemplate(ctx, job, recipient)
	}
	return r.resolveDraft(ctx, job, recipient)
}

func (r *Resolver) resolveTemplate(ctx context.Context, job *domain.CampaignJob, recipient *domain.JobRecipient) (*Resolved, error) {
	tpl, err := r.templates.GetTemplate(ctx, job.TenantID, *job.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("%w: template %s: %v", ErrNoTemplate, *job.TemplateID, err)
	}

	subject, err := r.renderer.Render(tpl.Subject, recipient.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: subject: %v", ErrRender, err)
	}
	body, err := r.renderer.Render(tpl.HTMLBody, recipient.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrRender, err)
	}

	return &Resolved{Subject: subject, HTMLBody: body}, nil
}

// resolveDraft looks up the pre-rendered outbound message authored for this
// tenant/lead/campaign out of band. The reply token comes from the draft if
// already set; otherwise it is the draft conversation's thread token,
// written back to the draft. The derivation is deterministic, so resolving
// the same draft twice always yields the same token.
func (r *Resolver) resolveDraft(ctx context.Context, job *domain.CampaignJob, recipient *domain.JobRecipient) (*Resolved, error) {
	draft, err := r.drafts.FindDraft(ctx, job.TenantID, recipient.LeadID, job.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("%w: lead %s campaign %s: %v", ErrNoDraft, recipient.LeadID, job.CampaignID, err)
	}

	token := draft.ReplyToken
	if token == "" {
		token, err = r.drafts.ConversationThreadToken(ctx, job.TenantID, draft.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("%w: thread token for conversation %s: %v", ErrNoDraft, draft.ConversationID, err)
		}
		if err := r.drafts.BackfillDraftReplyToken(ctx, draft.ID, token); err != nil {
			return nil, fmt.Errorf("backfill reply token on draft %s: %w", draft.ID, err)
		}
	}

	return &Resolved{
		Subject:    draft.Subject,
		HTMLBody:   draft.HTMLBody,
		ReplyToken: token,
		DraftID:    draft.ID,
	}, nil
}
