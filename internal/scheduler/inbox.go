package scheduler

import (
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
)

// InboxSelector hands out warmup recipient inboxes for one scheduling
// pass. Auto-engage inboxes are preferred (their replies keep warmup
// conversations alive without human attention); within each group the
// store's ordering is preserved. Grants made during the pass count
// against each inbox's daily cap immediately, so a single tick can never
// oversubscribe an inbox regardless of how stale ReceivedToday is by the
// end of the pass.
type InboxSelector struct {
	inboxes []domain.WarmupInbox
	granted map[string]int
}

// NewInboxSelector builds a selector over the given inboxes. Inactive
// inboxes are dropped; the rest are partitioned auto-engage first.
func NewInboxSelector(inboxes []domain.WarmupInbox) *InboxSelector {
	ordered := make([]domain.WarmupInbox, 0, len(inboxes))
	for _, in := range inboxes {
		if in.Active && in.AutoEngage {
			ordered = append(ordered, in)
		}
	}
	for _, in := range inboxes {
		if in.Active && !in.AutoEngage {
			ordered = append(ordered, in)
		}
	}
	return &InboxSelector{
		inboxes: ordered,
		granted: make(map[string]int),
	}
}

// Next returns the first inbox still under its daily cap, or nil when
// every inbox is saturated. The returned inbox's in-pass count is
// incremented before returning.
func (s *InboxSelector) Next() *domain.WarmupInbox {
	for i := range s.inboxes {
		in := &s.inboxes[i]
		if in.ReceivedToday+s.granted[in.ID] < in.DailyCap {
			s.granted[in.ID]++
			return in
		}
	}
	return nil
}

// Granted returns how many messages the pass assigned to the inbox.
func (s *InboxSelector) Granted(inboxID string) int {
	return s.granted[inboxID]
}
