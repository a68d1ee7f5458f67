package domain

import (
	"time"
)

// Conversation groups all messages exchanged under one reply token. It is
// unique per (tenant, thread token); participants only ever grow and the
// subject is set by the first writer.
type Conversation struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	ThreadToken    string    `json:"thread_token" db:"thread_token"`
	Subject        string    `json:"subject" db:"subject"`
	Participants   []string  `json:"participants" db:"participants"`
	LastActivityAt time.Time `json:"last_activity_at" db:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// DraftProviderIDPrefix tags pre-authored outbound messages that have not
// been handed to the transport yet. The resolver finds drafts by this
// prefix; the real provider message id replaces it at dispatch time.
const DraftProviderIDPrefix = "draft-"

// OutboundMessage is the persisted record of one send (or pre-authored
// draft): provider correlation id, minted reply token, and linkage back to
// conversation/lead/campaign for inbound reply matching.
type OutboundMessage struct {
	ID                string            `json:"id" db:"id"`
	TenantID          string            `json:"tenant_id" db:"tenant_id"`
	ConversationID    string            `json:"conversation_id" db:"conversation_id"`
	CampaignID        *string           `json:"campaign_id" db:"campaign_id"`
	LeadID            *string           `json:"lead_id" db:"lead_id"`
	ProviderMessageID string            `json:"provider_message_id" db:"provider_message_id"`
	ReplyToken        string            `json:"reply_token" db:"reply_token"`
	FromEmail         string            `json:"from_email" db:"from_email"`
	ToEmail           string            `json:"to_email" db:"to_email"`
	Subject           string            `json:"subject" db:"subject"`
	HTMLBody          string            `json:"html_body" db:"html_body"`
	Headers           map[string]string `json:"headers" db:"headers"`
	SentAt            *time.Time        `json:"sent_at" db:"sent_at"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
}

// IsDraft reports whether the message is still awaiting dispatch.
func (m *OutboundMessage) IsDraft() bool {
	return len(m.ProviderMessageID) >= len(DraftProviderIDPrefix) &&
		m.ProviderMessageID[:len(DraftProviderIDPrefix)] == DraftProviderIDPrefix
}

// EventType enumerates lifecycle events recorded against a message.
type EventType string

const (
	EventSend EventType = "send"
)

// MessageEvent is one lifecycle event (currently only "send"; opens,
// clicks and replies are recorded by the inbound/webhook system).
type MessageEvent struct {
	ID         string    `json:"id" db:"id"`
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	MessageID  string    `json:"message_id" db:"message_id"`
	Type       EventType `json:"type" db:"type"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}
