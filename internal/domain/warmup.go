package domain

import (
	"time"
)

// WarmupMode controls whether a profile is scheduled automatically.
type WarmupMode string

const (
	WarmupOff        WarmupMode = "off"
	WarmupManualOnly WarmupMode = "manual_only"
	WarmupAuto       WarmupMode = "auto"
)

// WarmupStatus enumerates profile states.
type WarmupStatus string

const (
	WarmupActive WarmupStatus = "active"
	WarmupPaused WarmupStatus = "paused"
)

// WarmupProfile tracks the ramp-up of one sending identity. CurrentDailyMax
// only ever grows and never exceeds TargetDailyMax; LastEscalatedAt gates
// escalation to once per UTC calendar day.
type WarmupProfile struct {
	ID              string       `json:"id" db:"id"`
	TenantID        string       `json:"tenant_id" db:"tenant_id"`
	SenderEmail     string       `json:"sender_email" db:"sender_email"`
	Mode            WarmupMode   `json:"mode" db:"mode"`
	Status          WarmupStatus `json:"status" db:"status"`
	TargetDailyMax  int          `json:"target_daily_max" db:"target_daily_max"`
	CurrentDailyMax int          `json:"current_daily_max" db:"current_daily_max"`
	LastEscalatedAt *time.Time   `json:"last_escalated_at" db:"last_escalated_at"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// EscalatedToday reports whether the profile's cap was already raised
// during the UTC day containing now.
func (p *WarmupProfile) EscalatedToday(now time.Time) bool {
	if p.LastEscalatedAt == nil {
		return false
	}
	y1, m1, d1 := p.LastEscalatedAt.UTC().Date()
	y2, m2, d2 := now.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// NextDailyMax returns the escalated cap: at least +10% (rounded up), at
// least +1, saturating at the target.
func (p *WarmupProfile) NextDailyMax() int {
	next := (p.CurrentDailyMax*11 + 9) / 10 // ceil(current * 1.1)
	if next < p.CurrentDailyMax+1 {
		next = p.CurrentDailyMax + 1
	}
	if next > p.TargetDailyMax {
		next = p.TargetDailyMax
	}
	// A target lowered below the current cap never walks the cap back.
	if next < p.CurrentDailyMax {
		next = p.CurrentDailyMax
	}
	return next
}

// WarmupThread groups the warmup messages exchanged under one send token.
type WarmupThread struct {
	ID        string    `json:"id" db:"id"`
	ProfileID string    `json:"profile_id" db:"profile_id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	SendToken string    `json:"send_token" db:"send_token"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// WarmupFailedSentinel marks a warmup message whose dispatch failed. It is
// written into the provider-id field so the DRAFT selection filter
// (provider id null) never picks the message up again; warmup sends are
// deliberately not retried.
const WarmupFailedSentinel = "send-failed"

// WarmupMessage is one warmup email. A message is a draft until dispatched
// (ProviderMessageID and SentAt both nil), then sent.
type WarmupMessage struct {
	ID                string     `json:"id" db:"id"`
	ThreadID          string     `json:"thread_id" db:"thread_id"`
	ProfileID         string     `json:"profile_id" db:"profile_id"`
	TenantID          string     `json:"tenant_id" db:"tenant_id"`
	FromEmail         string     `json:"from_email" db:"from_email"`
	ToEmail           string     `json:"to_email" db:"to_email"`
	Subject           string     `json:"subject" db:"subject"`
	HTMLBody          string     `json:"html_body" db:"html_body"`
	ReplyTo           string     `json:"reply_to" db:"reply_to"`
	ProviderMessageID *string    `json:"provider_message_id" db:"provider_message_id"`
	SentAt            *time.Time `json:"sent_at" db:"sent_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// WarmupInbox is a receiving mailbox participating in warmup. DailyCap
// bounds how many warmup messages it may receive per UTC day.
type WarmupInbox struct {
	ID             string `json:"id" db:"id"`
	Email          string `json:"email" db:"email"`
	Active         bool   `json:"active" db:"active"`
	AutoEngage     bool   `json:"auto_engage" db:"auto_engage"`
	DailyCap       int    `json:"daily_cap" db:"daily_cap"`
	ReceivedToday  int    `json:"received_today" db:"received_today"` // populated by queries
}

// DailyStat is the per-(profile, UTC date) counter row. Counters live in
// the store, not process memory, so multiple scheduler instances stay
// consistent.
type DailyStat struct {
	ProfileID string    `json:"profile_id" db:"profile_id"`
	Date      time.Time `json:"date" db:"date"` // UTC midnight
	Planned   int       `json:"planned" db:"planned"`
	Sent      int       `json:"sent" db:"sent"`
	Received  int       `json:"received" db:"received"`
}
