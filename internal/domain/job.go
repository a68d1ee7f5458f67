package domain

import (
	"time"
)

// JobStatus enumerates the lifecycle states of a bulk campaign job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobPaused     JobStatus = "paused"
	JobCompleted  JobStatus = "completed"
)

// CampaignJob is one tenant's bulk-send job. Jobs are created by the API
// layer; the batch scheduler owns status, nextProcessAt and the progress
// counters from then on.
type CampaignJob struct {
	ID            string    `json:"id" db:"id"`
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	CampaignID    string    `json:"campaign_id" db:"campaign_id"`
	TemplateID    *string   `json:"template_id" db:"template_id"` // nil => draft mode
	RatePerHour   int       `json:"rate_per_hour" db:"rate_per_hour"`
	FromEmail     string    `json:"from_email" db:"from_email"`
	Status        JobStatus `json:"status" db:"status"`
	NextProcessAt time.Time `json:"next_process_at" db:"next_process_at"`

	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	Progress        int `json:"progress" db:"progress"`

	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// UsesTemplate reports whether the job renders a template for each
// recipient. Jobs without a template consume pre-authored drafts instead;
// the two content sources are mutually exclusive.
func (j *CampaignJob) UsesTemplate() bool {
	return j.TemplateID != nil && *j.TemplateID != ""
}

// RecipientStatus enumerates the lifecycle of a single job recipient.
type RecipientStatus string

const (
	RecipientQueued RecipientStatus = "queued"
	RecipientSent   RecipientStatus = "sent"
	RecipientFailed RecipientStatus = "failed"
)

// JobRecipient links a campaign job to one lead. Attempts only ever grows;
// once it reaches the configured maximum the recipient is terminally failed.
type JobRecipient struct {
	ID        string          `json:"id" db:"id"`
	JobID     string          `json:"job_id" db:"job_id"`
	TenantID  string          `json:"tenant_id" db:"tenant_id"`
	LeadID    string          `json:"lead_id" db:"lead_id"`
	Email     string          `json:"email" db:"email"`
	Fields    map[string]any  `json:"fields" db:"fields"` // merge fields for template mode
	Status    RecipientStatus `json:"status" db:"status"`
	Attempts  int             `json:"attempts" db:"attempts"`
	LastError string          `json:"last_error" db:"last_error"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Template is the optional per-job content source. Subject and body carry
// merge placeholders resolved per recipient.
type Template struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Subject  string `json:"subject" db:"subject"`
	HTMLBody string `json:"html_body" db:"html_body"`
}
