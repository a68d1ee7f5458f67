package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/scheduler"
)

// JobRepo implements scheduler.CampaignStore against PostgreSQL.
type JobRepo struct{ db *sql.DB }

// NewJobRepo creates a Postgres-backed campaign job repository.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

func (r *JobRepo) DueJobs(ctx context.Context, now time.Time, limit int) ([]domain.CampaignJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, campaign_id, template_id, rate_per_hour, from_email,
		       status, next_process_at, total_recipients, progress, created_at, updated_at
		FROM campaign_jobs
		WHERE status IN ('queued', 'processing') AND next_process_at <= $1
		ORDER BY next_process_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignJob
	for rows.Next() {
		var j domain.CampaignJob
		if err := rows.Scan(
			&j.ID, &j.TenantID, &j.CampaignID, &j.TemplateID, &j.RatePerHour, &j.FromEmail,
			&j.Status, &j.NextProcessAt, &j.TotalRecipients, &j.Progress, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobRepo) MarkJobProcessing(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_jobs SET status = 'processing', updated_at = NOW() WHERE id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	return nil
}

func (r *JobRepo) QueuedRecipients(ctx context.Context, jobID string, limit int) ([]domain.JobRecipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, tenant_id, lead_id, email, COALESCE(fields, '{}'::jsonb),
		       status, attempts, COALESCE(last_error, ''), created_at, updated_at
		FROM job_recipients
		WHERE job_id = $1 AND status = 'queued'
		ORDER BY created_at ASC
		LIMIT $2
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch queued recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.JobRecipient
	for rows.Next() {
		var rec domain.JobRecipient
		var fields []byte
		if err := rows.Scan(
			&rec.ID, &rec.JobID, &rec.TenantID, &rec.LeadID, &rec.Email, &fields,
			&rec.Status, &rec.Attempts, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &rec.Fields); err != nil {
				return nil, fmt.Errorf("decode recipient fields: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *JobRepo) FailRecipient(ctx context.Context, recipientID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE job_recipients
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, recipientID, reason)
	if err != nil {
		return fmt.Errorf("fail recipient: %w", err)
	}
	return nil
}

func (r *JobRepo) RequeueRecipient(ctx context.Context, recipientID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE job_recipients
		SET status = 'queued', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, recipientID, reason)
	if err != nil {
		return fmt.Errorf("requeue recipient: %w", err)
	}
	return nil
}

// RecordSend commits one successful dispatch as a single transaction:
// conversation upsert, message row, optional send event, and the recipient's
// transition to sent. A failure rolls everything back and the recipient
// stays queued.
func (r *JobRepo) RecordSend(ctx context.Context, rec scheduler.SendRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record send: %w", err)
	}
	defer tx.Rollback()

	conv, err := upsertConversationTx(ctx, tx, rec.Conversation)
	if err != nil {
		return err
	}

	messageID := rec.Message.ID
	if rec.DraftID != "" {
		// Draft mode: the message row already exists, written at authoring
		// time with the synthetic draft provider id. Stamp the real one.
		messageID = rec.DraftID
		_, err = tx.ExecContext(ctx, `
			UPDATE conversation_messages
			SET provider_message_id = $2, reply_token = $3, sent_at = $4
			WHERE id = $1
		`, rec.DraftID, rec.Message.ProviderMessageID, rec.Message.ReplyToken, rec.Message.SentAt)
		if err != nil {
			return fmt.Errorf("promote draft message: %w", err)
		}
	} else {
		headers, hErr := json.Marshal(rec.Message.Headers)
		if hErr != nil {
			return fmt.Errorf("encode message headers: %w", hErr)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_messages
				(id, tenant_id, conversation_id, campaign_id, lead_id, provider_message_id,
				 reply_token, from_email, to_email, subject, html_body, headers, sent_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		`, rec.Message.ID, rec.Message.TenantID, conv.ID, rec.Message.CampaignID, rec.Message.LeadID,
			rec.Message.ProviderMessageID, rec.Message.ReplyToken, rec.Message.FromEmail,
			rec.Message.ToEmail, rec.Message.Subject, rec.Message.HTMLBody, headers, rec.Message.SentAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if rec.EmitEvent {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_events (id, tenant_id, message_id, type, occurred_at)
			VALUES (gen_random_uuid(), $1, $2, $3, $4)
		`, rec.Message.TenantID, messageID, domain.EventSend, rec.Message.SentAt)
		if err != nil {
			return fmt.Errorf("insert send event: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE job_recipients
		SET status = 'sent', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
	`, rec.RecipientID)
	if err != nil {
		return fmt.Errorf("mark recipient sent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record send: %w", err)
	}
	return nil
}

func (r *JobRepo) QueuedCount(ctx context.Context, jobID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM job_recipients WHERE job_id = $1 AND status = 'queued'
	`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queued recipients: %w", err)
	}
	return n, nil
}

func (r *JobRepo) CompleteJob(ctx context.Context, jobID string, progress int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_jobs
		SET status = 'completed', progress = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $1
	`, jobID, progress, at)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (r *JobRepo) RescheduleJob(ctx context.Context, jobID string, next time.Time, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_jobs
		SET status = 'queued', next_process_at = $2, progress = $3, updated_at = NOW()
		WHERE id = $1
	`, jobID, next, progress)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return nil
}
