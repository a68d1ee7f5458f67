package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
)

// WarmupRepo implements scheduler.WarmupStore against PostgreSQL. Daily
// counters live in warmup_daily_stats and warmup_inbox_stats keyed by UTC
// date, so every scheduler instance sees the same numbers.
type WarmupRepo struct{ db *sql.DB }

// NewWarmupRepo creates a Postgres-backed warmup repository.
func NewWarmupRepo(db *sql.DB) *WarmupRepo { return &WarmupRepo{db: db} }

func utcDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (r *WarmupRepo) SchedulableProfiles(ctx context.Context) ([]domain.WarmupProfile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, sender_email, mode, status,
		       target_daily_max, current_daily_max, last_escalated_at, created_at, updated_at
		FROM warmup_profiles
		WHERE status = 'active' AND mode IN ('auto', 'manual_only')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("fetch warmup profiles: %w", err)
	}
	defer rows.Close()

	var out []domain.WarmupProfile
	for rows.Next() {
		var p domain.WarmupProfile
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.SenderEmail, &p.Mode, &p.Status,
			&p.TargetDailyMax, &p.CurrentDailyMax, &p.LastEscalatedAt, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan warmup profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *WarmupRepo) EscalateProfile(ctx context.Context, profileID string, newMax int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE warmup_profiles
		SET current_daily_max = $2, last_escalated_at = $3, updated_at = NOW()
		WHERE id = $1
	`, profileID, newMax, at)
	if err != nil {
		return fmt.Errorf("escalate warmup profile: %w", err)
	}
	return nil
}

func (r *WarmupRepo) DraftsCreatedToday(ctx context.Context, profileID string, day time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(planned, 0) FROM warmup_daily_stats
		WHERE profile_id = $1 AND date = $2
	`, profileID, utcDate(day)).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count warmup drafts: %w", err)
	}
	return n, nil
}

func (r *WarmupRepo) ActiveInboxes(ctx context.Context, day time.Time) ([]domain.WarmupInbox, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT i.id, i.email, i.active, i.auto_engage, i.daily_cap, COALESCE(s.received, 0)
		FROM warmup_inboxes i
		LEFT JOIN warmup_inbox_stats s ON s.inbox_id = i.id AND s.date = $1
		WHERE i.active
		ORDER BY i.auto_engage DESC, i.id
	`, utcDate(day))
	if err != nil {
		return nil, fmt.Errorf("fetch warmup inboxes: %w", err)
	}
	defer rows.Close()

	var out []domain.WarmupInbox
	for rows.Next() {
		var in domain.WarmupInbox
		if err := rows.Scan(&in.ID, &in.Email, &in.Active, &in.AutoEngage, &in.DailyCap, &in.ReceivedToday); err != nil {
			return nil, fmt.Errorf("scan warmup inbox: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// CreateDraft persists the thread, message, and both daily counters in one
// transaction so a crash can never leave a counted-but-missing draft.
func (r *WarmupRepo) CreateDraft(ctx context.Context, thread domain.WarmupThread, msg domain.WarmupMessage, inboxID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create draft: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO warmup_threads (id, profile_id, tenant_id, send_token, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, thread.ID, thread.ProfileID, thread.TenantID, thread.SendToken, thread.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert warmup thread: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO warmup_messages
			(id, thread_id, profile_id, tenant_id, from_email, to_email, subject, html_body, reply_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, msg.ID, msg.ThreadID, msg.ProfileID, msg.TenantID, msg.FromEmail, msg.ToEmail,
		msg.Subject, msg.HTMLBody, msg.ReplyTo, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert warmup message: %w", err)
	}

	day := utcDate(msg.CreatedAt)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO warmup_daily_stats (profile_id, date, planned, sent, received)
		VALUES ($1, $2, 1, 0, 0)
		ON CONFLICT (profile_id, date) DO UPDATE SET planned = warmup_daily_stats.planned + 1
	`, msg.ProfileID, day)
	if err != nil {
		return fmt.Errorf("bump planned counter: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO warmup_inbox_stats (inbox_id, date, received)
		VALUES ($1, $2, 1)
		ON CONFLICT (inbox_id, date) DO UPDATE SET received = warmup_inbox_stats.received + 1
	`, inboxID, day)
	if err != nil {
		return fmt.Errorf("bump inbox counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create draft: %w", err)
	}
	return nil
}

func (r *WarmupRepo) DraftMessages(ctx context.Context, limit int) ([]domain.WarmupMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, thread_id, profile_id, tenant_id, from_email, to_email,
		       subject, html_body, reply_to, created_at
		FROM warmup_messages
		WHERE provider_message_id IS NULL AND sent_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch warmup drafts: %w", err)
	}
	defer rows.Close()

	var out []domain.WarmupMessage
	for rows.Next() {
		var m domain.WarmupMessage
		if err := rows.Scan(
			&m.ID, &m.ThreadID, &m.ProfileID, &m.TenantID, &m.FromEmail, &m.ToEmail,
			&m.Subject, &m.HTMLBody, &m.ReplyTo, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan warmup draft: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkSent stamps the provider id and bumps the profile's sent counter
// atomically.
func (r *WarmupRepo) MarkSent(ctx context.Context, messageID, providerID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark sent: %w", err)
	}
	defer tx.Rollback()

	var profileID, tenantID string
	err = tx.QueryRowContext(ctx, `
		UPDATE warmup_messages
		SET provider_message_id = $2, sent_at = $3
		WHERE id = $1 AND provider_message_id IS NULL
		RETURNING profile_id, tenant_id
	`, messageID, providerID, at).Scan(&profileID, &tenantID)
	if err == sql.ErrNoRows {
		// Already stamped by a concurrent sender; nothing to count.
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark warmup sent: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_events (id, tenant_id, message_id, type, occurred_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
	`, tenantID, messageID, domain.EventSend, at)
	if err != nil {
		return fmt.Errorf("insert warmup send event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO warmup_daily_stats (profile_id, date, planned, sent, received)
		VALUES ($1, $2, 0, 1, 0)
		ON CONFLICT (profile_id, date) DO UPDATE SET sent = warmup_daily_stats.sent + 1
	`, profileID, utcDate(at))
	if err != nil {
		return fmt.Errorf("bump sent counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark sent: %w", err)
	}
	return nil
}

// MarkSendFailed writes the terminal failure sentinel. The non-null
// provider id removes the message from every future draft batch.
func (r *WarmupRepo) MarkSendFailed(ctx context.Context, messageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE warmup_messages
		SET provider_message_id = $2
		WHERE id = $1 AND provider_message_id IS NULL
	`, messageID, domain.WarmupFailedSentinel)
	if err != nil {
		return fmt.Errorf("mark warmup send failed: %w", err)
	}
	return nil
}
