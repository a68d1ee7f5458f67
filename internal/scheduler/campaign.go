// Package scheduler contains the tick-driven engines that drain campaign
// jobs at a bounded rate and ramp warmup sending identities. Each tick is
// self-contained: re-invoking a scheduler when nothing is due performs no
// state changes.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/content"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/conversation"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/dispatch"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/pkg/idempotency"
)

const (
	// DefaultWindowsPerHour slices each hour into six 10-minute throttle windows.
	DefaultWindowsPerHour = 6

	// DefaultMaxAttempts bounds per-recipient retries for transport failures.
	DefaultMaxAttempts = 3

	// DefaultMaxJobsPerTick caps how many due jobs one tick drains.
	DefaultMaxJobsPerTick = 50

	// DefaultTickInterval is how often the campaign scheduler ticks.
	DefaultTickInterval = time.Minute
)

// SendRecord is the atomic unit persisted after a successful dispatch:
// recipient transition, conversation upsert, outbound message record and
// the send lifecycle event all commit or roll back together.
type SendRecord struct {
	RecipientID  string
	JobID        string
	Conversation conversation.Upsert
	Message      domain.OutboundMessage
	DraftID      string // non-empty in draft mode: update that row instead of inserting
	EmitEvent    bool
}

// CampaignStore is the persistence contract for the campaign batch
// scheduler. Implementations must be safe for concurrent use; RecordSend
// must be atomic.
type CampaignStore interface {
	// DueJobs returns jobs with status queued/processing whose
	// next-process time has arrived, oldest first.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]domain.CampaignJob, error)

	// MarkJobProcessing transitions the job to processing.
	MarkJobProcessing(ctx context.Context, jobID string) error

	// QueuedRecipients returns up to limit queued recipients, oldest first.
	QueuedRecipients(ctx context.Context, jobID string, limit int) ([]domain.JobRecipient, error)

	// FailRecipient terminally fails a recipient and increments attempts.
	FailRecipient(ctx context.Context, recipientID, reason string) error

	// RequeueRecipient returns a recipient to queued for the next window
	// and increments attempts.
	RequeueRecipient(ctx context.Context, recipientID, reason string) error

	// RecordSend atomically persists one successful dispatch.
	RecordSend(ctx context.Context, rec SendRecord) error

	// QueuedCount returns how many recipients remain queued for the job.
	QueuedCount(ctx context.Context, jobID string) (int, error)

	// CompleteJob marks the job completed.
	CompleteJob(ctx context.Context, jobID string, progress int, at time.Time) error

	// RescheduleJob re-queues the job for its next window.
	RescheduleJob(ctx context.Context, jobID string, next time.Time, progress int) error
}

// Directory resolves tenant/identity state owned by the surrounding system.
type Directory interface {
	// InboundSubdomain returns the tenant's verified inbound-reply
	// subdomain, or an error if none is verified.
	InboundSubdomain(ctx context.Context, tenantID string) (string, error)

	// IdentityVerified reports whether a sending identity is verified.
	IdentityVerified(ctx context.Context, senderEmail string) (bool, error)
}

// ContentResolver produces subject/body/reply-token for a recipient.
type ContentResolver interface {
	Resolve(ctx context.Context, job *domain.CampaignJob, recipient *domain.JobRecipient) (*content.Resolved, error)
}

// Sender dispatches one email and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, req dispatch.Request) (string, error)
}

// CampaignScheduler drains due campaign jobs window by window. Jobs are
// processed sequentially so one tenant's failure cannot abort its
// siblings; recipients inside a window fan out with bounded concurrency,
// never exceeding the window quota because the batch is pre-fetched.
type CampaignScheduler struct {
	store    CampaignStore
	resolver ContentResolver
	sender   Sender
	dir      Directory
	events   idempotency.Store

	windowsPerHour  int
	maxAttempts     int
	maxJobsPerTick  int
	sendConcurrency int
	tickInterval    time.Duration

	// Stats
	jobsProcessed int64
	sent          int64
	failed        int64
	requeued      int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// CampaignOption tunes the scheduler.
type CampaignOption func(*CampaignScheduler)

// WithWindowsPerHour overrides the throttle window count.
func WithWindowsPerHour(n int) CampaignOption {
	return func(s *CampaignScheduler) {
		if n > 0 {
			s.windowsPerHour = n
		}
	}
}

// WithMaxAttempts overrides the retry bound.
func WithMaxAttempts(n int) CampaignOption {
	return func(s *CampaignScheduler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithMaxJobsPerTick overrides the per-tick job cap.
func WithMaxJobsPerTick(n int) CampaignOption {
	return func(s *CampaignScheduler) {
		if n > 0 {
			s.maxJobsPerTick = n
		}
	}
}

// WithSendConcurrency bounds recipient fan-out inside one window.
func WithSendConcurrency(n int) CampaignOption {
	return func(s *CampaignScheduler) {
		if n > 0 {
			s.sendConcurrency = n
		}
	}
}

// WithTickInterval overrides the poll interval.
func WithTickInterval(d time.Duration) CampaignOption {
	return func(s *CampaignScheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// NewCampaignScheduler creates a campaign batch scheduler.
func NewCampaignScheduler(store CampaignStore, resolver ContentResolver, sender Sender, dir Directory, events idempotency.Store, opts ...CampaignOption) *CampaignScheduler {
	s := &CampaignScheduler{
		store:           store,
		resolver:        resolver,
		sender:          sender,
		dir:             dir,
		events:          events,
		windowsPerHour:  DefaultWindowsPerHour,
		maxAttempts:     DefaultMaxAttempts,
		maxJobsPerTick:  DefaultMaxJobsPerTick,
		sendConcurrency: 4,
		tickInterval:    DefaultTickInterval,
	}
	if s.events == nil {
		s.events = idempotency.Noop{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the throttle window length.
func (s *CampaignScheduler) Window() time.Duration {
	return time.Hour / time.Duration(s.windowsPerHour)
}

// WindowQuota returns how many recipients one window may dispatch for the
// given hourly rate: max(1, ceil(rate / windowsPerHour)).
func (s *CampaignScheduler) WindowQuota(ratePerHour int) int {
	quota := (ratePerHour + s.windowsPerHour - 1) / s.windowsPerHour
	if quota < 1 {
		quota = 1
	}
	return quota
}

// Start begins the polling loop.
func (s *CampaignScheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("campaign scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[CampaignScheduler] Starting (interval: %v, windows/hour: %d, max attempts: %d)",
		s.tickInterval, s.windowsPerHour, s.maxAttempts)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.Tick(s.ctx)
			}
		}
	}()
	return nil
}

// Stop halts the loop and waits for the in-flight tick.
func (s *CampaignScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Printf("[CampaignScheduler] Stopped. Jobs: %d, sent: %d, failed: %d, requeued: %d",
		atomic.LoadInt64(&s.jobsProcessed), atomic.LoadInt64(&s.sent),
		atomic.LoadInt64(&s.failed), atomic.LoadInt64(&s.requeued))
}

// Stats returns a snapshot of the scheduler's counters.
func (s *CampaignScheduler) Stats() map[string]int64 {
	return map[string]int64{
		"jobs_processed": atomic.LoadInt64(&s.jobsProcessed),
		"sent":           atomic.LoadInt64(&s.sent),
		"failed":         atomic.LoadInt64(&s.failed),
		"requeued":       atomic.LoadInt64(&s.requeued),
	}
}

// Tick drains one window for every due job. Jobs are isolated from each
// other: a failure (or panic) inside one job reschedules that job and
// moves on.
func (s *CampaignScheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()
	jobs, err := s.store.DueJobs(ctx, now, s.maxJobsPerTick)
	if err != nil {
		log.Printf("[CampaignScheduler] Error fetching due jobs: %v", err)
		return
	}

	for i := range jobs {
		s.processJob(ctx, &jobs[i], now)
	}
}

func (s *CampaignScheduler) processJob(ctx context.Context, job *domain.CampaignJob, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			// A window-level blowup must not poison sibling jobs or the
			// recipient attempt counters: push the job to the next window
			// with its progress untouched.
			log.Printf("[CampaignScheduler] Job %s (tenant %s) window panicked: %v — rescheduling", job.ID, job.TenantID, r)
			if err := s.store.RescheduleJob(ctx, job.ID, now.Add(s.Window()), job.Progress); err != nil {
				log.Printf("[CampaignScheduler] Job %s reschedule after panic failed: %v", job.ID, err)
			}
		}
	}()

	if err := s.store.MarkJobProcessing(ctx, job.ID); err != nil {
		log.Printf("[CampaignScheduler] Job %s: mark processing failed: %v", job.ID, err)
		return
	}

	quota := s.WindowQuota(job.RatePerHour)
	recipients, err := s.store.QueuedRecipients(ctx, job.ID, quota)
	if err != nil {
		log.Printf("[CampaignScheduler] Job %s: fetch recipients failed: %v — rescheduling", job.ID, err)
		if rErr := s.store.RescheduleJob(ctx, job.ID, now.Add(s.Window()), job.Progress); rErr != nil {
			log.Printf("[CampaignScheduler] Job %s: reschedule failed: %v", job.ID, rErr)
		}
		return
	}

	// Fan recipients out with bounded concurrency. The quota can't be
	// exceeded: the batch was fetched with limit=quota.
	sem := make(chan struct{}, s.sendConcurrency)
	var wg sync.WaitGroup
	for i := range recipients {
		rec := recipients[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					// Each recipient goroutine carries its own guard: the
					// job-level recover cannot see panics raised here, and
					// siblings must keep draining.
					s.failTransient(ctx, job, &rec, fmt.Errorf("recipient pipeline panicked: %v", r))
				}
			}()
			s.processRecipient(ctx, job, &rec, now)
		}()
	}
	wg.Wait()

	remaining, err := s.store.QueuedCount(ctx, job.ID)
	if err != nil {
		log.Printf("[CampaignScheduler] Job %s: count queued failed: %v — rescheduling", job.ID, err)
		if rErr := s.store.RescheduleJob(ctx, job.ID, now.Add(s.Window()), job.Progress); rErr != nil {
			log.Printf("[CampaignScheduler] Job %s: reschedule failed: %v", job.ID, rErr)
		}
		return
	}

	progress := job.TotalRecipients - remaining
	if remaining == 0 {
		if err := s.store.CompleteJob(ctx, job.ID, progress, now); err != nil {
			log.Printf("[CampaignScheduler] Job %s: complete failed: %v", job.ID, err)
			return
		}
		log.Printf("[CampaignScheduler] Job %s (tenant %s) completed (%d recipients)", job.ID, job.TenantID, job.TotalRecipients)
	} else {
		if err := s.store.RescheduleJob(ctx, job.ID, now.Add(s.Window()), progress); err != nil {
			log.Printf("[CampaignScheduler] Job %s: reschedule failed: %v", job.ID, err)
			return
		}
	}
	atomic.AddInt64(&s.jobsProcessed, 1)
}

// processRecipient runs one recipient through resolve → dispatch →
// reconcile. Resolution failures are terminal; transport failures retry
// until the attempt bound.
func (s *CampaignScheduler) processRecipient(ctx context.Context, job *domain.CampaignJob, rec *domain.JobRecipient, now time.Time) {
	if rec.Email == "" {
		s.failTerminal(ctx, job, rec, "recipient has no usable email address")
		return
	}

	subdomain, err := s.dir.InboundSubdomain(ctx, job.TenantID)
	if err != nil {
		s.failTerminal(ctx, job, rec, fmt.Sprintf("no verified reply subdomain: %v", err))
		return
	}

	resolved, err := s.resolver.Resolve(ctx, job, rec)
	if err != nil {
		s.failTerminal(ctx, job, rec, fmt.Sprintf("content resolution: %v", err))
		return
	}

	token := resolved.ReplyToken
	if token == "" {
		token = uuid.New().String()
	}

	providerID, err := s.sender.Send(ctx, dispatch.Request{
		From:        job.FromEmail,
		To:          rec.Email,
		Subject:     resolved.Subject,
		HTMLBody:    resolved.HTMLBody,
		ReplyToken:  token,
		ReplyDomain: subdomain,
		TenantID:    job.TenantID,
		CampaignID:  job.CampaignID,
		LeadID:      rec.LeadID,
	})
	if err != nil {
		s.failTransient(ctx, job, rec, err)
		return
	}

	emit, cErr := s.events.Claim(ctx, "send-event:"+providerID)
	if cErr != nil {
		// The event claim is best-effort: losing it means at worst a
		// duplicate lifecycle event, never a lost send.
		log.Printf("[CampaignScheduler] Job %s recipient %s: idempotency claim failed: %v", job.ID, rec.ID, cErr)
		emit = true
	}

	campaignID := job.CampaignID
	leadID := rec.LeadID
	record := SendRecord{
		RecipientID: rec.ID,
		JobID:       job.ID,
		Conversation: conversation.Upsert{
			TenantID:     job.TenantID,
			ThreadToken:  token,
			Subject:      resolved.Subject,
			Participants: []string{job.FromEmail, rec.Email},
			At:           now,
		},
		Message: domain.OutboundMessage{
			ID:                uuid.New().String(),
			TenantID:          job.TenantID,
			CampaignID:        &campaignID,
			LeadID:            &leadID,
			ProviderMessageID: providerID,
			ReplyToken:        token,
			FromEmail:         job.FromEmail,
			ToEmail:           rec.Email,
			Subject:           resolved.Subject,
			HTMLBody:          resolved.HTMLBody,
			Headers:           map[string]string{"Reply-To": dispatch.ReplyAddress(token, subdomain)},
			SentAt:            &now,
		},
		DraftID:   resolved.DraftID,
		EmitEvent: emit,
	}

	if err := s.store.RecordSend(ctx, record); err != nil {
		// The transaction rolled back whole; the recipient is still
		// queued-claimed, so route it through the bounded-retry path.
		log.Printf("[CampaignScheduler] Job %s recipient %s: record send failed: %v", job.ID, rec.ID, err)
		s.failTransient(ctx, job, rec, err)
		return
	}
	atomic.AddInt64(&s.sent, 1)
}

func (s *CampaignScheduler) failTerminal(ctx context.Context, job *domain.CampaignJob, rec *domain.JobRecipient, reason string) {
	atomic.AddInt64(&s.failed, 1)
	log.Printf("[CampaignScheduler] Job %s recipient %s (tenant %s): terminal failure: %s", job.ID, rec.ID, job.TenantID, reason)
	if err := s.store.FailRecipient(ctx, rec.ID, reason); err != nil {
		log.Printf("[CampaignScheduler] Job %s recipient %s: mark failed errored: %v", job.ID, rec.ID, err)
	}
}

func (s *CampaignScheduler) failTransient(ctx context.Context, job *domain.CampaignJob, rec *domain.JobRecipient, cause error) {
	if rec.Attempts+1 < s.maxAttempts {
		atomic.AddInt64(&s.requeued, 1)
		log.Printf("[CampaignScheduler] Job %s recipient %s (tenant %s): dispatch failed (attempt %d/%d), requeued: %v",
			job.ID, rec.ID, job.TenantID, rec.Attempts+1, s.maxAttempts, cause)
		if err := s.store.RequeueRecipient(ctx, rec.ID, cause.Error()); err != nil {
			log.Printf("[CampaignScheduler] Job %s recipient %s: requeue errored: %v", job.ID, rec.ID, err)
		}
		return
	}
	atomic.AddInt64(&s.failed, 1)
	log.Printf("[CampaignScheduler] Job %s recipient %s (tenant %s): dispatch failed at attempt bound %d: %v",
		job.ID, rec.ID, job.TenantID, s.maxAttempts, cause)
	if err := s.store.FailRecipient(ctx, rec.ID, cause.Error()); err != nil {
		log.Printf("[CampaignScheduler] Job %s recipient %s: mark failed errored: %v", job.ID, rec.ID, err)
	}
}
