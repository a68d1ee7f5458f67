package scheduler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/dispatch"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/pkg/distlock"
)

// DefaultWarmupInterval is how often the warmup volume scheduler ticks.
const DefaultWarmupInterval = 15 * time.Minute

// WarmupStore is the persistence contract shared by the warmup volume
// scheduler and the warmup sender. CreateDraft and MarkSent must be
// atomic with their daily-stat counter updates.
type WarmupStore interface {
	// SchedulableProfiles returns active profiles in auto or manual_only mode.
	SchedulableProfiles(ctx context.Context) ([]domain.WarmupProfile, error)

	// EscalateProfile raises the profile's daily cap and stamps the
	// escalation time.
	EscalateProfile(ctx context.Context, profileID string, newMax int, at time.Time) error

	// DraftsCreatedToday returns how many warmup messages the profile has
	// planned during the UTC day containing day.
	DraftsCreatedToday(ctx context.Context, profileID string, day time.Time) (int, error)

	// ActiveInboxes returns the warmup inbox pool with ReceivedToday
	// populated for the UTC day containing day.
	ActiveInboxes(ctx context.Context, day time.Time) ([]domain.WarmupInbox, error)

	// CreateDraft atomically persists a thread, its draft message, and the
	// planned/received counter increments.
	CreateDraft(ctx context.Context, thread domain.WarmupThread, msg domain.WarmupMessage, inboxID string) error

	// DraftMessages returns up to limit undispatched warmup messages,
	// oldest first.
	DraftMessages(ctx context.Context, limit int) ([]domain.WarmupMessage, error)

	// MarkSent atomically stamps the provider id and send time and
	// increments the profile's sent counter.
	MarkSent(ctx context.Context, messageID, providerID string, at time.Time) error

	// MarkSendFailed writes the failure sentinel into the provider-id
	// field so the message is never selected again.
	MarkSendFailed(ctx context.Context, messageID string) error
}

// WarmupScheduler plans warmup volume: once per UTC day it escalates each
// active profile's daily cap, then tops the profile up to that cap with
// draft messages addressed to pool inboxes with spare capacity. The whole
// pass runs under a distributed lock so concurrent instances never
// double-draft.
type WarmupScheduler struct {
	store       WarmupStore
	dir         Directory
	lock        distlock.Lock
	replyDomain string
	interval    time.Duration

	// Stats
	escalations   int64
	draftsCreated int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewWarmupScheduler creates a warmup volume scheduler.
func NewWarmupScheduler(store WarmupStore, dir Directory, lock distlock.Lock, replyDomain string, interval time.Duration) *WarmupScheduler {
	if interval <= 0 {
		interval = DefaultWarmupInterval
	}
	return &WarmupScheduler{
		store:       store,
		dir:         dir,
		lock:        lock,
		replyDomain: replyDomain,
		interval:    interval,
	}
}

// Start begins the polling loop.
func (s *WarmupScheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("warmup scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[WarmupScheduler] Starting (interval: %v, reply domain: %s)", s.interval, s.replyDomain)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Tick(s.ctx); err != nil {
					log.Printf("[WarmupScheduler] Tick error: %v", err)
				}
			}
		}
	}()
	return nil
}

// Stop halts the loop and waits for the in-flight pass.
func (s *WarmupScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Printf("[WarmupScheduler] Stopped. Escalations: %d, drafts created: %d",
		atomic.LoadInt64(&s.escalations), atomic.LoadInt64(&s.draftsCreated))
}

// Stats returns a snapshot of the scheduler's counters.
func (s *WarmupScheduler) Stats() map[string]int64 {
	return map[string]int64{
		"escalations":    atomic.LoadInt64(&s.escalations),
		"drafts_created": atomic.LoadInt64(&s.draftsCreated),
	}
}

// Tick runs one planning pass and returns how many drafts it created.
// If another instance holds the lock the pass is skipped, not queued.
func (s *WarmupScheduler) Tick(ctx context.Context) (int, error) {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire warmup lock: %w", err)
	}
	if !acquired {
		log.Printf("[WarmupScheduler] Pass already running elsewhere, skipping")
		return 0, nil
	}
	defer func() {
		if rErr := s.lock.Release(ctx); rErr != nil {
			log.Printf("[WarmupScheduler] Lock release failed: %v", rErr)
		}
	}()

	now := time.Now().UTC()
	profiles, err := s.store.SchedulableProfiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch warmup profiles: %w", err)
	}
	if len(profiles) == 0 {
		return 0, nil
	}

	inboxes, err := s.store.ActiveInboxes(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("fetch warmup inboxes: %w", err)
	}
	// One selector for the whole pass: inbox caps are shared across
	// profiles, so grants must be visible between them.
	selector := NewInboxSelector(inboxes)

	total := 0
	for i := range profiles {
		created, pErr := s.planProfile(ctx, &profiles[i], selector, now)
		if pErr != nil {
			log.Printf("[WarmupScheduler] Profile %s (%s): %v", profiles[i].ID, profiles[i].SenderEmail, pErr)
			continue
		}
		total += created
	}
	atomic.AddInt64(&s.draftsCreated, int64(total))
	if total > 0 {
		log.Printf("[WarmupScheduler] Pass complete: %d drafts across %d profiles", total, len(profiles))
	}
	return total, nil
}

func (s *WarmupScheduler) planProfile(ctx context.Context, p *domain.WarmupProfile, selector *InboxSelector, now time.Time) (int, error) {
	verified, err := s.dir.IdentityVerified(ctx, p.SenderEmail)
	if err != nil {
		return 0, fmt.Errorf("identity check: %w", err)
	}
	if !verified {
		log.Printf("[WarmupScheduler] Profile %s: sender %s not verified, skipping", p.ID, p.SenderEmail)
		return 0, nil
	}

	if !p.EscalatedToday(now) {
		if next := p.NextDailyMax(); next != p.CurrentDailyMax {
			if err := s.store.EscalateProfile(ctx, p.ID, next, now); err != nil {
				return 0, fmt.Errorf("escalate: %w", err)
			}
			log.Printf("[WarmupScheduler] Profile %s (%s): daily cap %d -> %d (target %d)",
				p.ID, p.SenderEmail, p.CurrentDailyMax, next, p.TargetDailyMax)
			p.CurrentDailyMax = next
			p.LastEscalatedAt = &now
			atomic.AddInt64(&s.escalations, 1)
		}
	}

	created, err := s.store.DraftsCreatedToday(ctx, p.ID, now)
	if err != nil {
		return 0, fmt.Errorf("count drafts: %w", err)
	}

	remaining := p.CurrentDailyMax - created
	count := 0
	for i := 0; i < remaining; i++ {
		inbox := selector.Next()
		if inbox == nil {
			log.Printf("[WarmupScheduler] Profile %s: inbox pool saturated after %d drafts", p.ID, count)
			break
		}
		if err := s.draftMessage(ctx, p, inbox, now); err != nil {
			return count, fmt.Errorf("create draft: %w", err)
		}
		count++
	}
	return count, nil
}

func (s *WarmupScheduler) draftMessage(ctx context.Context, p *domain.WarmupProfile, inbox *domain.WarmupInbox, now time.Time) error {
	token := warmupSendToken(p.TenantID)
	subject, body := pickWarmupContent()

	thread := domain.WarmupThread{
		ID:        uuid.New().String(),
		ProfileID: p.ID,
		TenantID:  p.TenantID,
		SendToken: token,
		CreatedAt: now,
	}
	msg := domain.WarmupMessage{
		ID:        uuid.New().String(),
		ThreadID:  thread.ID,
		ProfileID: p.ID,
		TenantID:  p.TenantID,
		FromEmail: p.SenderEmail,
		ToEmail:   inbox.Email,
		Subject:   subject,
		HTMLBody:  body,
		ReplyTo:   dispatch.ReplyAddress(token, s.replyDomain),
		CreatedAt: now,
	}
	return s.store.CreateDraft(ctx, thread, msg, inbox.ID)
}

// warmupSendToken mints a thread token carrying the tenant id plus a
// random suffix, so inbound warmup replies route without a lookup.
func warmupSendToken(tenantID string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("w-%s-%s", tenantID, suffix)
}
