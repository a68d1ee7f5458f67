package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/dispatch"
)

const (
	// DefaultSenderMaxPerTick caps how many warmup drafts one sender tick
	// dispatches.
	DefaultSenderMaxPerTick = 20

	// DefaultSenderInterval is how often the warmup sender ticks.
	DefaultSenderInterval = 2 * time.Minute
)

// WarmupSender dispatches planned warmup drafts in small batches. Dispatch
// failures are terminal: the message is stamped with the failure sentinel
// and never retried, because a warmup send has no recipient waiting on it
// and retry storms hurt the very reputation warmup is building.
type WarmupSender struct {
	store      WarmupStore
	sender     Sender
	maxPerTick int
	interval   time.Duration

	// Stats
	sent   int64
	failed int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewWarmupSender creates a warmup sender.
func NewWarmupSender(store WarmupStore, sender Sender, maxPerTick int, interval time.Duration) *WarmupSender {
	if maxPerTick <= 0 {
		maxPerTick = DefaultSenderMaxPerTick
	}
	if interval <= 0 {
		interval = DefaultSenderInterval
	}
	return &WarmupSender{
		store:      store,
		sender:     sender,
		maxPerTick: maxPerTick,
		interval:   interval,
	}
}

// Start begins the polling loop.
func (s *WarmupSender) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("warmup sender already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[WarmupSender] Starting (interval: %v, batch: %d)", s.interval, s.maxPerTick)

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
				s.Tick(s.ctx)
			}
		}
	}()
	return nil
}

// Stop halts the loop and waits for the in-flight batch.
func (s *WarmupSender) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Printf("[WarmupSender] Stopped. Sent: %d, failed: %d",
		atomic.LoadInt64(&s.sent), atomic.LoadInt64(&s.failed))
}

// Stats returns a snapshot of the sender's counters.
func (s *WarmupSender) Stats() map[string]int64 {
	return map[string]int64{
		"warmup_sent":   atomic.LoadInt64(&s.sent),
		"warmup_failed": atomic.LoadInt64(&s.failed),
	}
}

// Tick dispatches one batch of drafts, oldest first. Each message is
// handled independently; one failure never blocks the rest of the batch.
func (s *WarmupSender) Tick(ctx context.Context) {
	msgs, err := s.store.DraftMessages(ctx, s.maxPerTick)
	if err != nil {
		log.Printf("[WarmupSender] Error fetching drafts: %v", err)
		return
	}

	now := time.Now().UTC()
	for i := range msgs {
		msg := &msgs[i]
		providerID, sErr := s.sender.Send(ctx, dispatch.Request{
			From:     msg.FromEmail,
			To:       msg.ToEmail,
			Subject:  msg.Subject,
			HTMLBody: msg.HTMLBody,
			ReplyTo:  msg.ReplyTo,
			TenantID: msg.TenantID,
		})
		if sErr != nil {
			atomic.AddInt64(&s.failed, 1)
			log.Printf("[WarmupSender] Message %s (profile %s) dispatch failed, marking terminal: %v", msg.ID, msg.ProfileID, sErr)
			if mErr := s.store.MarkSendFailed(ctx, msg.ID); mErr != nil {
				log.Printf("[WarmupSender] Message %s: mark failed errored: %v", msg.ID, mErr)
			}
			continue
		}
		if mErr := s.store.MarkSent(ctx, msg.ID, providerID, now); mErr != nil {
			log.Printf("[WarmupSender] Message %s: mark sent errored: %v", msg.ID, mErr)
			continue
		}
		atomic.AddInt64(&s.sent, 1)
	}
}
