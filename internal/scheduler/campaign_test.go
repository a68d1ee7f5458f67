package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/content"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/dispatch"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
)

// memCampaignStore is an in-memory CampaignStore for scheduler tests.
type memCampaignStore struct {
	mu         sync.Mutex
	jobs       map[string]*domain.CampaignJob
	recipients map[string]*domain.JobRecipient
	order      []string // recipient ids in insertion order
	records    []SendRecord

	queuedRecipientsErr error
	recordSendErr       error
	panicOnJob          string
}

func newMemCampaignStore() *memCampaignStore {
	return &memCampaignStore{
		jobs:       make(map[string]*domain.CampaignJob),
		recipients: make(map[string]*domain.JobRecipient),
	}
}

func (m *memCampaignStore) addJob(job *domain.CampaignJob) {
	m.jobs[job.ID] = job
}

func (m *memCampaignStore) addRecipients(jobID string, n int) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-rec-%d", jobID, i)
		m.recipients[id] = &domain.JobRecipient{
			ID:       id,
			JobID:    jobID,
			TenantID: m.jobs[jobID].TenantID,
			LeadID:   fmt.Sprintf("lead-%d", i),
			Email:    fmt.Sprintf("lead%d@example.com", i),
			Status:   domain.RecipientQueued,
		}
		m.order = append(m.order, id)
	}
}

func (m *memCampaignStore) DueJobs(_ context.Context, now time.Time, limit int) ([]domain.CampaignJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.CampaignJob
	for _, j := range m.jobs {
		if (j.Status == domain.JobQueued || j.Status == domain.JobProcessing) && !j.NextProcessAt.After(now) {
			due = append(due, *j)
			if len(due) >= limit {
				break
			}
		}
	}
	return due, nil
}

func (m *memCampaignStore) MarkJobProcessing(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID].Status = domain.JobProcessing
	return nil
}

func (m *memCampaignStore) QueuedRecipients(_ context.Context, jobID string, limit int) ([]domain.JobRecipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOnJob == jobID {
		panic("corrupt recipient row")
	}
	if m.queuedRecipientsErr != nil {
		return nil, m.queuedRecipientsErr
	}
	var out []domain.JobRecipient
	for _, id := range m.order {
		r := m.recipients[id]
		if r.JobID == jobID && r.Status == domain.RecipientQueued {
			out = append(out, *r)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memCampaignStore) FailRecipient(_ context.Context, recipientID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recipients[recipientID]
	r.Status = domain.RecipientFailed
	r.Attempts++
	r.LastError = reason
	return nil
}

func (m *memCampaignStore) RequeueRecipient(_ context.Context, recipientID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recipients[recipientID]
	r.Status = domain.RecipientQueued
	r.Attempts++
	r.LastError = reason
	return nil
}

func (m *memCampaignStore) RecordSend(_ context.Context, rec SendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordSendErr != nil {
		return m.recordSendErr
	}
	m.recipients[rec.RecipientID].Status = domain.RecipientSent
	m.recipients[rec.RecipientID].Attempts++
	m.records = append(m.records, rec)
	return nil
}

func (m *memCampaignStore) QueuedCount(_ context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.recipients {
		if r.JobID == jobID && r.Status == domain.RecipientQueued {
			n++
		}
	}
	return n, nil
}

func (m *memCampaignStore) CompleteJob(_ context.Context, jobID string, progress int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	j.Status = domain.JobCompleted
	j.Progress = progress
	j.CompletedAt = &at
	return nil
}

func (m *memCampaignStore) RescheduleJob(_ context.Context, jobID string, next time.Time, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	j.Status = domain.JobQueued
	j.NextProcessAt = next
	j.Progress = progress
	return nil
}

// rewind makes the job due again without waiting out the window.
func (m *memCampaignStore) rewind(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID].NextProcessAt = time.Now().UTC().Add(-time.Second)
}

type fakeDirectory struct {
	subdomain    string
	subdomainErr error
	verified     bool
}

func (d *fakeDirectory) InboundSubdomain(context.Context, string) (string, error) {
	if d.subdomainErr != nil {
		return "", d.subdomainErr
	}
	return d.subdomain, nil
}

func (d *fakeDirectory) IdentityVerified(context.Context, string) (bool, error) {
	return d.verified, nil
}

type fakeResolver struct {
	err      error
	token    string
	draft    string
	panicFor string // email that blows up resolution
	called   int
}

func (r *fakeResolver) Resolve(_ context.Context, _ *domain.CampaignJob, rec *domain.JobRecipient) (*content.Resolved, error) {
	r.called++
	if r.panicFor != "" && r.panicFor == rec.Email {
		panic("resolver blew up on " + rec.Email)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &content.Resolved{
		Subject:    "Hello " + rec.LeadID,
		HTMLBody:   "<p>body</p>",
		ReplyToken: r.token,
		DraftID:    r.draft,
	}, nil
}

type fakeSender struct {
	mu       sync.Mutex
	requests []dispatch.Request
	err      error
	failTo   string // when set, only sends to this address fail
	n        int
}

func (s *fakeSender) Send(_ context.Context, req dispatch.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && (s.failTo == "" || s.failTo == req.To) {
		return "", s.err
	}
	s.requests = append(s.requests, req)
	s.n++
	return fmt.Sprintf("prov-%d", s.n), nil
}

func testJob(id string, rate int) *domain.CampaignJob {
	tpl := "tpl-1"
	return &domain.CampaignJob{
		ID:            id,
		TenantID:      "tenant-1",
		CampaignID:    "camp-1",
		TemplateID:    &tpl,
		RatePerHour:   rate,
		FromEmail:     "sales@acme.com",
		Status:        domain.JobQueued,
		NextProcessAt: time.Now().UTC().Add(-time.Second),
	}
}

func TestWindowQuota(t *testing.T) {
	s := NewCampaignScheduler(nil, nil, nil, nil, nil, WithWindowsPerHour(6))

	assert.Equal(t, 10, s.WindowQuota(60))
	assert.Equal(t, 1, s.WindowQuota(1))
	assert.Equal(t, 1, s.WindowQuota(0))
	assert.Equal(t, 2, s.WindowQuota(7)) // ceil(7/6)
	assert.Equal(t, 10*time.Minute, s.Window())
}

func TestCampaignDrainsAcrossWindows(t *testing.T) {
	store := newMemCampaignStore()
	job := testJob("job-1", 60)
	job.TotalRecipients = 25
	store.addJob(job)
	store.addRecipients("job-1", 25)

	sender := &fakeSender{}
	s := NewCampaignScheduler(store, &fakeResolver{}, sender, &fakeDirectory{subdomain: "mail.acme.com"}, nil,
		WithWindowsPerHour(6))

	s.Tick(context.Background())
	assert.Len(t, sender.requests, 10)
	assert.Equal(t, domain.JobQueued, store.jobs["job-1"].Status)
	assert.Equal(t, 10, store.jobs["job-1"].Progress)

	store.rewind("job-1")
	s.Tick(context.Background())
	assert.Len(t, sender.requests, 20)

	store.rewind("job-1")
	s.Tick(context.Background())
	assert.Len(t, sender.requests, 25)
	require.Equal(t, domain.JobCompleted, store.jobs["job-1"].Status)
	assert.Equal(t, 25, store.jobs["job-1"].Progress)
	assert.NotNil(t, store.jobs["job-1"].CompletedAt)

	// Completed jobs are never picked up again.
	store.rewind("job-1")
	store.jobs["job-1"].Status = domain.JobCompleted
	s.Tick(context.Background())
	assert.Len(t, sender.requests, 25)
}

func TestCampaignIdleTickChangesNothing(t *testing.T) {
	store := newMemCampaignStore()
	job := testJob("job-1", 60)
	job.NextProcessAt = time.Now().UTC().Add(time.Hour)
	store.addJob(job)
	store.addRecipients("job-1", 3)

	sender := &fakeSender{}
	s := NewCampaignScheduler(store, &fakeResolver{}, sender, &fakeDirectory{subdomain: "mail.acme.com"}, nil)

	s.Tick(context.Background())
	assert.Empty(t, sender.requests)
	assert.Empty(t, store.records)
	assert.Equal(t, domain.JobQueued, store.jobs["job-1"].Status)
}

func TestCampaignPausedJobSkipped(t *testing.T) {
	store := newMemCampaignStore()
	job := testJob("job-1", 60)
	job.Status = domain.JobPaused
	store.addJob(job)
	store.addRecipients("job-1", 3)

	sender := &fakeSender{}
	s := NewCampaignScheduler(store, &fakeResolver{}, sender, &fakeDirectory{subdomain: "mail.acme.com"}, nil)
	s.Tick(context.Background())

	assert.Empty(t, sender.requests)
}

func TestCampaignSendRecordContents(t *testing.T) {
	store := newMemCampaignStore()
	job := testJob("job-1", 6)
	job.TotalRecipients = 1
	store.addJob(job)
	store.addRecipients("job-1", 1)

	sender := &fakeSender{}
	s := NewCampaignScheduler(store, &fakeResolver{token: "tok-abc"}, sender, &fakeDirectory{subdomain: "mail.acme.com"}, nil)
	s.Tick(context.Background())

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, "tok-abc", rec.Conversation.ThreadToken)
	assert.ElementsMatch(t, []string{"sales@acme.com", "lead0@example.com"}, rec.Conversation.Participants)
	assert.Equal(t, "prov-1", rec.Message.ProviderMessageID)
	assert.Equal(t, "reply+tok-abc@mail.acme.com", rec.Message.Headers["Reply-To"])
	assert.True(t, rec.EmitEvent)

	require.Len(t, sender.requests, 1)
	req := sender.requests[0]
	assert.Equal(t, "tok-abc", req.ReplyToken)
	assert.Equal(t, "camp-1", req.CampaignID)
	assert.Equal(t, "lead-0", req.LeadID)
}

func TestCampaignDraftIDFlowsToRecord(t *testing.T) {
	store := newMemCampaignStore()
	job := testJob("job-1", 6)
	job.TemplateID = nil
	job.TotalRecipients = 1
	store.addJob(job)
	store.addRecipients("job-1", 1)

	s := NewCampaignScheduler(store, &fakeResolver{token: "thread-tok", draft: "draft-row-1"}, &fakeSender{},
		&fakeDirectory{subdomain: "mail.acme.com"}, nil)
	s.Tick(context.Background())

	require.Len(t, store.records, 1)
	assert.Equal(t, "draft-row-1", store.records[0].DraftID)
}

func TestCampaignTransportFailureRequeuesUntilBound(t *testing.T) {
	store := newMemCampaignStore()
	job := testJob("job-1", 6)
	job.TotalRecipients = 1
	store.addJob(job)
	store.addRecipients("job-1", 1)

	sender := &fakeSender{err: errors.New("throttled upstream")}
	s := NewCampaignScheduler(store, &fakeResolver{}, sender, &fakeDirectory{subdomain: "mail.acme.com"}, nil,
		WithMaxAttempts(3))

	// Attempts 1 and 2: transient, requeued.
	s.Tick(context.Background())
	rec := store.recipients["job-1-rec-0"]
	assert.Equal(t, domain.RecipientQueued, rec.Status)
	assert.Equal(t, 1, rec.Attempts)

	store.rewind("job-1")
	s.Tick(context.Background())
	assert.Equal(t, domain.RecipientQueued, rec.Status)
	assert.Equal(t, 2, rec.Attempts)

	// Attempt 3 hits the bound: terminal failure, job completes.
	store.rewind("job-1")
	s.Tick(context.Background())
	assert.Equal(t, domain.RecipientFailed, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, "throttled upstream", rec.LastError[len(rec.LastError)-len("throttled upstream"):])
	assert.Equal(t, domain.JobCompleted, store.jobs["job-1"].Status)
}

func TestCampaignResolutionFailureIsTerminal(t *testing.T) {
	store := newMemCampaignStore()
	job := testJob("job-1", 6)
	job.TotalRecipients = 1
	store.addJob(job)
	store.addRecipients("job-1", 1)

	s := NewCampaignScheduler(store, &fakeResolver{err: content.ErrNoTemplate}, &fakeSender{},
		&fakeDirectory{subdomain: "mail.acme.com"}, nil, WithMaxAttempts(3))
	s.Tick(context.Background())

	rec := store.recipients["job-1-rec-0"]
	assert.Equal(t, domain.RecipientFailed, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
}

func TestCampaignMissingSubdomainIsTerminal(t *testing.T) {
	store := newMemCampaignStore()
	job := testJob("job-1", 6)
	job.TotalRecipients = 1
	store.addJob(job)
	store.addRecipients("job-1", 1)

	sender := &fakeSender{}
	s := NewCampaignScheduler(store, &fakeResolver{}, sender,
		&fakeDirectory{subdomainErr: errors.New("no verified domain")}, nil)
	s.Tick(context.Background())

	assert.Empty(t, sender.requests)
	assert.Equal(t, domain.RecipientFailed, store.recipients["job-1-rec-0"].Status)
}

func TestCampaignEmptyEmailIsTerminal(t *testing.T) {
	store := newMemCampaignStore()
	job := testJob("job-1", 6)
	job.TotalRecipients = 1
	store.addJob(job)
	store.addRecipients("job-1", 1)
	store.recipients["job-1-rec-0"].Email = ""

	sender := &fakeSender{}
	s := NewCampaignScheduler(store, &fakeResolver{}, sender, &fakeDirectory{subdomain: "mail.acme.com"}, nil)
	s.Tick(context.Background())

	assert.Empty(t, sender.requests)
	assert.Equal(t, domain.RecipientFailed, store.recipients["job-1-rec-0"].Status)
}

func TestCampaignJobPanicIsolated(t *testing.T) {
	store := newMemCampaignStore()
	bad := testJob("job-bad", 6)
	bad.Progress = 4
	good := testJob("job-good", 6)
	good.TotalRecipients = 1
	store.addJob(bad)
	store.addJob(good)
	store.addRecipients("job-good", 1)
	store.panicOnJob = "job-bad"

	sender := &fakeSender{}
	s := NewCampaignScheduler(store, &fakeResolver{}, sender, &fakeDirectory{subdomain: "mail.acme.com"}, nil)
	s.Tick(context.Background())

	// The healthy job still drained.
	assert.Len(t, sender.requests, 1)
	assert.Equal(t, domain.JobCompleted, store.jobs["job-good"].Status)

	// The broken job was pushed to the next window with progress intact.
	assert.Equal(t, domain.JobQueued, store.jobs["job-bad"].Status)
	assert.Equal(t, 4, store.jobs["job-bad"].Progress)
	assert.True(t, store.jobs["job-bad"].NextProcessAt.After(time.Now().UTC()))
}

func TestCampaignRecipientPanicIsolated(t *testing.T) {
	store := newMemCampaignStore()
	job := testJob("job-1", 60)
	job.TotalRecipients = 3
	store.addJob(job)
	store.addRecipients("job-1", 3)

	sender := &fakeSender{}
	s := NewCampaignScheduler(store, &fakeResolver{panicFor: "lead1@example.com"}, sender,
		&fakeDirectory{subdomain: "mail.acme.com"}, nil, WithMaxAttempts(2))

	// Siblings drain despite the blowup; the broken recipient is requeued.
	s.Tick(context.Background())
	assert.Len(t, sender.requests, 2)
	rec := store.recipients["job-1-rec-1"]
	assert.Equal(t, domain.RecipientQueued, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, domain.JobQueued, store.jobs["job-1"].Status)

	// A persistent blowup hits the attempt bound like any other failure.
	store.rewind("job-1")
	s.Tick(context.Background())
	assert.Equal(t, domain.RecipientFailed, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, domain.JobCompleted, store.jobs["job-1"].Status)
}

func TestCampaignRecordSendFailureRoutesToRetry(t *testing.T) {
	store := newMemCampaignStore()
	job := testJob("job-1", 6)
	job.TotalRecipients = 1
	store.addJob(job)
	store.addRecipients("job-1", 1)
	store.recordSendErr = errors.New("deadlock detected")

	s := NewCampaignScheduler(store, &fakeResolver{}, &fakeSender{}, &fakeDirectory{subdomain: "mail.acme.com"}, nil,
		WithMaxAttempts(3))
	s.Tick(context.Background())

	rec := store.recipients["job-1-rec-0"]
	assert.Equal(t, domain.RecipientQueued, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
}

func TestCampaignMintsTokenWhenResolverGivesNone(t *testing.T) {
	store := newMemCampaignStore()
	job := testJob("job-1", 6)
	job.TotalRecipients = 1
	store.addJob(job)
	store.addRecipients("job-1", 1)

	sender := &fakeSender{}
	s := NewCampaignScheduler(store, &fakeResolver{token: ""}, sender, &fakeDirectory{subdomain: "mail.acme.com"}, nil)
	s.Tick(context.Background())

	require.Len(t, sender.requests, 1)
	assert.NotEmpty(t, sender.requests[0].ReplyToken)
	require.Len(t, store.records, 1)
	assert.Equal(t, sender.requests[0].ReplyToken, store.records[0].Conversation.ThreadToken)
}
