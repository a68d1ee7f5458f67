// Package dispatch wraps the external transport send. It attaches
// correlation tags and the tokenized Reply-To address; retry policy is the
// caller's responsibility, never this package's.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/pkg/logger"
)

// ErrTransport tags transport-level send failures so callers can apply
// their bounded-retry policy to them.
var ErrTransport = errors.New("transport send failed")

// Transport is the external send service contract.
type Transport interface {
	Send(ctx context.Context, from, to, subject, html string, replyTo []string, tags map[string]string, configSet string) (providerMessageID string, err error)
}

// Request carries everything needed to dispatch one email.
type Request struct {
	From        string
	To          string
	Subject     string
	HTMLBody    string
	ReplyToken  string // minted by the caller; embedded in Reply-To
	ReplyDomain string // tenant's verified inbound subdomain, or the warmup reply domain
	ReplyTo     string // pre-built Reply-To; when set, token/domain are ignored (warmup drafts store it)
	TenantID    string
	CampaignID  string // optional
	LeadID      string // optional
}

// Executor performs sends through a Transport with a per-send timeout.
type Executor struct {
	transport Transport
	configSet string
	timeout   time.Duration
}

// NewExecutor creates an executor. configSet names the transport
// configuration set stamped on every send; timeout bounds each call.
func NewExecutor(transport Transport, configSet string, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{transport: transport, configSet: configSet, timeout: timeout}
}

// ReplyAddress builds the tokenized Reply-To address that lets the inbound
// system match a later reply back to this send.
func ReplyAddress(token, domain string) string {
	return fmt.Sprintf("reply+%s@%s", token, domain)
}

// Send dispatches one email and returns the provider message id. Any
// transport failure is wrapped in ErrTransport; the call either resolves
// or fails within the executor's timeout.
func (e *Executor) Send(ctx context.Context, req Request) (string, error) {
	replyTo := req.ReplyTo
	if replyTo == "" {
		replyTo = ReplyAddress(req.ReplyToken, req.ReplyDomain)
	}

	tags := map[string]string{"tenant_id": req.TenantID}
	if req.CampaignID != "" {
		tags["campaign_id"] = req.CampaignID
	}
	if req.LeadID != "" {
		tags["lead_id"] = req.LeadID
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	id, err := e.transport.Send(ctx, req.From, req.To, req.Subject, req.HTMLBody, []string{replyTo}, tags, e.configSet)
	if err != nil {
		// The wrapped error lands in recipient last_error rows and logs,
		// so the address is masked here, not at each call site.
		return "", fmt.Errorf("%w: to %s: %v", ErrTransport, logger.RedactEmail(req.To), err)
	}
	return id, nil
}
