// Package api exposes the engine's small operational HTTP surface: health
// and scheduler counters. Job and warmup CRUD belongs to the main
// application API, not this process.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/conversation"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
)

// StatsSource is anything that can report counters.
type StatsSource interface {
	Stats() map[string]int64
}

// ConversationSource looks up conversations for the support/debug endpoint.
type ConversationSource interface {
	GetByThreadToken(ctx context.Context, tenantID, token string) (*domain.Conversation, error)
}

// Ops serves the operational endpoints.
type Ops struct {
	db            *sql.DB
	sources       map[string]StatsSource
	conversations ConversationSource
	started       time.Time
}

// NewOps creates the ops handler. Sources are keyed by the name they report
// under in /stats; conversations may be nil to disable the lookup endpoint.
func NewOps(db *sql.DB, sources map[string]StatsSource, conversations ConversationSource) *Ops {
	return &Ops{db: db, sources: sources, conversations: conversations, started: time.Now().UTC()}
}

// Router builds the ops HTTP router.
func (o *Ops) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", o.handleHealth)
	r.Get("/stats", o.handleStats)
	if o.conversations != nil {
		r.Get("/conversations/{token}", o.handleConversation)
	}
	return r
}

// handleConversation is a support tool: given a thread token seen in a
// Reply-To header, show the reconciled conversation.
func (o *Ops) handleConversation(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id query parameter required", http.StatusBadRequest)
		return
	}

	c, err := o.conversations.GetByThreadToken(r.Context(), tenantID, token)
	if errors.Is(err, conversation.ErrNotFound) {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

func (o *Ops) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := o.db.PingContext(ctx); err != nil {
		status = "degraded: " + err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"uptime": time.Since(o.started).Round(time.Second).String(),
	})
}

func (o *Ops) handleStats(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]map[string]int64, len(o.sources))
	for name, src := range o.sources {
		out[name] = src.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
