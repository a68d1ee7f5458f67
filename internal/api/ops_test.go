package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/conversation"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
)

type staticStats map[string]int64

func (s staticStats) Stats() map[string]int64 { return s }

func TestOpsHealthz(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	ops := NewOps(db, nil, nil)
	srv := httptest.NewServer(ops.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestOpsStats(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ops := NewOps(db, map[string]StatsSource{
		"campaign": staticStats{"sent": 42, "failed": 1},
		"warmup":   staticStats{"drafts_created": 7},
	}, nil)
	srv := httptest.NewServer(ops.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(42), body["campaign"]["sent"])
	assert.Equal(t, int64(7), body["warmup"]["drafts_created"])
}

type memConversations map[string]*domain.Conversation

func (m memConversations) GetByThreadToken(_ context.Context, tenantID, token string) (*domain.Conversation, error) {
	c, ok := m[tenantID+"/"+token]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	return c, nil
}

func TestOpsConversationLookup(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	convs := memConversations{
		"tenant-1/tok-1": {ID: "conv-1", TenantID: "tenant-1", ThreadToken: "tok-1", Subject: "Hello"},
	}
	ops := NewOps(db, nil, convs)
	srv := httptest.NewServer(ops.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/conversations/tok-1?tenant_id=tenant-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var c domain.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	assert.Equal(t, "conv-1", c.ID)

	resp, err = http.Get(srv.URL + "/conversations/missing?tenant_id=tenant-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/conversations/tok-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
