package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/domain"
)

func testWarmupDraft(now time.Time) (domain.WarmupThread, domain.WarmupMessage) {
	thread := domain.WarmupThread{
		ID:        "thr-1",
		ProfileID: "p1",
		TenantID:  "tenant-1",
		SendToken: "w-tenant-1-abc123",
		CreatedAt: now,
	}
	msg := domain.WarmupMessage{
		ID:        "wm-1",
		ThreadID:  "thr-1",
		ProfileID: "p1",
		TenantID:  "tenant-1",
		FromEmail: "p1@acme.com",
		ToEmail:   "pool@example.com",
		Subject:   "Quick follow-up",
		HTMLBody:  "<p>hi</p>",
		ReplyTo:   "reply+w-tenant-1-abc123@warmup.example.com",
		CreatedAt: now,
	}
	return thread, msg
}

func TestWarmupRepoCreateDraftTransaction(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	thread, msg := testWarmupDraft(now)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO warmup_threads").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO warmup_messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO warmup_daily_stats").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO warmup_inbox_stats").
		WithArgs("in-1", now.Format("2006-01-02")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewWarmupRepo(db).CreateDraft(context.Background(), thread, msg, "in-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWarmupRepoCreateDraftRollsBack(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	thread, msg := testWarmupDraft(now)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO warmup_threads").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO warmup_messages").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := NewWarmupRepo(db).CreateDraft(context.Background(), thread, msg, "in-1")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWarmupRepoMarkSent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE warmup_messages").
		WithArgs("wm-1", "prov-9", now).
		WillReturnRows(sqlmock.NewRows([]string{"profile_id", "tenant_id"}).AddRow("p1", "tenant-1"))
	mock.ExpectExec("INSERT INTO message_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO warmup_daily_stats").
		WithArgs("p1", now.Format("2006-01-02")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewWarmupRepo(db).MarkSent(context.Background(), "wm-1", "prov-9", now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWarmupRepoMarkSentAlreadyStamped(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE warmup_messages").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := NewWarmupRepo(db).MarkSent(context.Background(), "wm-1", "prov-9", now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWarmupRepoMarkSendFailedWritesSentinel(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE warmup_messages").
		WithArgs("wm-1", domain.WarmupFailedSentinel).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewWarmupRepo(db).MarkSendFailed(context.Background(), "wm-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWarmupRepoDraftsCreatedTodayNoRow(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("FROM warmup_daily_stats").
		WillReturnError(sql.ErrNoRows)

	n, err := NewWarmupRepo(db).DraftsCreatedToday(context.Background(), "p1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWarmupRepoActiveInboxes(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "email", "active", "auto_engage", "daily_cap", "received"}).
		AddRow("in-1", "a@pool.example.com", true, true, 30, 4).
		AddRow("in-2", "b@pool.example.com", true, false, 20, 0)

	mock.ExpectQuery("FROM warmup_inboxes").
		WillReturnRows(rows)

	inboxes, err := NewWarmupRepo(db).ActiveInboxes(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, inboxes, 2)
	assert.True(t, inboxes[0].AutoEngage)
	assert.Equal(t, 4, inboxes[0].ReceivedToday)
}
