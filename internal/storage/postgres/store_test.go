package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/internal/extract"
)

var testTime = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func searchRows(id string, status extract.SearchStatus) *pgxmock.Rows {
	started := testTime
	return pgxmock.NewRows([]string{
		"id", "name", "total_domains", "status", "created_at", "started_at", "completed_at",
	}).AddRow(id, "", 1, string(status), testTime, &started, (*time.Time)(nil))
}

func TestCreateSearchInsertsRowsInOneTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO searches").
		WithArgs("search-1", "march batch", 2, extract.SearchStatusPending, testTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO search_domains").
		WithArgs("dom-1", "search-1", "a.example", "https://a.example", extract.DomainStatusPending).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO search_domains").
		WithArgs("dom-2", "search-1", "b.example", "https://b.example", extract.DomainStatusPending).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err := store.CreateSearch(context.Background(), extract.Search{
		ID: "search-1", Name: "march batch", TotalDomains: 2,
		Status: extract.SearchStatusPending, CreatedAt: testTime,
	}, []extract.DomainItem{
		{ID: "dom-1", Domain: "a.example", URL: "https://a.example"},
		{ID: "dom-2", Domain: "b.example", URL: "https://b.example"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSearchNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, total_domains").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetSearch(context.Background(), "missing")
	require.ErrorIs(t, err, extract.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartSearchGuardsPendingState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE searches SET status").
		WithArgs("search-1", extract.SearchStatusInProgress, testTime, extract.SearchStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.StartSearch(context.Background(), "search-1", testTime))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartSearchAlreadyStarted(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE searches SET status").
		WithArgs("search-1", extract.SearchStatusInProgress, testTime, extract.SearchStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT id, name, total_domains").
		WithArgs("search-1").
		WillReturnRows(searchRows("search-1", extract.SearchStatusInProgress))

	err := store.StartSearch(context.Background(), "search-1", testTime)
	require.ErrorIs(t, err, extract.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDomainReturnsLeasedItem(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	worker := "worker-a"
	locked := testTime
	rows := pgxmock.NewRows([]string{
		"id", "search_id", "domain", "url", "status", "worker_id", "locked_at",
		"pages_crawled", "emails_found", "error_message",
	}).AddRow("dom-1", "search-1", "a.example", "https://a.example",
		string(extract.DomainStatusCrawling), &worker, &locked, 0, 0, "")

	mock.ExpectQuery("UPDATE search_domains SET status").
		WithArgs(worker, testTime, testTime.Add(-time.Minute),
			extract.DomainStatusCrawling, extract.SearchStatusInProgress, extract.DomainStatusPending).
		WillReturnRows(rows)

	item, err := store.ClaimDomain(context.Background(), worker, time.Minute, testTime)
	require.NoError(t, err)
	require.Equal(t, "dom-1", item.ID)
	require.Equal(t, extract.DomainStatusCrawling, item.Status)
	require.Equal(t, worker, *item.WorkerID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDomainNoWork(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE search_domains SET status").
		WithArgs("worker-a", testTime, testTime.Add(-time.Minute),
			extract.DomainStatusCrawling, extract.SearchStatusInProgress, extract.DomainStatusPending).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.ClaimDomain(context.Background(), "worker-a", time.Minute, testTime)
	require.ErrorIs(t, err, extract.ErrNoWork)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeatDomainLeaseLost(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE search_domains SET locked_at").
		WithArgs("dom-1", "worker-a", testTime, extract.DomainStatusCrawling).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.HeartbeatDomain(context.Background(), "dom-1", "worker-a", testTime)
	require.ErrorIs(t, err, extract.ErrLeaseLost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseDomainWritesOutcome(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE search_domains").
		WithArgs("dom-1", "worker-a", extract.DomainStatusCompleted, 7, 3, "",
			extract.DomainStatusCrawling).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.ReleaseDomain(context.Background(), "dom-1", "worker-a", extract.DomainOutcome{
		Status: extract.DomainStatusCompleted, PagesCrawled: 7, EmailsFound: 3,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseDomainRejectsNonTerminalOutcome(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)

	err := store.ReleaseDomain(context.Background(), "dom-1", "worker-a", extract.DomainOutcome{
		Status: extract.DomainStatusCrawling,
	})
	require.ErrorIs(t, err, extract.ErrInvalidTransition)
}

func TestRecordEmailReportsConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	email := extract.EmailRecord{
		ID: "em-1", DomainID: "dom-1", PageID: "pg-1",
		RawEmail: "Info [at] a [dot] example", Normalized: "info@a.example",
		ExtractedAt: testTime,
	}
	mock.ExpectExec("INSERT INTO emails").
		WithArgs(email.ID, email.DomainID, email.PageID, email.RawEmail, email.Normalized, email.ExtractedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO emails").
		WithArgs("em-2", email.DomainID, email.PageID, email.RawEmail, email.Normalized, email.ExtractedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	fresh, err := store.RecordEmail(context.Background(), email)
	require.NoError(t, err)
	require.True(t, fresh)

	email.ID = "em-2"
	fresh, err = store.RecordEmail(context.Background(), email)
	require.NoError(t, err)
	require.False(t, fresh)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteSearchIfDone_Postgres(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE searches SET status").
		WithArgs("search-1", extract.SearchStatusCompleted, testTime, extract.SearchStatusInProgress,
			extract.DomainStatusPending, extract.DomainStatusCrawling).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	done, err := store.CompleteSearchIfDone(context.Background(), "search-1", testTime)
	require.NoError(t, err)
	require.True(t, done)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchStatisticsAggregates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	started := testTime
	rows := pgxmock.NewRows([]string{
		"started_at", "completed_at", "count", "completed", "failed", "pages", "emails",
	}).AddRow(&started, (*time.Time)(nil), int64(3), int64(2), int64(1), int64(12), int64(5))

	mock.ExpectQuery("SELECT s.started_at, s.completed_at").
		WithArgs("search-1", extract.DomainStatusCompleted, extract.DomainStatusFailed).
		WillReturnRows(rows)

	stats, err := store.SearchStatistics(context.Background(), "search-1", testTime.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalDomains)
	require.Equal(t, 2, stats.DomainsCompleted)
	require.Equal(t, 1, stats.DomainsFailed)
	require.Equal(t, 12, stats.TotalPagesCrawled)
	require.Equal(t, 5, stats.TotalEmailsFound)
	require.NotNil(t, stats.DurationSeconds)
	require.Equal(t, int64(60), *stats.DurationSeconds)
	require.NoError(t, mock.ExpectationsWereMet())
}
