// Package postgres provides the Postgres-backed Store. Lease claim, release,
// and search transitions are single conditional statements so correctness
// never depends on application-side locking.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailsift/mailsift/internal/extract"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements extract.Store over a pgx connection pool.
type Store struct {
	pool pgxPool
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// CreateSearch inserts the search row and its domain items in one transaction.
func (s *Store) CreateSearch(ctx context.Context, search extract.Search, items []extract.DomainItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create search: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO searches (id, name, total_domains, status, created_at)
VALUES ($1, $2, $3, $4, $5)`,
		search.ID, search.Name, search.TotalDomains, search.Status, search.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert search: %w", err)
	}
	for _, item := range items {
		_, err = tx.Exec(ctx, `
INSERT INTO search_domains (id, search_id, domain, url, status)
VALUES ($1, $2, $3, $4, $5)`,
			item.ID, search.ID, item.Domain, item.URL, extract.DomainStatusPending)
		if err != nil {
			return fmt.Errorf("insert search domain %s: %w", item.Domain, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create search: %w", err)
	}
	return nil
}

// GetSearch fetches a search by ID.
func (s *Store) GetSearch(ctx context.Context, searchID string) (extract.Search, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, name, total_domains, status, created_at, started_at, completed_at
FROM searches WHERE id = $1`, searchID)
	search, err := scanSearch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return extract.Search{}, extract.ErrNotFound
	}
	if err != nil {
		return extract.Search{}, fmt.Errorf("select search: %w", err)
	}
	return search, nil
}

// ListSearches returns searches newest-first, optionally filtered by status.
func (s *Store) ListSearches(ctx context.Context, filter extract.SearchFilter) ([]extract.Search, error) {
	query := `
SELECT id, name, total_domains, status, created_at, started_at, completed_at
FROM searches`
	var args []any
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += " WHERE status = $1"
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list searches: %w", err)
	}
	defer rows.Close()

	var out []extract.Search
	for rows.Next() {
		search, err := scanSearch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search: %w", err)
		}
		out = append(out, search)
	}
	return out, rows.Err()
}

// StartSearch moves pending -> in_progress and stamps started_at once.
func (s *Store) StartSearch(ctx context.Context, searchID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE searches SET status = $2, started_at = COALESCE(started_at, $3)
WHERE id = $1 AND status = $4`,
		searchID, extract.SearchStatusInProgress, now.UTC(), extract.SearchStatusPending)
	if err != nil {
		return fmt.Errorf("start search: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, searchID)
	}
	return nil
}

// PauseSearch moves in_progress -> paused.
func (s *Store) PauseSearch(ctx context.Context, searchID string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE searches SET status = $2 WHERE id = $1 AND status = $3`,
		searchID, extract.SearchStatusPaused, extract.SearchStatusInProgress)
	if err != nil {
		return fmt.Errorf("pause search: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, searchID)
	}
	return nil
}

// ResumeSearch moves paused -> in_progress.
func (s *Store) ResumeSearch(ctx context.Context, searchID string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE searches SET status = $2 WHERE id = $1 AND status = $3`,
		searchID, extract.SearchStatusInProgress, extract.SearchStatusPaused)
	if err != nil {
		return fmt.Errorf("resume search: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, searchID)
	}
	return nil
}

// CancelSearch moves a non-terminal search to cancelled and stamps
// completed_at. Leased items keep running until their workers release them.
func (s *Store) CancelSearch(ctx context.Context, searchID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE searches SET status = $2, completed_at = COALESCE(completed_at, $3)
WHERE id = $1 AND status IN ($4, $5, $6)`,
		searchID, extract.SearchStatusCancelled, now.UTC(),
		extract.SearchStatusPending, extract.SearchStatusInProgress, extract.SearchStatusPaused)
	if err != nil {
		return fmt.Errorf("cancel search: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, searchID)
	}
	return nil
}

// CompleteSearchIfDone flips in_progress -> completed iff no domain item is
// still pending or leased. Concurrent callers race harmlessly; exactly one
// sees the transition.
func (s *Store) CompleteSearchIfDone(ctx context.Context, searchID string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE searches SET status = $2, completed_at = COALESCE(completed_at, $3)
WHERE id = $1 AND status = $4
  AND NOT EXISTS (
    SELECT 1 FROM search_domains
    WHERE search_id = $1 AND status IN ($5, $6)
  )`,
		searchID, extract.SearchStatusCompleted, now.UTC(), extract.SearchStatusInProgress,
		extract.DomainStatusPending, extract.DomainStatusCrawling)
	if err != nil {
		return false, fmt.Errorf("complete search: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimDomain leases one eligible domain item. SKIP LOCKED keeps concurrent
// claimers from blocking on each other; the lease cutoff makes items whose
// holder died reclaimable without any reaper process.
func (s *Store) ClaimDomain(ctx context.Context, workerID string, leaseTTL time.Duration, now time.Time) (extract.DomainItem, error) {
	cutoff := now.UTC().Add(-leaseTTL)
	row := s.pool.QueryRow(ctx, `
UPDATE search_domains SET status = $4, worker_id = $1, locked_at = $2
WHERE id = (
  SELECT sd.id FROM search_domains sd
  JOIN searches s ON s.id = sd.search_id
  WHERE s.status = $5
    AND (sd.status = $6 OR (sd.status = $4 AND sd.locked_at < $3))
  ORDER BY s.created_at, sd.id
  FOR UPDATE OF sd SKIP LOCKED
  LIMIT 1
)
RETURNING id, search_id, domain, url, status, worker_id, locked_at,
          pages_crawled, emails_found, error_message`,
		workerID, now.UTC(), cutoff,
		extract.DomainStatusCrawling, extract.SearchStatusInProgress, extract.DomainStatusPending)

	item, err := scanDomain(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return extract.DomainItem{}, extract.ErrNoWork
	}
	if err != nil {
		return extract.DomainItem{}, fmt.Errorf("claim domain: %w", err)
	}
	return item, nil
}

// HeartbeatDomain refreshes locked_at for a held lease.
func (s *Store) HeartbeatDomain(ctx context.Context, domainID, workerID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE search_domains SET locked_at = $3
WHERE id = $1 AND worker_id = $2 AND status = $4`,
		domainID, workerID, now.UTC(), extract.DomainStatusCrawling)
	if err != nil {
		return fmt.Errorf("heartbeat domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return extract.ErrLeaseLost
	}
	return nil
}

// ReleaseDomain records the terminal outcome and clears the lease. The
// worker_id guard makes a stale release after reassignment a no-op.
func (s *Store) ReleaseDomain(ctx context.Context, domainID, workerID string, outcome extract.DomainOutcome) error {
	if !outcome.Status.Terminal() {
		return extract.ErrInvalidTransition
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE search_domains
SET status = $3, pages_crawled = $4, emails_found = $5, error_message = $6,
    worker_id = NULL, locked_at = NULL
WHERE id = $1 AND worker_id = $2 AND status = $7`,
		domainID, workerID, outcome.Status, outcome.PagesCrawled, outcome.EmailsFound,
		outcome.ErrorText, extract.DomainStatusCrawling)
	if err != nil {
		return fmt.Errorf("release domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return extract.ErrLeaseLost
	}
	return nil
}

// RecordPage appends a page row; the unique (domain_id, url) constraint
// swallows repeats.
func (s *Store) RecordPage(ctx context.Context, page extract.PageRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO pages (id, domain_id, url, status_code, content_type, fetched_at, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (domain_id, url) DO NOTHING`,
		page.ID, page.DomainID, page.URL, page.StatusCode, page.ContentType,
		page.FetchedAt, page.ErrorText)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// RecordEmail appends an email row and reports whether the normalized form
// was new for the domain item.
func (s *Store) RecordEmail(ctx context.Context, email extract.EmailRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO emails (id, domain_id, page_id, raw_email, normalized_email, extracted_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (domain_id, normalized_email) DO NOTHING`,
		email.ID, email.DomainID, email.PageID, email.RawEmail, email.Normalized, email.ExtractedAt)
	if err != nil {
		return false, fmt.Errorf("insert email: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListDomainEmails returns the normalized forms recorded for a domain item.
func (s *Store) ListDomainEmails(ctx context.Context, domainID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT normalized_email FROM emails WHERE domain_id = $1 ORDER BY extracted_at, id`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list domain emails: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var normalized string
		if err := rows.Scan(&normalized); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, normalized)
	}
	return out, rows.Err()
}

// ListDomains returns the search's domain items, optionally filtered by status.
func (s *Store) ListDomains(ctx context.Context, searchID string, status *extract.DomainStatus) ([]extract.DomainItem, error) {
	query := `
SELECT id, search_id, domain, url, status, worker_id, locked_at,
       pages_crawled, emails_found, error_message
FROM search_domains WHERE search_id = $1`
	args := []any{searchID}
	if status != nil {
		args = append(args, *status)
		query += " AND status = $2"
	}
	query += " ORDER BY id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []extract.DomainItem
	for rows.Next() {
		item, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListSearchEmails returns the search's emails deduplicated by normalized
// form across all of its domain items, earliest discovery first.
func (s *Store) ListSearchEmails(ctx context.Context, searchID string) ([]extract.EmailRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (e.normalized_email)
       e.id, e.domain_id, e.page_id, e.raw_email, e.normalized_email, e.extracted_at
FROM emails e
JOIN search_domains d ON d.id = e.domain_id
WHERE d.search_id = $1
ORDER BY e.normalized_email, e.extracted_at, e.id`, searchID)
	if err != nil {
		return nil, fmt.Errorf("list search emails: %w", err)
	}
	defer rows.Close()

	var out []extract.EmailRecord
	for rows.Next() {
		var rec extract.EmailRecord
		if err := rows.Scan(&rec.ID, &rec.DomainID, &rec.PageID, &rec.RawEmail,
			&rec.Normalized, &rec.ExtractedAt); err != nil {
			return nil, fmt.Errorf("scan search email: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SearchStatistics computes the read-time aggregate over the search's domain
// items. Counters live on the domain rows, so this never scans pages or
// emails.
func (s *Store) SearchStatistics(ctx context.Context, searchID string, now time.Time) (extract.SearchStatistics, error) {
	row := s.pool.QueryRow(ctx, `
SELECT s.started_at, s.completed_at,
       COUNT(d.id),
       COALESCE(SUM(CASE WHEN d.status = $2 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN d.status = $3 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(d.pages_crawled), 0),
       COALESCE(SUM(d.emails_found), 0)
FROM searches s
LEFT JOIN search_domains d ON d.search_id = s.id
WHERE s.id = $1
GROUP BY s.id`,
		searchID, extract.DomainStatusCompleted, extract.DomainStatusFailed)

	var (
		startedAt, completedAt                  *time.Time
		total, completed, failed, pages, emails int64
	)
	err := row.Scan(&startedAt, &completedAt, &total, &completed, &failed, &pages, &emails)
	if errors.Is(err, pgx.ErrNoRows) {
		return extract.SearchStatistics{}, extract.ErrNotFound
	}
	if err != nil {
		return extract.SearchStatistics{}, fmt.Errorf("search statistics: %w", err)
	}

	stats := extract.SearchStatistics{
		SearchID:          searchID,
		TotalDomains:      int(total),
		DomainsCompleted:  int(completed),
		DomainsFailed:     int(failed),
		TotalPagesCrawled: int(pages),
		TotalEmailsFound:  int(emails),
	}
	if startedAt != nil {
		end := now.UTC()
		if completedAt != nil {
			end = *completedAt
		}
		secs := int64(end.Sub(*startedAt) / time.Second)
		stats.DurationSeconds = &secs
	}
	return stats, nil
}

// RecordMetric appends an advisory counter row.
func (s *Store) RecordMetric(ctx context.Context, metric extract.Metric) error {
	var searchID *string
	if metric.SearchID != "" {
		searchID = &metric.SearchID
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO metrics (id, search_id, name, value, recorded_at)
VALUES ($1, $2, $3, $4, $5)`,
		metric.ID, searchID, metric.Name, metric.Value, metric.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

// transitionError distinguishes a missing search from a state that does not
// admit the attempted transition.
func (s *Store) transitionError(ctx context.Context, searchID string) error {
	if _, err := s.GetSearch(ctx, searchID); err != nil {
		return err
	}
	return extract.ErrInvalidTransition
}

func scanSearch(row pgx.Row) (extract.Search, error) {
	var search extract.Search
	err := row.Scan(&search.ID, &search.Name, &search.TotalDomains, &search.Status,
		&search.CreatedAt, &search.StartedAt, &search.CompletedAt)
	return search, err
}

func scanDomain(row pgx.Row) (extract.DomainItem, error) {
	var item extract.DomainItem
	err := row.Scan(&item.ID, &item.SearchID, &item.Domain, &item.URL, &item.Status,
		&item.WorkerID, &item.LockedAt, &item.PagesCrawled, &item.EmailsFound, &item.ErrorText)
	return item, err
}
