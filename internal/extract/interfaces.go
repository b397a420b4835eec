package extract

import (
	"context"
	"time"
)

// Store is the transactional boundary for all state mutations. Lease claim,
// release, and search transitions are atomic conditional updates; pages,
// emails, and metrics are appends whose uniqueness violations are benign
// no-ops.
type Store interface {
	// CreateSearch inserts the search row and its domain items in one
	// transaction.
	CreateSearch(ctx context.Context, search Search, items []DomainItem) error
	GetSearch(ctx context.Context, searchID string) (Search, error)
	ListSearches(ctx context.Context, filter SearchFilter) ([]Search, error)

	// StartSearch moves pending -> in_progress and sets started_at once.
	StartSearch(ctx context.Context, searchID string, now time.Time) error
	// PauseSearch moves in_progress -> paused.
	PauseSearch(ctx context.Context, searchID string) error
	// ResumeSearch moves paused -> in_progress.
	ResumeSearch(ctx context.Context, searchID string) error
	// CancelSearch moves in_progress|paused -> cancelled and sets completed_at.
	CancelSearch(ctx context.Context, searchID string, now time.Time) error
	// CompleteSearchIfDone moves in_progress -> completed iff every domain
	// item is terminal, atomically. Reports whether the transition happened.
	CompleteSearchIfDone(ctx context.Context, searchID string, now time.Time) (bool, error)

	// ClaimDomain atomically selects one eligible domain item (pending, or
	// crawling with a lease older than leaseTTL) belonging to an in_progress
	// search, marks it crawling, and assigns the lease to workerID.
	// Returns ErrNoWork when nothing is eligible.
	ClaimDomain(ctx context.Context, workerID string, leaseTTL time.Duration, now time.Time) (DomainItem, error)
	// HeartbeatDomain refreshes locked_at; returns ErrLeaseLost when the
	// caller no longer holds the lease.
	HeartbeatDomain(ctx context.Context, domainID, workerID string, now time.Time) error
	// ReleaseDomain records the terminal outcome and clears the lease;
	// returns ErrLeaseLost when the lease was reassigned (stale release
	// must not clobber a newer claim).
	ReleaseDomain(ctx context.Context, domainID, workerID string, outcome DomainOutcome) error

	// RecordPage appends a page row; a duplicate (domain, url) is a no-op.
	RecordPage(ctx context.Context, page PageRecord) error
	// RecordEmail appends an email row and reports whether it was new for
	// the domain.
	RecordEmail(ctx context.Context, email EmailRecord) (bool, error)
	// ListDomainEmails returns the normalized forms already recorded for a
	// domain item, used to seed the worker's dedup set on resume.
	ListDomainEmails(ctx context.Context, domainID string) ([]string, error)

	ListDomains(ctx context.Context, searchID string, status *DomainStatus) ([]DomainItem, error)
	// ListSearchEmails returns the search's emails deduplicated by
	// normalized form across all of its domains.
	ListSearchEmails(ctx context.Context, searchID string) ([]EmailRecord, error)
	SearchStatistics(ctx context.Context, searchID string, now time.Time) (SearchStatistics, error)

	// RecordMetric appends an advisory observability counter.
	RecordMetric(ctx context.Context, metric Metric) error
}

// SearchFilter narrows ListSearches results.
type SearchFilter struct {
	Status *SearchStatus
	Limit  int
	Offset int
}

// Fetcher fetches a URL and returns status, content type, and body, bounded
// by its configured timeout.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// ContentExtractor produces raw email candidates and in-domain links from a
// fetched page body.
type ContentExtractor interface {
	Emails(body []byte, contentType string) []string
	Links(body []byte, baseURL string) []string
}

// Normalizer turns a raw extracted string into its canonical form.
// Implementations must be pure: same input, same output, always.
type Normalizer interface {
	Normalize(raw string) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
