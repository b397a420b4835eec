// Package extract defines core types shared across subsystems.
package extract

import (
	"time"
)

// SearchStatus represents the lifecycle state of a search (batch job).
type SearchStatus string

// Search status values persisted in the store.
const (
	SearchStatusPending    SearchStatus = "pending"
	SearchStatusInProgress SearchStatus = "in_progress"
	SearchStatusCompleted  SearchStatus = "completed"
	SearchStatusPaused     SearchStatus = "paused"
	SearchStatusCancelled  SearchStatus = "cancelled"
)

// Terminal reports whether no further automatic transition occurs.
func (s SearchStatus) Terminal() bool {
	return s == SearchStatusCompleted || s == SearchStatusCancelled
}

// DomainStatus represents the lifecycle state of one domain work item.
type DomainStatus string

// Domain status values persisted in the store.
const (
	DomainStatusPending   DomainStatus = "pending"
	DomainStatusCrawling  DomainStatus = "crawling"
	DomainStatusCompleted DomainStatus = "completed"
	DomainStatusFailed    DomainStatus = "failed"
)

// Terminal reports whether the domain item reached a final state.
func (s DomainStatus) Terminal() bool {
	return s == DomainStatusCompleted || s == DomainStatusFailed
}

// Search is the metadata persisted for each submitted batch of domains.
type Search struct {
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	TotalDomains int          `json:"total_domains"`
	Status       SearchStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// DomainItem is the unit of crawl work: one target domain within one search.
// WorkerID and LockedAt are both nil or both set; the item is leased iff
// Status is crawling and LockedAt is within the lease TTL.
type DomainItem struct {
	ID           string       `json:"id"`
	SearchID     string       `json:"search_id"`
	Domain       string       `json:"domain"`
	URL          string       `json:"url"`
	Status       DomainStatus `json:"status"`
	WorkerID     *string      `json:"worker_id,omitempty"`
	LockedAt     *time.Time   `json:"locked_at,omitempty"`
	PagesCrawled int          `json:"pages_crawled"`
	EmailsFound  int          `json:"emails_found"`
	ErrorText    string       `json:"error_message,omitempty"`
}

// PageRecord is persisted for each fetched page. Append-only.
type PageRecord struct {
	ID          string    `json:"id"`
	DomainID    string    `json:"domain_id"`
	URL         string    `json:"url"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
	ErrorText   string    `json:"error_message,omitempty"`
}

// EmailRecord is persisted for each newly discovered address, unique per
// (domain item, normalized form). Immutable once created.
type EmailRecord struct {
	ID          string    `json:"id"`
	DomainID    string    `json:"domain_id"`
	PageID      string    `json:"page_id"`
	RawEmail    string    `json:"raw_email"`
	Normalized  string    `json:"normalized_email"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Metric is an append-only advisory counter, never authoritative for
// business state.
type Metric struct {
	ID         string    `json:"id"`
	SearchID   string    `json:"search_id,omitempty"`
	Name       string    `json:"name"`
	Value      int64     `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// DomainOutcome is reported by a worker when releasing a lease.
type DomainOutcome struct {
	Status       DomainStatus
	PagesCrawled int
	EmailsFound  int
	ErrorText    string
}

// Budget bounds a single domain crawl run.
type Budget struct {
	MaxPages        int
	MaxDepth        int
	RequestTimeout  time.Duration
	OverallDeadline time.Duration
}

// FetchResult is returned by a Fetcher implementation.
type FetchResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// SearchStatistics is a read-time aggregate over a search's domain items,
// pages, and emails.
type SearchStatistics struct {
	SearchID          string `json:"search_id"`
	TotalDomains      int    `json:"total_domains"`
	DomainsCompleted  int    `json:"domains_completed"`
	DomainsFailed     int    `json:"domains_failed"`
	TotalPagesCrawled int    `json:"total_pages_crawled"`
	TotalEmailsFound  int    `json:"total_emails_found"`
	DurationSeconds   *int64 `json:"duration_seconds,omitempty"`
}
