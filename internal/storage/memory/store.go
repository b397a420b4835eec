// Package memory provides an in-memory Store for development and testing.
// All mutations take the store mutex, so the conditional updates that back
// leasing and search transitions are atomic the same way the SQL store's
// single-statement updates are.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mailsift/mailsift/internal/extract"
)

// Store implements extract.Store with mutex-guarded maps.
type Store struct {
	mu       sync.RWMutex
	searches map[string]extract.Search
	domains  map[string]extract.DomainItem
	// bySearch preserves insertion order for deterministic listings.
	bySearch map[string][]string
	pages    map[string][]extract.PageRecord
	pageKeys map[string]struct{} // domainID + "\x00" + url
	emails   map[string][]extract.EmailRecord
	emailSet map[string]struct{} // domainID + "\x00" + normalized
	metrics  []extract.Metric

	seq int
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		searches: make(map[string]extract.Search),
		domains:  make(map[string]extract.DomainItem),
		bySearch: make(map[string][]string),
		pages:    make(map[string][]extract.PageRecord),
		pageKeys: make(map[string]struct{}),
		emails:   make(map[string][]extract.EmailRecord),
		emailSet: make(map[string]struct{}),
	}
}

// CreateSearch stores the search and its domain items.
func (s *Store) CreateSearch(_ context.Context, search extract.Search, items []extract.DomainItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.searches[search.ID]; exists {
		return extract.ErrInvalidTransition
	}
	s.searches[search.ID] = search
	for _, item := range items {
		if item.ID == "" {
			s.seq++
			item.ID = "mem-" + strconv.Itoa(s.seq)
		}
		item.SearchID = search.ID
		s.domains[item.ID] = item
		s.bySearch[search.ID] = append(s.bySearch[search.ID], item.ID)
	}
	return nil
}

// GetSearch fetches a search by ID.
func (s *Store) GetSearch(_ context.Context, searchID string) (extract.Search, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search, ok := s.searches[searchID]
	if !ok {
		return extract.Search{}, extract.ErrNotFound
	}
	return search, nil
}

// ListSearches returns searches newest-first, optionally filtered by status.
func (s *Store) ListSearches(_ context.Context, filter extract.SearchFilter) ([]extract.Search, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]extract.Search, 0, len(s.searches))
	for _, search := range s.searches {
		if filter.Status != nil && search.Status != *filter.Status {
			continue
		}
		out = append(out, search)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// StartSearch moves pending -> in_progress and records started_at.
func (s *Store) StartSearch(_ context.Context, searchID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	search, ok := s.searches[searchID]
	if !ok {
		return extract.ErrNotFound
	}
	if search.Status != extract.SearchStatusPending {
		return extract.ErrInvalidTransition
	}
	search.Status = extract.SearchStatusInProgress
	if search.StartedAt == nil {
		ts := now.UTC()
		search.StartedAt = &ts
	}
	s.searches[searchID] = search
	return nil
}

// PauseSearch moves in_progress -> paused.
func (s *Store) PauseSearch(_ context.Context, searchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	search, ok := s.searches[searchID]
	if !ok {
		return extract.ErrNotFound
	}
	if search.Status != extract.SearchStatusInProgress {
		return extract.ErrInvalidTransition
	}
	search.Status = extract.SearchStatusPaused
	s.searches[searchID] = search
	return nil
}

// ResumeSearch moves paused -> in_progress.
func (s *Store) ResumeSearch(_ context.Context, searchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	search, ok := s.searches[searchID]
	if !ok {
		return extract.ErrNotFound
	}
	if search.Status != extract.SearchStatusPaused {
		return extract.ErrInvalidTransition
	}
	search.Status = extract.SearchStatusInProgress
	s.searches[searchID] = search
	return nil
}

// CancelSearch moves a non-terminal search to cancelled and stamps
// completed_at. Pending domain items stay pending; leased items run out
// their lease and release as usual.
func (s *Store) CancelSearch(_ context.Context, searchID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	search, ok := s.searches[searchID]
	if !ok {
		return extract.ErrNotFound
	}
	if search.Status.Terminal() {
		return extract.ErrInvalidTransition
	}
	search.Status = extract.SearchStatusCancelled
	if search.CompletedAt == nil {
		ts := now.UTC()
		search.CompletedAt = &ts
	}
	s.searches[searchID] = search
	return nil
}

// CompleteSearchIfDone flips in_progress -> completed iff every domain item
// is terminal. Reports whether the transition happened.
func (s *Store) CompleteSearchIfDone(_ context.Context, searchID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	search, ok := s.searches[searchID]
	if !ok {
		return false, extract.ErrNotFound
	}
	if search.Status != extract.SearchStatusInProgress {
		return false, nil
	}
	for _, id := range s.bySearch[searchID] {
		if !s.domains[id].Status.Terminal() {
			return false, nil
		}
	}
	search.Status = extract.SearchStatusCompleted
	if search.CompletedAt == nil {
		ts := now.UTC()
		search.CompletedAt = &ts
	}
	s.searches[searchID] = search
	return true, nil
}

// ClaimDomain leases one eligible domain item to workerID. Eligible means
// pending, or crawling with a lease stamp older than leaseTTL, and belonging
// to an in_progress search.
func (s *Store) ClaimDomain(_ context.Context, workerID string, leaseTTL time.Duration, now time.Time) (extract.DomainItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-leaseTTL)
	// Iterate searches in creation order for fairness across restarts.
	searchIDs := make([]string, 0, len(s.searches))
	for id := range s.searches {
		searchIDs = append(searchIDs, id)
	}
	sort.Slice(searchIDs, func(i, j int) bool {
		a, b := s.searches[searchIDs[i]], s.searches[searchIDs[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	for _, searchID := range searchIDs {
		if s.searches[searchID].Status != extract.SearchStatusInProgress {
			continue
		}
		for _, id := range s.bySearch[searchID] {
			item := s.domains[id]
			eligible := item.Status == extract.DomainStatusPending ||
				(item.Status == extract.DomainStatusCrawling &&
					item.LockedAt != nil && item.LockedAt.Before(cutoff))
			if !eligible {
				continue
			}
			item.Status = extract.DomainStatusCrawling
			w := workerID
			ts := now.UTC()
			item.WorkerID = &w
			item.LockedAt = &ts
			s.domains[id] = item
			return item, nil
		}
	}
	return extract.DomainItem{}, extract.ErrNoWork
}

// HeartbeatDomain refreshes the lease stamp for a held lease.
func (s *Store) HeartbeatDomain(_ context.Context, domainID, workerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.domains[domainID]
	if !ok {
		return extract.ErrNotFound
	}
	if item.Status != extract.DomainStatusCrawling || item.WorkerID == nil || *item.WorkerID != workerID {
		return extract.ErrLeaseLost
	}
	ts := now.UTC()
	item.LockedAt = &ts
	s.domains[domainID] = item
	return nil
}

// ReleaseDomain records the outcome and clears the lease. A release by a
// worker that no longer holds the lease returns ErrLeaseLost and changes
// nothing.
func (s *Store) ReleaseDomain(_ context.Context, domainID, workerID string, outcome extract.DomainOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.domains[domainID]
	if !ok {
		return extract.ErrNotFound
	}
	if item.Status != extract.DomainStatusCrawling || item.WorkerID == nil || *item.WorkerID != workerID {
		return extract.ErrLeaseLost
	}
	if !outcome.Status.Terminal() {
		return extract.ErrInvalidTransition
	}
	item.Status = outcome.Status
	item.PagesCrawled = outcome.PagesCrawled
	item.EmailsFound = outcome.EmailsFound
	item.ErrorText = outcome.ErrorText
	item.WorkerID = nil
	item.LockedAt = nil
	s.domains[domainID] = item
	return nil
}

// RecordPage appends a page row; a repeated (domain, url) pair is a no-op.
func (s *Store) RecordPage(_ context.Context, page extract.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := page.DomainID + "\x00" + page.URL
	if _, dup := s.pageKeys[key]; dup {
		return nil
	}
	s.pageKeys[key] = struct{}{}
	s.pages[page.DomainID] = append(s.pages[page.DomainID], page)
	return nil
}

// RecordEmail appends an email row and reports whether the normalized form
// was new for the domain.
func (s *Store) RecordEmail(_ context.Context, email extract.EmailRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := email.DomainID + "\x00" + email.Normalized
	if _, dup := s.emailSet[key]; dup {
		return false, nil
	}
	s.emailSet[key] = struct{}{}
	s.emails[email.DomainID] = append(s.emails[email.DomainID], email)
	return true, nil
}

// ListDomainEmails returns the normalized forms recorded for a domain item.
func (s *Store) ListDomainEmails(_ context.Context, domainID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.emails[domainID]
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Normalized)
	}
	return out, nil
}

// ListDomains returns a search's domain items in insertion order, optionally
// filtered by status.
func (s *Store) ListDomains(_ context.Context, searchID string, status *extract.DomainStatus) ([]extract.DomainItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.searches[searchID]; !ok {
		return nil, extract.ErrNotFound
	}
	var out []extract.DomainItem
	for _, id := range s.bySearch[searchID] {
		item := s.domains[id]
		if status != nil && item.Status != *status {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// ListSearchEmails returns the search's emails deduplicated by normalized
// form across its domains, in discovery order.
func (s *Store) ListSearchEmails(_ context.Context, searchID string) ([]extract.EmailRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.searches[searchID]; !ok {
		return nil, extract.ErrNotFound
	}
	seen := make(map[string]struct{})
	var out []extract.EmailRecord
	for _, id := range s.bySearch[searchID] {
		for _, rec := range s.emails[id] {
			if _, dup := seen[rec.Normalized]; dup {
				continue
			}
			seen[rec.Normalized] = struct{}{}
			out = append(out, rec)
		}
	}
	return out, nil
}

// SearchStatistics aggregates domain, page, and email counts at read time.
func (s *Store) SearchStatistics(_ context.Context, searchID string, now time.Time) (extract.SearchStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search, ok := s.searches[searchID]
	if !ok {
		return extract.SearchStatistics{}, extract.ErrNotFound
	}
	stats := extract.SearchStatistics{
		SearchID:     searchID,
		TotalDomains: len(s.bySearch[searchID]),
	}
	for _, id := range s.bySearch[searchID] {
		item := s.domains[id]
		switch item.Status {
		case extract.DomainStatusCompleted:
			stats.DomainsCompleted++
		case extract.DomainStatusFailed:
			stats.DomainsFailed++
		}
		stats.TotalPagesCrawled += item.PagesCrawled
		stats.TotalEmailsFound += item.EmailsFound
	}
	if search.StartedAt != nil {
		end := now.UTC()
		if search.CompletedAt != nil {
			end = *search.CompletedAt
		}
		secs := int64(end.Sub(*search.StartedAt) / time.Second)
		stats.DurationSeconds = &secs
	}
	return stats, nil
}

// RecordMetric appends an advisory counter.
func (s *Store) RecordMetric(_ context.Context, metric extract.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, metric)
	return nil
}
