// Package controller implements the search lifecycle: creation, the
// pause/resume/cancel state machine, read-time statistics, and the
// completion check that runs after every domain release.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/extract"
	"github.com/mailsift/mailsift/internal/metrics"
)

// MaxDomainsPerSearch caps one submission.
const MaxDomainsPerSearch = 10000

// ErrValidation marks a rejected create request.
var ErrValidation = errors.New("invalid search request")

// CreateRequest is a new search submission.
type CreateRequest struct {
	Name    string   `json:"name,omitempty"`
	Domains []string `json:"domains"`
}

// Controller coordinates search lifecycle operations over the Store.
type Controller struct {
	store     extract.Store
	ids       extract.IDGenerator
	clock     extract.Clock
	publisher extract.Publisher
	topic     string
	logger    *zap.Logger
}

// New constructs a Controller. publisher may be nil when events are disabled.
func New(
	store extract.Store,
	ids extract.IDGenerator,
	clock extract.Clock,
	publisher extract.Publisher,
	topic string,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:     store,
		ids:       ids,
		clock:     clock,
		publisher: publisher,
		topic:     topic,
		logger:    logger.Named("controller"),
	}
}

// Create validates the submission, persists the search with its domain
// items, and starts it immediately.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (extract.Search, error) {
	domains := cleanDomains(req.Domains)
	if len(domains) == 0 {
		return extract.Search{}, fmt.Errorf("%w: at least one domain is required", ErrValidation)
	}
	if len(domains) > MaxDomainsPerSearch {
		return extract.Search{}, fmt.Errorf("%w: at most %d domains per search, got %d",
			ErrValidation, MaxDomainsPerSearch, len(domains))
	}

	searchID, err := c.ids.NewID()
	if err != nil {
		return extract.Search{}, fmt.Errorf("generate search id: %w", err)
	}
	now := c.clock.Now()
	search := extract.Search{
		ID:           searchID,
		Name:         strings.TrimSpace(req.Name),
		TotalDomains: len(domains),
		Status:       extract.SearchStatusPending,
		CreatedAt:    now,
	}

	items := make([]extract.DomainItem, 0, len(domains))
	for _, domain := range domains {
		itemID, idErr := c.ids.NewID()
		if idErr != nil {
			return extract.Search{}, fmt.Errorf("generate domain id: %w", idErr)
		}
		items = append(items, extract.DomainItem{
			ID:       itemID,
			SearchID: searchID,
			Domain:   domain,
			URL:      "https://" + domain,
			Status:   extract.DomainStatusPending,
		})
	}

	if err := c.store.CreateSearch(ctx, search, items); err != nil {
		return extract.Search{}, fmt.Errorf("create search: %w", err)
	}
	// Searches start immediately; pending only exists between these two
	// statements.
	if err := c.store.StartSearch(ctx, searchID, now); err != nil {
		return extract.Search{}, fmt.Errorf("start search: %w", err)
	}
	metrics.ObserveSearchTransition(string(extract.SearchStatusInProgress))
	c.logger.Info("search created",
		zap.String("search_id", searchID),
		zap.String("name", search.Name),
		zap.Int("total_domains", len(items)),
	)
	return c.store.GetSearch(ctx, searchID)
}

// Get returns one search.
func (c *Controller) Get(ctx context.Context, searchID string) (extract.Search, error) {
	return c.store.GetSearch(ctx, searchID)
}

// List returns searches, newest first.
func (c *Controller) List(ctx context.Context, filter extract.SearchFilter) ([]extract.Search, error) {
	return c.store.ListSearches(ctx, filter)
}

// Pause stops further claims; leased domains finish their current run.
func (c *Controller) Pause(ctx context.Context, searchID string) error {
	if err := c.store.PauseSearch(ctx, searchID); err != nil {
		return err
	}
	metrics.ObserveSearchTransition(string(extract.SearchStatusPaused))
	c.logger.Info("search paused", zap.String("search_id", searchID))
	return nil
}

// Resume reopens a paused search for claims. The last domain release may
// have landed while the search was paused, in which case nothing will
// trigger the completion check again, so it runs here too.
func (c *Controller) Resume(ctx context.Context, searchID string) error {
	if err := c.store.ResumeSearch(ctx, searchID); err != nil {
		return err
	}
	metrics.ObserveSearchTransition(string(extract.SearchStatusInProgress))
	c.logger.Info("search resumed", zap.String("search_id", searchID))
	c.checkCompletion(ctx, searchID)
	return nil
}

// Cancel terminates the search. Workers holding leases notice at release
// time; their in-flight results are kept.
func (c *Controller) Cancel(ctx context.Context, searchID string) error {
	if err := c.store.CancelSearch(ctx, searchID, c.clock.Now()); err != nil {
		return err
	}
	metrics.ObserveSearchTransition(string(extract.SearchStatusCancelled))
	c.logger.Info("search cancelled", zap.String("search_id", searchID))
	return nil
}

// Statistics returns the read-time aggregate for a search.
func (c *Controller) Statistics(ctx context.Context, searchID string) (extract.SearchStatistics, error) {
	return c.store.SearchStatistics(ctx, searchID, c.clock.Now())
}

// Domains lists the search's domain items, optionally filtered by status.
func (c *Controller) Domains(ctx context.Context, searchID string, status *extract.DomainStatus) ([]extract.DomainItem, error) {
	return c.store.ListDomains(ctx, searchID, status)
}

// Emails lists the search's discovered emails, deduplicated across domains.
func (c *Controller) Emails(ctx context.Context, searchID string) ([]extract.EmailRecord, error) {
	return c.store.ListSearchEmails(ctx, searchID)
}

// OnDomainReleased runs after a worker releases a domain: publish the
// domain event, then complete the search if this was the last item.
func (c *Controller) OnDomainReleased(ctx context.Context, item extract.DomainItem, outcome extract.DomainOutcome) {
	c.publish(ctx, "domain."+string(outcome.Status), map[string]any{
		"search_id":     item.SearchID,
		"domain_id":     item.ID,
		"domain":        item.Domain,
		"status":        string(outcome.Status),
		"pages_crawled": outcome.PagesCrawled,
		"emails_found":  outcome.EmailsFound,
		"timestamp":     c.clock.Now().Format(time.RFC3339),
	})

	c.checkCompletion(ctx, item.SearchID)
}

// checkCompletion completes the search when every domain item is terminal
// and publishes the search.completed event.
func (c *Controller) checkCompletion(ctx context.Context, searchID string) {
	done, err := c.store.CompleteSearchIfDone(ctx, searchID, c.clock.Now())
	if err != nil {
		c.logger.Error("completion check failed",
			zap.String("search_id", searchID), zap.Error(err))
		return
	}
	if !done {
		return
	}
	metrics.ObserveSearchTransition(string(extract.SearchStatusCompleted))
	c.logger.Info("search completed", zap.String("search_id", searchID))
	c.publish(ctx, "search.completed", map[string]any{
		"search_id": searchID,
		"timestamp": c.clock.Now().Format(time.RFC3339),
	})
}

func (c *Controller) publish(ctx context.Context, event string, payload map[string]any) {
	if c.publisher == nil || c.topic == "" {
		return
	}
	payload["event"] = event
	if _, err := c.publisher.Publish(ctx, c.topic, payload); err != nil {
		c.logger.Warn("publish event failed", zap.String("event", event), zap.Error(err))
	}
}

// cleanDomains trims, lowercases, strips scheme/path noise, and dedupes
// while preserving submission order.
func cleanDomains(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, d := range raw {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "http://")
		d = strings.TrimPrefix(d, "https://")
		if i := strings.IndexByte(d, '/'); i >= 0 {
			d = d[:i]
		}
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
