// Package worker implements the per-domain crawl loop: fetch pages
// breadth-first within budget, extract and normalize email candidates, and
// report the terminal outcome through the lease layer.
package worker

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/extract"
	"github.com/mailsift/mailsift/internal/htmlcontent"
	"github.com/mailsift/mailsift/internal/metrics"
)

// Leases is the slice of the lease manager the worker needs while holding
// a domain.
type Leases interface {
	Heartbeat(ctx context.Context, domainID, workerID string) error
	Release(ctx context.Context, domainID, workerID string, outcome extract.DomainOutcome) error
}

// Worker crawls one claimed domain at a time.
type Worker struct {
	id         string
	leases     Leases
	store      extract.Store
	fetcher    extract.Fetcher
	extractor  extract.ContentExtractor
	normalizer extract.Normalizer
	ids        extract.IDGenerator
	clock      extract.Clock
	budget     extract.Budget
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	id string,
	leases Leases,
	store extract.Store,
	fetcher extract.Fetcher,
	extractor extract.ContentExtractor,
	normalizer extract.Normalizer,
	ids extract.IDGenerator,
	clock extract.Clock,
	budget extract.Budget,
	logger *zap.Logger,
) *Worker {
	if budget.MaxPages <= 0 {
		budget.MaxPages = 20
	}
	if budget.MaxDepth < 0 {
		budget.MaxDepth = 0
	}
	if budget.OverallDeadline <= 0 {
		budget.OverallDeadline = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:         id,
		leases:     leases,
		store:      store,
		fetcher:    fetcher,
		extractor:  extractor,
		normalizer: normalizer,
		ids:        ids,
		clock:      clock,
		budget:     budget,
		logger:     logger.Named("worker").With(zap.String("worker_id", id)),
	}
}

// ID returns the worker identity used for leases.
func (w *Worker) ID() string { return w.id }

type frontierEntry struct {
	url   string
	depth int
}

// Run crawls the claimed item and releases its lease with the outcome.
// extract.ErrLeaseLost means the lease expired mid-crawl and another worker
// owns the item now; nothing further was written.
func (w *Worker) Run(ctx context.Context, item extract.DomainItem) (extract.DomainOutcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, w.budget.OverallDeadline)
	defer cancel()

	log := w.logger.With(
		zap.String("domain_id", item.ID),
		zap.String("search_id", item.SearchID),
		zap.String("domain", item.Domain),
	)
	log.Info("crawl started")

	seedURL := item.URL
	if seedURL == "" {
		seedURL = "https://" + item.Domain
	}

	// A reclaimed item may already have email rows; preload them so the
	// second pass does not double count.
	seenEmails := make(map[string]struct{})
	if existing, err := w.store.ListDomainEmails(runCtx, item.ID); err == nil {
		for _, normalized := range existing {
			seenEmails[normalized] = struct{}{}
		}
	} else {
		log.Warn("preload recorded emails failed", zap.Error(err))
	}

	var (
		seen         = map[string]struct{}{seedURL: {}}
		priority     = []frontierEntry{{url: seedURL, depth: 0}}
		rest         []frontierEntry
		pagesCrawled = item.PagesCrawled
		pagesThisRun int
		seedFailure  string
	)

	pop := func() (frontierEntry, bool) {
		if len(priority) > 0 {
			entry := priority[0]
			priority = priority[1:]
			return entry, true
		}
		if len(rest) > 0 {
			entry := rest[0]
			rest = rest[1:]
			return entry, true
		}
		return frontierEntry{}, false
	}

	for pagesThisRun < w.budget.MaxPages {
		if runCtx.Err() != nil {
			log.Info("crawl budget deadline reached", zap.Int("pages", pagesThisRun))
			break
		}
		entry, ok := pop()
		if !ok {
			break
		}

		if err := w.leases.Heartbeat(runCtx, item.ID, w.id); err != nil {
			log.Warn("abandoning domain", zap.Error(err))
			return extract.DomainOutcome{}, err
		}

		links, _, fetchErr := w.processPage(runCtx, log, item, entry, seenEmails)
		pagesThisRun++
		pagesCrawled++
		if fetchErr != nil && entry.depth == 0 && pagesThisRun == 1 {
			seedFailure = fetchErr.Error()
			break
		}

		if entry.depth >= w.budget.MaxDepth {
			continue
		}
		for _, link := range links {
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
			next := frontierEntry{url: link, depth: entry.depth + 1}
			if htmlcontent.ContactLike(link) {
				priority = append(priority, next)
			} else {
				rest = append(rest, next)
			}
		}
	}

	outcome := extract.DomainOutcome{
		Status:       extract.DomainStatusCompleted,
		PagesCrawled: pagesCrawled,
		EmailsFound:  len(seenEmails),
	}
	if seedFailure != "" {
		outcome.Status = extract.DomainStatusFailed
		outcome.ErrorText = seedFailure
	}

	if err := w.leases.Release(ctx, item.ID, w.id, outcome); err != nil {
		return extract.DomainOutcome{}, err
	}
	w.recordRunMetrics(ctx, item.SearchID, pagesThisRun, len(seenEmails))
	log.Info("crawl finished",
		zap.String("status", string(outcome.Status)),
		zap.Int("pages_crawled", outcome.PagesCrawled),
		zap.Int("emails_found", outcome.EmailsFound),
	)
	return outcome, nil
}

// processPage fetches one URL, records the page row, and records any newly
// discovered emails. Fetch failures are returned so the caller can decide
// whether the failure is fatal (seed page) or not.
func (w *Worker) processPage(
	ctx context.Context,
	log *zap.Logger,
	item extract.DomainItem,
	entry frontierEntry,
	seenEmails map[string]struct{},
) (links []string, emailsNew int, fetchErr error) {
	fetchCtx := ctx
	if w.budget.RequestTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, w.budget.RequestTimeout)
		defer cancel()
	}

	result, err := w.fetcher.Fetch(fetchCtx, entry.url)
	page := extract.PageRecord{
		DomainID:    item.ID,
		URL:         entry.url,
		StatusCode:  result.StatusCode,
		ContentType: result.ContentType,
		FetchedAt:   w.clock.Now(),
	}
	if err != nil {
		page.ErrorText = err.Error()
		metrics.IncFetchErrors()
		log.Debug("page fetch failed", zap.String("url", entry.url), zap.Error(err))
	} else {
		metrics.IncPagesFetched()
	}
	if id, idErr := w.ids.NewID(); idErr == nil {
		page.ID = id
	}
	if storeErr := w.store.RecordPage(ctx, page); storeErr != nil {
		log.Error("record page failed", zap.String("url", entry.url), zap.Error(storeErr))
	}
	if err != nil {
		return nil, 0, err
	}

	for _, raw := range w.extractor.Emails(result.Body, result.ContentType) {
		normalized, normErr := w.normalizer.Normalize(raw)
		if normErr != nil {
			continue
		}
		if _, dup := seenEmails[normalized]; dup {
			continue
		}

		record := extract.EmailRecord{
			DomainID:    item.ID,
			PageID:      page.ID,
			RawEmail:    raw,
			Normalized:  normalized,
			ExtractedAt: w.clock.Now(),
		}
		if id, idErr := w.ids.NewID(); idErr == nil {
			record.ID = id
		}
		fresh, storeErr := w.store.RecordEmail(ctx, record)
		if storeErr != nil {
			// Leave the address out of the seen set so a later page in this
			// run can retry it.
			log.Error("record email failed", zap.String("email", normalized), zap.Error(storeErr))
			continue
		}
		seenEmails[normalized] = struct{}{}
		if fresh {
			emailsNew++
			metrics.IncEmailsRecorded()
			log.Info("email recorded",
				zap.String("url", entry.url),
				zap.String("email", normalized),
			)
		}
	}

	if strings.Contains(result.ContentType, "html") {
		links = w.extractor.Links(result.Body, entry.url)
	}
	return links, emailsNew, nil
}

// recordRunMetrics appends advisory counter rows. Failures are logged only;
// these counters are never authoritative.
func (w *Worker) recordRunMetrics(ctx context.Context, searchID string, pages, emails int) {
	for name, value := range map[string]int64{
		"pages_fetched":   int64(pages),
		"emails_recorded": int64(emails),
	} {
		if value == 0 {
			continue
		}
		metric := extract.Metric{
			SearchID:   searchID,
			Name:       name,
			Value:      value,
			RecordedAt: w.clock.Now(),
		}
		if id, err := w.ids.NewID(); err == nil {
			metric.ID = id
		}
		if err := w.store.RecordMetric(ctx, metric); err != nil {
			w.logger.Debug("record metric failed", zap.String("name", name), zap.Error(err))
		}
	}
}
