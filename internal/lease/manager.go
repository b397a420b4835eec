// Package lease wraps the store's claim, heartbeat, and release primitives
// with logging and derived timing. The store provides the atomicity; this
// layer provides the policy: how long a lease lives relative to the
// heartbeat cadence.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/extract"
)

// Config controls lease timing. TTL must comfortably exceed the heartbeat
// interval so one delayed heartbeat does not forfeit the lease.
type Config struct {
	HeartbeatInterval time.Duration
	TTLMultiplier     int
}

// Manager issues and maintains domain leases on behalf of workers.
type Manager struct {
	store  extract.Store
	clock  extract.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Manager.
func New(store extract.Store, clock extract.Clock, cfg Config, logger *zap.Logger) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.TTLMultiplier < 2 {
		cfg.TTLMultiplier = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("lease"),
	}
}

// TTL is the lease lifetime handed to the store on each claim.
func (m *Manager) TTL() time.Duration {
	return m.cfg.HeartbeatInterval * time.Duration(m.cfg.TTLMultiplier)
}

// HeartbeatInterval is how often holders should call Heartbeat.
func (m *Manager) HeartbeatInterval() time.Duration {
	return m.cfg.HeartbeatInterval
}

// ClaimNext leases one eligible domain item for workerID. Returns
// extract.ErrNoWork untouched so callers can poll on it.
func (m *Manager) ClaimNext(ctx context.Context, workerID string) (extract.DomainItem, error) {
	item, err := m.store.ClaimDomain(ctx, workerID, m.TTL(), m.clock.Now())
	if errors.Is(err, extract.ErrNoWork) {
		return extract.DomainItem{}, err
	}
	if err != nil {
		return extract.DomainItem{}, fmt.Errorf("claim next domain: %w", err)
	}
	m.logger.Info("domain claimed",
		zap.String("domain_id", item.ID),
		zap.String("search_id", item.SearchID),
		zap.String("domain", item.Domain),
		zap.String("worker_id", workerID),
	)
	return item, nil
}

// Heartbeat refreshes the lease. ErrLeaseLost means the holder must stop
// working the item immediately; another worker may already own it.
func (m *Manager) Heartbeat(ctx context.Context, domainID, workerID string) error {
	err := m.store.HeartbeatDomain(ctx, domainID, workerID, m.clock.Now())
	if errors.Is(err, extract.ErrLeaseLost) {
		m.logger.Warn("lease lost on heartbeat",
			zap.String("domain_id", domainID),
			zap.String("worker_id", workerID),
		)
		return err
	}
	if err != nil {
		return fmt.Errorf("heartbeat domain: %w", err)
	}
	return nil
}

// Release reports the terminal outcome and gives the lease back. A stale
// release returns ErrLeaseLost and leaves the new holder undisturbed.
func (m *Manager) Release(ctx context.Context, domainID, workerID string, outcome extract.DomainOutcome) error {
	err := m.store.ReleaseDomain(ctx, domainID, workerID, outcome)
	if errors.Is(err, extract.ErrLeaseLost) {
		m.logger.Warn("stale release ignored",
			zap.String("domain_id", domainID),
			zap.String("worker_id", workerID),
		)
		return err
	}
	if err != nil {
		return fmt.Errorf("release domain: %w", err)
	}
	m.logger.Info("domain released",
		zap.String("domain_id", domainID),
		zap.String("worker_id", workerID),
		zap.String("status", string(outcome.Status)),
		zap.Int("pages_crawled", outcome.PagesCrawled),
		zap.Int("emails_found", outcome.EmailsFound),
	)
	return nil
}
