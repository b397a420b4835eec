package controller

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/extract"
	"github.com/mailsift/mailsift/internal/storage/memory"
)

var testTime = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "id-" + strconv.Itoa(g.n), nil
}

type capturingPublisher struct {
	mu       sync.Mutex
	messages []map[string]any
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, payload.(map[string]any))
	return "msg-" + strconv.Itoa(len(p.messages)), nil
}

func (p *capturingPublisher) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m["event"].(string))
	}
	return out
}

func newController(t *testing.T) (*Controller, *memory.Store, *capturingPublisher, *fixedClock) {
	t.Helper()
	store := memory.New()
	pub := &capturingPublisher{}
	clock := &fixedClock{now: testTime}
	ctrl := New(store, &seqIDs{}, clock, pub, "extractor-events", zap.NewNop())
	return ctrl, store, pub, clock
}

func TestCreateAutoStartsAndCleansDomains(t *testing.T) {
	t.Parallel()

	ctrl, store, _, _ := newController(t)

	search, err := ctrl.Create(context.Background(), CreateRequest{
		Name: "  spring outreach  ",
		Domains: []string{
			"Widgets.com",
			"https://widgets.com/contact",
			"  gadgets.net  ",
			"",
			"http://gadgets.net",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "spring outreach", search.Name)
	require.Equal(t, extract.SearchStatusInProgress, search.Status)
	require.Equal(t, 2, search.TotalDomains)
	require.NotNil(t, search.StartedAt)

	items, err := store.ListDomains(context.Background(), search.ID, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "widgets.com", items[0].Domain)
	require.Equal(t, "https://widgets.com", items[0].URL)
	require.Equal(t, "gadgets.net", items[1].Domain)
}

func TestCreateRejectsEmptyAndOversized(t *testing.T) {
	t.Parallel()

	ctrl, _, _, _ := newController(t)

	_, err := ctrl.Create(context.Background(), CreateRequest{Domains: []string{" ", ""}})
	require.ErrorIs(t, err, ErrValidation)

	big := make([]string, MaxDomainsPerSearch+1)
	for i := range big {
		big[i] = "host" + strconv.Itoa(i) + ".com"
	}
	_, err = ctrl.Create(context.Background(), CreateRequest{Domains: big})
	require.ErrorIs(t, err, ErrValidation)
}

func TestPauseResumeCancel(t *testing.T) {
	t.Parallel()

	ctrl, store, _, _ := newController(t)
	search, err := ctrl.Create(context.Background(), CreateRequest{Domains: []string{"a.com"}})
	require.NoError(t, err)

	require.NoError(t, ctrl.Pause(context.Background(), search.ID))
	got, err := store.GetSearch(context.Background(), search.ID)
	require.NoError(t, err)
	require.Equal(t, extract.SearchStatusPaused, got.Status)

	require.ErrorIs(t, ctrl.Pause(context.Background(), search.ID), extract.ErrInvalidTransition)

	require.NoError(t, ctrl.Resume(context.Background(), search.ID))
	require.NoError(t, ctrl.Cancel(context.Background(), search.ID))
	got, err = store.GetSearch(context.Background(), search.ID)
	require.NoError(t, err)
	require.Equal(t, extract.SearchStatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)

	require.ErrorIs(t, ctrl.Resume(context.Background(), search.ID), extract.ErrInvalidTransition)
	require.ErrorIs(t, ctrl.Cancel(context.Background(), "missing"), extract.ErrNotFound)
}

func TestOnDomainReleasedCompletesSearchAndPublishes(t *testing.T) {
	t.Parallel()

	ctrl, store, pub, clock := newController(t)
	search, err := ctrl.Create(context.Background(), CreateRequest{Domains: []string{"a.com", "b.com"}})
	require.NoError(t, err)

	items, err := store.ListDomains(context.Background(), search.ID, nil)
	require.NoError(t, err)

	for i := range items {
		claimed, claimErr := store.ClaimDomain(context.Background(), "w1", time.Minute, clock.now)
		require.NoError(t, claimErr)
		outcome := extract.DomainOutcome{Status: extract.DomainStatusCompleted, PagesCrawled: 1}
		require.NoError(t, store.ReleaseDomain(context.Background(), claimed.ID, "w1", outcome))
		ctrl.OnDomainReleased(context.Background(), claimed, outcome)

		got, getErr := store.GetSearch(context.Background(), search.ID)
		require.NoError(t, getErr)
		if i == 0 {
			require.Equal(t, extract.SearchStatusInProgress, got.Status)
		} else {
			require.Equal(t, extract.SearchStatusCompleted, got.Status)
		}
	}

	require.Equal(t,
		[]string{"domain.completed", "domain.completed", "search.completed"},
		pub.events())
}

func TestResumeCompletesSearchFinishedWhilePaused(t *testing.T) {
	t.Parallel()

	ctrl, store, pub, clock := newController(t)
	search, err := ctrl.Create(context.Background(), CreateRequest{Domains: []string{"a.com"}})
	require.NoError(t, err)

	claimed, err := store.ClaimDomain(context.Background(), "w1", time.Minute, clock.now)
	require.NoError(t, err)

	// Pause lands while the only domain is still leased; the worker is
	// allowed to finish and release it.
	require.NoError(t, ctrl.Pause(context.Background(), search.ID))
	outcome := extract.DomainOutcome{Status: extract.DomainStatusCompleted, PagesCrawled: 1}
	require.NoError(t, store.ReleaseDomain(context.Background(), claimed.ID, "w1", outcome))
	ctrl.OnDomainReleased(context.Background(), claimed, outcome)

	// The release-time completion check cannot fire on a paused search.
	got, err := store.GetSearch(context.Background(), search.ID)
	require.NoError(t, err)
	require.Equal(t, extract.SearchStatusPaused, got.Status)

	// Resume is the last transition that will ever happen, so it must run
	// the completion check itself.
	require.NoError(t, ctrl.Resume(context.Background(), search.ID))
	got, err = store.GetSearch(context.Background(), search.ID)
	require.NoError(t, err)
	require.Equal(t, extract.SearchStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, []string{"domain.completed", "search.completed"}, pub.events())
}

func TestStatisticsPassesThroughClock(t *testing.T) {
	t.Parallel()

	ctrl, _, _, clock := newController(t)
	search, err := ctrl.Create(context.Background(), CreateRequest{Domains: []string{"a.com"}})
	require.NoError(t, err)

	clock.now = clock.now.Add(45 * time.Second)
	stats, err := ctrl.Statistics(context.Background(), search.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalDomains)
	require.NotNil(t, stats.DurationSeconds)
	require.Equal(t, int64(45), *stats.DurationSeconds)
}
