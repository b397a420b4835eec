package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, pagesFetchedTotal)
	require.NotNil(t, domainsTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestCountersBeforeInitAreNoOps(t *testing.T) {
	// Collectors may be nil until Init runs; the helpers must not panic.
	IncPagesFetched()
	IncFetchErrors()
	IncEmailsRecorded()
	ObserveDomainReleased("completed")
	ObserveSearchTransition("in_progress")
	IncActiveWorkers()
	DecActiveWorkers()
	ObserveClaim("no_work")
	ObserveHTTPRequest(http.MethodGet, "/v1/searches", 200, time.Millisecond)
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	IncPagesFetched()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "extractor_pages_fetched_total")
}
