package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, fetchTotal)
	require.NotNil(t, dispatchTotal)
	require.NotNil(t, httpRequestsTotal)
	require.NotNil(t, tasksInFlight)
}

func TestObserveFetch(t *testing.T) {
	before := testutil.ToFloat64(counterFor(ResultParse))
	ObserveFetch(ResultParse, 10*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(counterFor(ResultParse)))
}

func TestObserveDispatch(t *testing.T) {
	Init()
	before := testutil.ToFloat64(dispatchTotal.WithLabelValues("neuroscope", ResultCorrupt))
	ObserveDispatch("neuroscope", ResultCorrupt)
	require.Equal(t, before+1, testutil.ToFloat64(dispatchTotal.WithLabelValues("neuroscope", ResultCorrupt)))
}

func TestTasksInFlight(t *testing.T) {
	Init()
	before := testutil.ToFloat64(tasksInFlight)
	IncTasksInFlight()
	require.Equal(t, before+1, testutil.ToFloat64(tasksInFlight))
	DecTasksInFlight()
	require.Equal(t, before, testutil.ToFloat64(tasksInFlight))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}

func counterFor(result string) prometheus.Counter {
	Init()
	return fetchTotal.WithLabelValues(result)
}
