package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	first := crawlerJobsTotal
	Init()
	require.NotNil(t, first)
	require.Same(t, first, crawlerJobsTotal)
}

func TestObservers(t *testing.T) {
	Init()

	ObserveJob("done", 3*time.Second)
	require.Equal(t, float64(1), testutil.ToFloat64(crawlerJobsTotal.WithLabelValues("done")))
	require.Positive(t, testutil.CollectAndCount(crawlerJobDurationSeconds))

	ObserveSkip("HTTP_403")
	ObserveSkip("HTTP_403")
	require.Equal(t, float64(2), testutil.ToFloat64(crawlerSkipsTotal.WithLabelValues("HTTP_403")))

	ObservePage("imprint", "ok")
	require.Equal(t, float64(1), testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("imprint", "ok")))

	before := testutil.ToFloat64(crawlerEmailsFoundTotal)
	ObserveEmailsFound(3)
	ObserveEmailsFound(0)
	require.Equal(t, before+3, testutil.ToFloat64(crawlerEmailsFoundTotal))

	IncActiveCrawls()
	IncActiveCrawls()
	DecActiveCrawls()
	require.Equal(t, float64(1), testutil.ToFloat64(crawlerActiveCrawls))
	DecActiveCrawls()

	ObserveClaimError()
	ObserveRobotsFallback()
	ObserveRateLimitDelay(250 * time.Millisecond)
	require.Positive(t, testutil.ToFloat64(crawlerClaimErrorsTotal))
	require.Positive(t, testutil.ToFloat64(crawlerRobotsFallbackTotal))
	require.Positive(t, testutil.CollectAndCount(crawlerRateLimitDelaysSeconds))
}
