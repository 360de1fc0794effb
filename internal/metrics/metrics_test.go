package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Registration with promauto is global, so the package initializes its
// metrics exactly once for the whole test binary.
var testMetrics = Init("testns")

func TestGet(t *testing.T) {
	if Get() != testMetrics {
		t.Fatal("Get must return the initialized instance")
	}
}

func TestQueryCounters(t *testing.T) {
	l := Labels{Satellite: "GOES-EAST", Level: "L1b"}

	testMetrics.IncQueriesCompleted(l)
	testMetrics.IncQueriesCompleted(l)
	testMetrics.IncQueriesFailed(l)

	if got := testutil.ToFloat64(testMetrics.QueriesCompleted.WithLabelValues("GOES-EAST", "L1b")); got != 2 {
		t.Errorf("queries completed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(testMetrics.QueriesFailed.WithLabelValues("GOES-EAST", "L1b")); got != 1 {
		t.Errorf("queries failed = %v, want 1", got)
	}
}

func TestFileCounters(t *testing.T) {
	l := Labels{Satellite: "GOES-WEST", Level: "L2", Origin: "remote"}

	testMetrics.AddFilesRecovered(l, 3)
	testMetrics.AddBytesRecovered(l, 2048)
	testMetrics.AddTargetsFailed(l, 2)

	if got := testutil.ToFloat64(testMetrics.FilesRecovered.WithLabelValues("GOES-WEST", "L2", "remote")); got != 3 {
		t.Errorf("files recovered = %v, want 3", got)
	}
	if got := testutil.ToFloat64(testMetrics.BytesRecovered.WithLabelValues("GOES-WEST", "L2", "remote")); got != 2048 {
		t.Errorf("bytes recovered = %v, want 2048", got)
	}
	if got := testutil.ToFloat64(testMetrics.TargetsFailed.WithLabelValues("GOES-WEST", "L2")); got != 2 {
		t.Errorf("targets failed = %v, want 2", got)
	}
}

func TestRetryCounter(t *testing.T) {
	l := Labels{Satellite: "GOES-18", Operation: "download"}

	testMetrics.IncRetryAttempts(l)
	if got := testutil.ToFloat64(testMetrics.RetryAttempts.WithLabelValues("GOES-18", "download")); got != 1 {
		t.Errorf("retry attempts = %v, want 1", got)
	}
}

func TestHistogramsAndGauge(t *testing.T) {
	l := Labels{Satellite: "GOES-16", Level: "L1b"}

	testMetrics.ObserveBundleProcessDuration(l, 0.5)
	testMetrics.ObserveDownloadDuration(l, 0.25)
	testMetrics.ObserveQueryDuration(l, 2)

	if n := testutil.CollectAndCount(testMetrics.BundleProcessDuration); n == 0 {
		t.Error("bundle duration histogram recorded nothing")
	}
	if n := testutil.CollectAndCount(testMetrics.DownloadDuration); n == 0 {
		t.Error("download duration histogram recorded nothing")
	}
	if n := testutil.CollectAndCount(testMetrics.QueryDuration); n == 0 {
		t.Error("query duration histogram recorded nothing")
	}

	testMetrics.SetPendingTargets(4)
	if got := testutil.ToFloat64(testMetrics.PendingTargets); got != 4 {
		t.Errorf("pending targets = %v, want 4", got)
	}
}
