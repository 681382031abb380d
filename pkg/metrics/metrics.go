// Package metrics provides the Prometheus registry used by the harvester.
// Metrics are defined in their respective packages (stackexchange,
// ratelimit, pagination, pairing) to keep packages self-contained.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the default Prometheus gatherer matching Registry.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// WriteTextfile writes all gathered metrics to path in the text exposition
// format, suitable for the node_exporter textfile collector. A batch run has
// no long-lived endpoint to scrape.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = Gatherer
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/stackexchange):
//   - se_requests_total{endpoint, status} (Counter): requests by endpoint and HTTP status
//   - se_request_duration_seconds{endpoint} (Histogram): request duration
//   - se_errors_total{class} (Counter): errors by class (client, server, rate_limit, network)
//
// Pacing and Quota Metrics (pkg/ratelimit):
//   - se_backoff_directives_total (Counter): backoff directives received
//   - se_request_wait_seconds{reason} (Histogram): wait before a request (spacing, backoff)
//   - se_quota_remaining (Gauge): requests left in the quota window
//   - se_quota_max (Gauge): quota window size
//   - se_quota_warnings_total (Counter): responses reporting a low quota
//
// Fetch Metrics (pkg/pagination):
//   - se_search_pages_fetched_total (Counter): search pages fetched
//   - se_duplicate_questions_total (Counter): duplicate questions dropped
//   - se_answer_groups_total{outcome} (Counter): answer groups by outcome (ok, failed)
//
// Pairing Metrics (pkg/pairing):
//   - se_paired_records_total (Counter): questions paired
//   - se_pairing_anomalies_total{kind} (Counter): anomalies by kind
//
// Example Prometheus Queries:
//
//   # Share of questions lost to pairing anomalies
//   sum(se_pairing_anomalies_total{kind!="orphan_answer"}) /
//   (sum(se_pairing_anomalies_total{kind!="orphan_answer"}) + se_paired_records_total)
//
//   # Quota headroom
//   se_quota_remaining / se_quota_max
