package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Reader provides direct in-process access to collector values, used by
// the health endpoint (spec §7: "database reachable, last successful
// sync per peer, queued offline operations count") without a network
// round trip through the scrape endpoint.
type Reader struct {
	metrics *Metrics
}

func NewReader(m *Metrics) *Reader {
	return &Reader{metrics: m}
}

func (r *Reader) counterValue(c prometheus.Counter) (float64, error) {
	var d dto.Metric
	if err := c.(prometheus.Metric).Write(&d); err != nil {
		return 0, err
	}
	return d.GetCounter().GetValue(), nil
}

func (r *Reader) gaugeValue(g prometheus.Gauge) (float64, error) {
	var d dto.Metric
	if err := g.(prometheus.Metric).Write(&d); err != nil {
		return 0, err
	}
	return d.GetGauge().GetValue(), nil
}

// WriteSuccessRate returns successes / (successes + failures), assuming
// healthy (1.0) until the first write is recorded.
func (r *Reader) WriteSuccessRate() float64 {
	success, err := r.counterValue(r.metrics.WriteSuccessTotal)
	if err != nil {
		return 1.0
	}
	failure, err := r.counterValue(r.metrics.WriteFailureTotal)
	if err != nil {
		return 1.0
	}
	total := success + failure
	if total == 0 {
		return 1.0
	}
	return success / total
}

// PeerHealthScore reads the current syncer.PeerStats score gauge for peer.
func (r *Reader) PeerHealthScore(peer string) (float64, error) {
	gauge, err := r.metrics.PeerHealthScore.GetMetricWithLabelValues(peer)
	if err != nil {
		return 0, fmt.Errorf("peer health score for %s: %w", peer, err)
	}
	return r.gaugeValue(gauge)
}

// PeerRTT reads the current smoothed RTT gauge for peer, in seconds.
func (r *Reader) PeerRTT(peer string) (float64, error) {
	gauge, err := r.metrics.PeerRTT.GetMetricWithLabelValues(peer)
	if err != nil {
		return 0, fmt.Errorf("peer rtt for %s: %w", peer, err)
	}
	return r.gaugeValue(gauge)
}

// OfflineQueueDepth reads the current offline-queue gauge value.
func (r *Reader) OfflineQueueDepth() (float64, error) {
	return r.gaugeValue(r.metrics.OfflineQueueDepth)
}
