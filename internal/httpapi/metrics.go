package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codecbridge/webcodecs/internal/resourcemgr"
)

// instanceCollector is a prometheus.Collector that reads the resource
// manager's live registry on every scrape, rather than maintaining
// promauto gauges that would drift between an instance's registration and
// the next scrape.
type instanceCollector struct {
	manager *resourcemgr.Manager
}

var (
	instanceCountDesc = prometheus.NewDesc(
		"codecbridge_instances_total",
		"Number of registered codec instances by kind.",
		[]string{"kind"}, nil,
	)
	queueDepthDesc = prometheus.NewDesc(
		"codecbridge_instance_queue_size",
		"Number of inputs accepted but not yet dispatched to the backend, per instance.",
		[]string{"id", "kind", "group_id"}, nil,
	)
	saturatedDesc = prometheus.NewDesc(
		"codecbridge_instance_saturated",
		"1 if the backend is currently signaling backpressure for this instance.",
		[]string{"id", "kind", "group_id"}, nil,
	)
	backgroundDesc = prometheus.NewDesc(
		"codecbridge_instance_background",
		"1 if the instance has been marked background by its embedder.",
		[]string{"id", "kind", "group_id"}, nil,
	)
)

func (c instanceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- instanceCountDesc
	ch <- queueDepthDesc
	ch <- saturatedDesc
	ch <- backgroundDesc
}

func (c instanceCollector) Collect(ch chan<- prometheus.Metric) {
	views := c.manager.Instances()

	counts := make(map[string]int)
	for _, v := range views {
		counts[v.Kind]++

		ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue,
			float64(v.QueueSize), v.ID, v.Kind, v.GroupID)
		ch <- prometheus.MustNewConstMetric(saturatedDesc, prometheus.GaugeValue,
			boolToFloat(v.Saturated), v.ID, v.Kind, v.GroupID)
		ch <- prometheus.MustNewConstMetric(backgroundDesc, prometheus.GaugeValue,
			boolToFloat(v.Background), v.ID, v.Kind, v.GroupID)
	}
	for kind, n := range counts {
		ch <- prometheus.MustNewConstMetric(instanceCountDesc, prometheus.GaugeValue, float64(n), kind)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
