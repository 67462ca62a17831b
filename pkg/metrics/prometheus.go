package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ibgp2d"

// Collector iBGP2重算相关的prometheus指标，使用独立的registry
type Collector struct {
	registry *prometheus.Registry

	LSAsDecoded    *prometheus.CounterVec
	LSAsSkipped    prometheus.Counter
	Recomputations *prometheus.CounterVec
	FilterUpdates  prometheus.Counter
	GraphVertices  prometheus.Gauge
	GraphEdges     prometheus.Gauge
	BgpdErrors     prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		LSAsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lsas_decoded_total",
			Help:      "Number of link-state records decoded, by LSA type.",
		}, []string{"type"}),
		LSAsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lsas_skipped_total",
			Help:      "Number of truncated or unsupported link-state records skipped.",
		}),
		Recomputations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recomputations_total",
			Help:      "Number of processed batches, by outcome (computed, unchanged, deferred).",
		}, []string{"result"}),
		FilterUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_updates_total",
			Help:      "Number of per-neighbor filter updates emitted.",
		}),
		GraphVertices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "igp_vertices",
			Help:      "Number of routers in the IGP graph.",
		}),
		GraphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "igp_edges",
			Help:      "Number of directed router adjacencies in the IGP graph.",
		}),
		BgpdErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bgpd_delivery_errors_total",
			Help:      "Number of failed deliveries to the routing daemon.",
		}),
	}

	c.registry.MustRegister(
		c.LSAsDecoded,
		c.LSAsSkipped,
		c.Recomputations,
		c.FilterUpdates,
		c.GraphVertices,
		c.GraphEdges,
		c.BgpdErrors,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 导出指标的HTTP处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
