package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors so tests can use a private registry.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	SalesTotal          *prometheus.CounterVec
	StockRejections     prometheus.Counter
	ReturnsTotal        *prometheus.CounterVec
	LowStockProducts    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		SalesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopstock_sales_total",
				Help: "Sale mutations committed, by action",
			},
			[]string{"action"},
		),
		StockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopstock_stock_rejections_total",
			Help: "Mutations rejected by an availability check",
		}),
		ReturnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopstock_returns_total",
				Help: "Returns created, by category",
			},
			[]string{"category"},
		),
		LowStockProducts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shopstock_low_stock_products",
			Help: "Products at or below their reorder threshold at the last scan",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.HTTPRequestsTotal, m.HTTPRequestDuration, m.SalesTotal,
			m.StockRejections, m.ReturnsTotal, m.LowStockProducts)
	}
	return m
}

// Middleware records request count and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "undefined"
		}

		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
	}
}
