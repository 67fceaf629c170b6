// Package metrics owns the Prometheus registry served on the ops listener.
// Labels are bounded: chi route patterns rather than raw paths, and fixed
// outcome sets for the CMS, link preview and meta resolution counters.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tvdn/tvdn-web/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge

	ratelimitDenied   *prometheus.CounterVec
	ratelimitCapacity *prometheus.CounterVec

	metaResolutions  *prometheus.CounterVec
	cmsRequests      *prometheus.CounterVec
	linkPreviews     *prometheus.CounterVec
	ogRenderDuration prometheus.Histogram
	cspNonces        prometheus.Counter
	cspScripts       prometheus.Counter

	contentSource          *prometheus.GaugeVec
	contentLoadedTimestamp prometheus.Gauge
	contentBundleInfo      *prometheus.GaugeVec

	watcherPolls         prometheus.Counter
	watcherSwaps         prometheus.Counter
	watcherErrors        *prometheus.CounterVec
	bundleLoadDuration   prometheus.Histogram
	watcherLastSuccessTs prometheus.Gauge
	watcherStale         prometheus.Gauge
}

func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx responses by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is running (1) or not (0)",
		}),
		ratelimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Requests rejected by a rate limiter",
		}, []string{"limiter"}),
		ratelimitCapacity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Times a rate limiter's visitor table filled up",
		}, []string{"limiter"}),
		metaResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seo_meta_resolutions_total",
			Help: "Page metadata resolutions by source (static, cms, fallback, default)",
		}, []string{"source"}),
		cmsRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cms_requests_total",
			Help: "CMS lookups by operation and outcome",
		}, []string{"op", "outcome"}),
		linkPreviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkpreview_fetches_total",
			Help: "External link preview fetches by outcome",
		}, []string{"outcome"}),
		ogRenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ogimage_render_duration_seconds",
			Help:    "Time to draw and encode one social card",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		cspNonces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csp_nonces_issued_total",
			Help: "HTML responses rewritten with a fresh CSP nonce",
		}),
		cspScripts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csp_scripts_nonced_total",
			Help: "Script elements given a nonce",
		}),
		contentSource: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "content_source_info",
			Help: "Current site snapshot source (label carries value, gauge is always 1)",
		}, []string{"source"}),
		contentLoadedTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "content_loaded_timestamp_seconds",
			Help: "Unix time the current site snapshot was loaded",
		}),
		contentBundleInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "content_bundle_info",
			Help: "Active site snapshot (label carries identity, value is always 1)",
		}, []string{"sha256"}),
		watcherPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "content_watcher_polls_total",
			Help: "Total watcher poll cycles",
		}),
		watcherSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "content_watcher_swaps_total",
			Help: "Total site snapshot swaps",
		}),
		watcherErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_watcher_errors_total",
			Help: "Watcher errors by stage",
		}, []string{"type"}),
		bundleLoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "content_bundle_load_duration_seconds",
			Help:    "Time to fetch, verify and extract a site bundle",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		watcherLastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "content_watcher_last_success_timestamp_seconds",
			Help: "Unix time of the last successful poll",
		}),
		watcherStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "content_watcher_stale",
			Help: "Whether the content watcher is stale (1) or healthy (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.ratelimitDenied,
		m.ratelimitCapacity,
		m.metaResolutions,
		m.cmsRequests,
		m.linkPreviews,
		m.ogRenderDuration,
		m.cspNonces,
		m.cspScripts,
		m.contentSource,
		m.contentLoadedTimestamp,
		m.contentBundleInfo,
		m.watcherPolls,
		m.watcherSwaps,
		m.watcherErrors,
		m.bundleLoadDuration,
		m.watcherLastSuccessTs,
		m.watcherStale,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) { m.profilingActive.Set(boolGauge(active)) }

// RegisterLimiter exports the size of a limiter's visitor table.
func (m *ServerMetrics) RegisterLimiter(name string, size func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "ratelimit_visitors",
		Help:        "Client IPs currently tracked by a rate limiter",
		ConstLabels: prometheus.Labels{"limiter": name},
	}, func() float64 { return float64(size()) }))
}

func (m *ServerMetrics) IncRateLimitDenied(limiter string) {
	m.ratelimitDenied.WithLabelValues(limiter).Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity(limiter string) {
	m.ratelimitCapacity.WithLabelValues(limiter).Inc()
}

func (m *ServerMetrics) IncMetaResolution(source string) {
	m.metaResolutions.WithLabelValues(source).Inc()
}

// ObserveCMS matches the CMS client's observe hook.
func (m *ServerMetrics) ObserveCMS(op, outcome string) {
	m.cmsRequests.WithLabelValues(op, outcome).Inc()
}

func (m *ServerMetrics) IncLinkPreview(outcome string) {
	m.linkPreviews.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) ObserveOGRender(d time.Duration) {
	m.ogRenderDuration.Observe(d.Seconds())
}

// IncCSPNonce counts one rewritten page and the scripts it carried.
func (m *ServerMetrics) IncCSPNonce(scripts int) {
	m.cspNonces.Inc()
	m.cspScripts.Add(float64(scripts))
}

func (m *ServerMetrics) SetContentSource(source string) {
	m.contentSource.Reset()
	m.contentSource.WithLabelValues(source).Set(1)
}

func (m *ServerMetrics) SetContentLoadedTimestamp(t time.Time) {
	m.contentLoadedTimestamp.Set(float64(t.Unix()))
}

// SetContentBundle records the active snapshot hash. Empty clears it.
func (m *ServerMetrics) SetContentBundle(sha256 string) {
	m.contentBundleInfo.Reset()
	if sha256 != "" {
		m.contentBundleInfo.WithLabelValues(sha256).Set(1)
	}
}

func (m *ServerMetrics) IncWatcherPolls() { m.watcherPolls.Inc() }

func (m *ServerMetrics) IncWatcherSwaps() { m.watcherSwaps.Inc() }

func (m *ServerMetrics) IncWatcherError(stage string) {
	m.watcherErrors.WithLabelValues(stage).Inc()
}

func (m *ServerMetrics) ObserveBundleLoadDuration(seconds float64) {
	m.bundleLoadDuration.Observe(seconds)
}

func (m *ServerMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	m.watcherLastSuccessTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetWatcherStale(stale bool) { m.watcherStale.Set(boolGauge(stale)) }

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
