package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/hazyhaar/figbridge/jobq"
)

// Metrics holds the bridge instruments. It implements jobq.Observer so the
// queue drives the job and read-back series directly.
type Metrics struct {
	meter metric.Meter

	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter

	JobsTotal    metric.Int64Counter
	JobDuration  metric.Float64Histogram
	JobsPending  metric.Int64UpDownCounter
	ReadsTotal   metric.Int64Counter
	attachedHook metric.Registration
}

// NewMetrics builds a meter provider backed by a dedicated Prometheus
// registry and returns the handler that serves it. attached reports the
// executor liveness for the figbridge_executor_attached gauge; nil reads as
// detached.
func NewMetrics(ctx context.Context, attached func() bool) (*Metrics, http.Handler, error) {
	reg := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("figbridge")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsTotal, err = meter.Int64Counter(
		"figbridge_jobs_total",
		metric.WithDescription("Job transitions by resulting status"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobDuration, err = meter.Float64Histogram(
		"figbridge_job_duration_seconds",
		metric.WithDescription("Time from enqueue to completion or failure"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsPending, err = meter.Int64UpDownCounter(
		"figbridge_jobs_pending",
		metric.WithDescription("Jobs waiting for the executor to poll"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ReadsTotal, err = meter.Int64Counter(
		"figbridge_read_requests_total",
		metric.WithDescription("Read-back request events by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	gauge, err := meter.Int64ObservableGauge(
		"figbridge_executor_attached",
		metric.WithDescription("1 when the executor polled within the attach window"),
	)
	if err != nil {
		return nil, nil, err
	}
	m.attachedHook, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		var v int64
		if attached != nil && attached() {
			v = 1
		}
		o.ObserveInt64(gauge, v)
		return nil
	}, gauge)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// JobChanged implements jobq.Observer.
func (m *Metrics) JobChanged(snap jobq.Snapshot, from jobq.State) {
	ctx := context.Background()
	m.JobsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(snap.Status))))

	switch {
	case from == "" && snap.Status == jobq.StatePending:
		m.JobsPending.Add(ctx, 1)
	case from == jobq.StatePending:
		m.JobsPending.Add(ctx, -1)
	}
	if snap.Status.Terminal() && snap.FinishedAt != nil {
		m.JobDuration.Record(ctx, snap.FinishedAt.Sub(snap.CreatedAt).Seconds(),
			metric.WithAttributes(attribute.String("status", string(snap.Status))))
	}
}

// ReadChanged implements jobq.Observer.
func (m *Metrics) ReadChanged(ev jobq.ReadEvent) {
	m.ReadsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", string(ev.Outcome))))
}

// RecordHTTPRequest records one served request. route should be the router
// pattern, not the raw path, to keep job IDs out of the label set.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", route),
		attribute.String("status", fmt.Sprintf("%dxx", statusCode/100)),
	)
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
}

// Middleware records every request that passes through it. It must be
// mounted on a chi router so the route pattern is resolved after routing.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RecordHTTPRequest(r.Context(), r.Method, route, status, time.Since(start).Seconds())
	})
}
