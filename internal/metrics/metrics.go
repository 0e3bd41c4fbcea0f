// Package metrics exposes dispatch activity as Prometheus metrics.
//
// An Observer is an engine.Observer; attach it with engine.WithObserver and
// register it on any prometheus.Registerer:
//
//	reg := prometheus.NewRegistry()
//	obs, err := metrics.New(reg)
//	sys := engine.New(engine.WithObserver(obs))
package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/cascade/internal/engine"
)

const namespace = "cascade"

// Observer counts dispatches by component, event and outcome.
type Observer struct {
	dispatches   *prometheus.CounterVec
	sends        *prometheus.CounterVec
	propagations *prometheus.CounterVec
	fanout       *prometheus.HistogramVec
	lastSeq      prometheus.Gauge
}

var _ engine.Observer = (*Observer)(nil)

// New creates an Observer and registers its collectors on reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Total number of dispatched events by outcome",
			},
			[]string{"component", "event", "outcome"},
		),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sends_total",
				Help:      "Follow-on events enqueued by handlers, by target component",
			},
			[]string{"component"},
		),
		propagations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "propagations_total",
				Help:      "Events forwarded from a child instance to its parent",
			},
			[]string{"component", "event"},
		),
		fanout: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sends_per_dispatch",
				Help:      "Number of follow-on events per handled dispatch",
				Buckets:   []float64{0, 1, 2, 4, 8, 16},
			},
			[]string{"component"},
		),
		lastSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_seq",
			Help:      "Logical clock value of the most recent dispatch",
		}),
	}

	for _, c := range []prometheus.Collector{o.dispatches, o.sends, o.propagations, o.fanout, o.lastSeq} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return o, nil
}

// Observe implements engine.Observer.
func (o *Observer) Observe(_ context.Context, rec engine.TraceRecord) error {
	component := rec.Target.Component
	o.dispatches.WithLabelValues(component, rec.Event, string(rec.Outcome)).Inc()
	o.lastSeq.Set(float64(rec.Seq))

	if rec.Propagated {
		o.propagations.WithLabelValues(component, rec.Event).Inc()
	}
	if rec.Outcome != engine.OutcomeHandled && rec.Outcome != engine.OutcomeMissingInstance {
		return nil
	}
	o.fanout.WithLabelValues(component).Observe(float64(len(rec.Sends)))
	for _, s := range rec.Sends {
		o.sends.WithLabelValues(s.Target.Component).Inc()
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// WriteText writes every gathered metric family in text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
