package auction

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts coordinator activity. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	dedup    *prometheus.CounterVec
	inits    *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered, which is what tests that don't scrape want.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_auction_requests_total",
			Help: "Auction requests by result (success, error).",
		}, []string{"result"}),
		dedup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_auction_dedup_total",
			Help: "Auctions refused by the dedup registries, by reason.",
		}, []string{"reason"}),
		inits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_init_total",
			Help: "Init calls by outcome status and skip reason.",
		}, []string{"status", "reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prism_auction_duration_seconds",
			Help:    "Wall time of an auction including retries.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.dedup, err = register(reg, m.dedup); err != nil {
		return nil, err
	}
	if m.inits, err = register(reg, m.inits); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// register adopts an identical collector registered earlier, so several
// clients can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observeAuction(seconds float64, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.requests.WithLabelValues(result).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) observeDedup(err error) {
	if m == nil {
		return
	}
	switch {
	case errors.Is(err, ErrAlreadyCompleted):
		m.dedup.WithLabelValues(string(SkipAlreadyCompleted)).Inc()
	case errors.Is(err, ErrAlreadyPending):
		m.dedup.WithLabelValues(string(SkipAlreadyPending)).Inc()
	}
}

func (m *Metrics) observeInit(r InitResult) {
	if m == nil {
		return
	}
	m.inits.WithLabelValues(r.Status.String(), string(r.Reason)).Inc()
}
