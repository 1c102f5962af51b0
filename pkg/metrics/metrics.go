// Package metrics exports key store, verifier and gate events as
// Prometheus metrics.
//
// A Collector implements jwks.Observer, token.Observer and gate.Observer,
// so one instance can be passed to all three. Metrics are registered on the
// Registerer given to NewCollector; registering twice on the same registry
// reuses the existing collectors.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/gate"
	"github.com/StricklySoft/authcenter-go/pkg/jwks"
	"github.com/StricklySoft/authcenter-go/pkg/token"
)

const namespace = "authcenter"

// resultOK labels successful operations.
const resultOK = "ok"

var (
	_ jwks.Observer  = (*Collector)(nil)
	_ token.Observer = (*Collector)(nil)
	_ gate.Observer  = (*Collector)(nil)
)

// Collector holds the registered metric vectors.
type Collector struct {
	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	keys          prometheus.Gauge
	lastRefresh   prometheus.Gauge
	staleServed   prometheus.Counter
	snapshots     *prometheus.CounterVec

	verifications   *prometheus.CounterVec
	verifyDuration  prometheus.Histogram
	forcedRefreshes *prometheus.CounterVec
	decisions       *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them on reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "fetches_total",
			Help:      "JWKS fetches by result.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of JWKS fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "keys",
			Help:      "Usable signing keys in the current key set.",
		}),
		lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Fetch time of the current key set.",
		}),
		staleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "stale_served_total",
			Help:      "Refresh failures answered with the previous key set.",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwks",
			Name:      "snapshot_operations_total",
			Help:      "Key set snapshot loads and saves by result.",
		}, []string{"op", "result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "verifications_total",
			Help:      "Token verifications by result code.",
		}, []string{"code"}),
		verifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "verification_duration_seconds",
			Help:      "Latency of token verification, including key fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		forcedRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "forced_refreshes_total",
			Help:      "Key set refreshes forced by an unknown kid.",
		}, []string{"recovered"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Authorization decisions by outcome.",
		}, []string{"outcome"}),
	}

	var err error
	if c.fetches, err = register(reg, c.fetches); err != nil {
		return nil, err
	}
	if c.fetchDuration, err = register(reg, c.fetchDuration); err != nil {
		return nil, err
	}
	if c.keys, err = register(reg, c.keys); err != nil {
		return nil, err
	}
	if c.lastRefresh, err = register(reg, c.lastRefresh); err != nil {
		return nil, err
	}
	if c.staleServed, err = register(reg, c.staleServed); err != nil {
		return nil, err
	}
	if c.snapshots, err = register(reg, c.snapshots); err != nil {
		return nil, err
	}
	if c.verifications, err = register(reg, c.verifications); err != nil {
		return nil, err
	}
	if c.verifyDuration, err = register(reg, c.verifyDuration); err != nil {
		return nil, err
	}
	if c.forcedRefreshes, err = register(reg, c.forcedRefreshes); err != nil {
		return nil, err
	}
	if c.decisions, err = register(reg, c.decisions); err != nil {
		return nil, err
	}
	return c, nil
}

// register adds m to reg, returning the collector already registered under
// the same descriptor if there is one.
func register[M prometheus.Collector](reg prometheus.Registerer, m M) (M, error) {
	err := reg.Register(m)
	if err == nil {
		return m, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(M); ok {
			return existing, nil
		}
	}
	return m, sserr.Wrap(err, sserr.CodeInternalConfiguration, "metrics: failed to register collector")
}

func result(err error) string {
	if err == nil {
		return resultOK
	}
	return "error"
}

// FetchCompleted implements jwks.Observer.
func (c *Collector) FetchCompleted(d time.Duration, err error) {
	c.fetches.WithLabelValues(result(err)).Inc()
	c.fetchDuration.Observe(d.Seconds())
}

// KeySetReplaced implements jwks.Observer.
func (c *Collector) KeySetReplaced(set *jwks.KeySet) {
	c.keys.Set(float64(set.Len()))
	c.lastRefresh.Set(float64(set.FetchedAt().UnixNano()) / 1e9)
}

// StaleKeysServed implements jwks.Observer.
func (c *Collector) StaleKeysServed() {
	c.staleServed.Inc()
}

// SnapshotCompleted implements jwks.Observer.
func (c *Collector) SnapshotCompleted(op jwks.SnapshotOp, err error) {
	c.snapshots.WithLabelValues(string(op), result(err)).Inc()
}

// VerificationCompleted implements token.Observer.
func (c *Collector) VerificationCompleted(code sserr.Code, d time.Duration) {
	label := code.String()
	if label == "" {
		label = resultOK
	}
	c.verifications.WithLabelValues(label).Inc()
	c.verifyDuration.Observe(d.Seconds())
}

// ForcedRefresh implements token.Observer.
func (c *Collector) ForcedRefresh(recovered bool) {
	c.forcedRefreshes.WithLabelValues(strconv.FormatBool(recovered)).Inc()
}

// DecisionMade implements gate.Observer.
func (c *Collector) DecisionMade(reason gate.Reason) {
	outcome := string(reason)
	if outcome == "" {
		outcome = "authorized"
	}
	c.decisions.WithLabelValues(outcome).Inc()
}
