package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/timeclock/base/metrics"
)

// Measurement is the result of one successful exchange with a time
// authority. Offset is the estimated difference between the authority
// clock and the local clock; the true offset lies within
// Offset +/- Uncertainty under the symmetric-delay assumption.
type Measurement struct {
	Offset      time.Duration
	Uncertainty time.Duration
	ServerTime  time.Time
}

// TimeClient performs a single time exchange. Implementations hold no
// shared mutable state; the caller guarantees at most one in-flight
// query.
type TimeClient interface {
	Query(ctx context.Context) (Measurement, error)
}

type clientMetrics struct {
	reqsSent      prometheus.Counter
	pktsReceived  prometheus.Counter
	respsAccepted prometheus.Counter
}

var mtrcs atomic.Pointer[clientMetrics]

func init() {
	mtrcs.Store(newClientMetrics())
}

func newClientMetrics() *clientMetrics {
	return &clientMetrics{
		reqsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientReqsSentN,
			Help: metrics.ClientReqsSentH,
		}),
		pktsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientPktsReceivedN,
			Help: metrics.ClientPktsReceivedH,
		}),
		respsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ClientRespsAcceptedN,
			Help: metrics.ClientRespsAcceptedH,
		}),
	}
}
