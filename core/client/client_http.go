package client

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"example.com/timeclock/base/zaplog"
	"example.com/timeclock/core/timebase"
	"example.com/timeclock/net/ntp"
)

// dateResolution is the granularity of the HTTP Date header; it is
// folded into the uncertainty bound of every HTTP measurement.
const dateResolution = time.Second

// HTTPClient queries a time authority over HTTP by reading the Date
// header of a HEAD response. The authority's receive and send
// timestamps coincide (t1 = t2 = Date), so the round-trip
// compensation degenerates to offset = Date - midpoint(t0, t3).
// Coarser than NTP, but it works through proxies and firewalls.
type HTTPClient struct {
	Log    *zap.Logger // optional; zaplog.Logger() if nil
	URL    string
	Client *http.Client // optional; http.DefaultClient if nil
}

var _ TimeClient = (*HTTPClient)(nil)

func (c *HTTPClient) logger() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zaplog.Logger()
}

func (c *HTTPClient) Query(ctx context.Context) (Measurement, error) {
	m := mtrcs.Load()
	log := c.logger()

	hc := c.Client
	if hc == nil {
		hc = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.URL, nil)
	if err != nil {
		return Measurement{}, classify(err)
	}

	cTxTime := timebase.Now()
	resp, err := hc.Do(req)
	cRxTime := timebase.Now()
	if err != nil {
		return Measurement{}, classify(err)
	}
	defer resp.Body.Close()
	m.reqsSent.Inc()
	m.pktsReceived.Inc()

	if resp.StatusCode >= 400 {
		qe := &QueryError{Reason: ReasonAuthorityRejected}
		if s := resp.Header.Get("Retry-After"); s != "" {
			if d, err := time.ParseDuration(s + "s"); err == nil {
				qe.RetryAfter = d
			}
		}
		return Measurement{}, qe
	}

	date := resp.Header.Get("Date")
	if date == "" {
		return Measurement{}, &QueryError{Reason: ReasonMalformedResponse, Err: errNoDateHeader}
	}
	sTime, err := http.ParseTime(date)
	if err != nil {
		return Measurement{}, &QueryError{Reason: ReasonMalformedResponse, Err: err}
	}

	off := ntp.ClockOffset(cTxTime, sTime, sTime, cRxTime)

	log.Debug("measured clock offset",
		zap.String("to", c.URL),
		zap.Duration("offset", off),
		zap.Duration("round trip delay", cRxTime.Sub(cTxTime)),
	)
	m.respsAccepted.Inc()

	return Measurement{
		Offset:      off,
		Uncertainty: ntp.Uncertainty(cTxTime, sTime, sTime, cRxTime) + dateResolution/2,
		ServerTime:  sTime,
	}, nil
}
