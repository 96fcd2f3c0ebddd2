// Package benchmark measures round-trip delay against a time
// authority with repeated NTP exchanges and prints an HDR histogram
// of the results.
package benchmark

import (
	"context"
	"os"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"go.uber.org/zap"

	"example.com/timeclock/core/client"
)

func RunBenchmark(log *zap.Logger, remoteAddr string, numRequests int, timeout time.Duration) {
	hg := hdrhistogram.New(1, 50_000_000, 5)

	c := &client.NTPClient{
		Log:     zap.NewNop(),
		Address: remoteAddr,
		Histo:   hg,
	}

	t0 := time.Now()
	nerr := 0
	for i := 0; i != numRequests; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		_, err := c.Query(ctx)
		cancel()
		if err != nil {
			nerr++
			log.Info("query failed", zap.Error(err))
		}
	}
	log.Info("benchmark done",
		zap.Int("requests", numRequests),
		zap.Int("failures", nerr),
		zap.Duration("elapsed", time.Since(t0)),
	)
	hg.PercentilesPrint(os.Stdout, 1, 1000.0 /* report in milliseconds */)
}
