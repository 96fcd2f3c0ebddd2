package client

import (
	"context"
	"net"
	"net/netip"

	"github.com/HdrHistogram/hdrhistogram-go"

	"go.uber.org/zap"

	"example.com/timeclock/base/zaplog"
	"example.com/timeclock/core/timebase"
	"example.com/timeclock/net/ntp"
	"example.com/timeclock/net/udp"
)

const maxNumRetries = 2

// NTPClient queries an NTP authority over UDP. One exchange records
// the local send timestamp t0 and receive timestamp t3 (from the
// kernel where available) and reads the authority's receive and send
// timestamps t1 and t2 from the response.
type NTPClient struct {
	Log     *zap.Logger // optional; zaplog.Logger() if nil
	Address string      // authority "host:port", port defaults to 123

	// Histo, if set, records round-trip delays in microseconds.
	Histo *hdrhistogram.Histogram
}

var _ TimeClient = (*NTPClient)(nil)

func compareAddrs(x, y netip.Addr) int {
	return x.Unmap().Compare(y.Unmap())
}

func (c *NTPClient) logger() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zaplog.Logger()
}

func (c *NTPClient) Query(ctx context.Context) (Measurement, error) {
	m := mtrcs.Load()
	log := c.logger()

	remoteAddr, err := net.ResolveUDPAddr("udp", c.Address)
	if err != nil {
		return Measurement{}, classify(err)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return Measurement{}, classify(err)
	}
	defer conn.Close()
	deadline, deadlineIsSet := ctx.Deadline()
	if deadlineIsSet {
		err = conn.SetDeadline(deadline)
		if err != nil {
			return Measurement{}, classify(err)
		}
	}
	err = udp.EnableRxTimestamps(conn)
	if err != nil {
		log.Debug("kernel rx timestamps unavailable", zap.Error(err))
	}

	buf := make([]byte, ntp.PacketLen)

	cTxTime := timebase.Now()

	ntpreq := ntp.Packet{}
	ntpreq.SetVersion(ntp.VersionMax)
	ntpreq.SetMode(ntp.ModeClient)
	ntpreq.TransmitTime = ntp.Time64FromTime(cTxTime)
	ntp.EncodePacket(&buf, &ntpreq)

	n, err := conn.WriteToUDPAddrPort(buf, remoteAddr.AddrPort())
	if err != nil {
		return Measurement{}, classify(err)
	}
	if n != len(buf) {
		return Measurement{}, classify(errWrite)
	}
	m.reqsSent.Inc()

	numRetries := 0
	oob := make([]byte, udp.TimestampLen())
	for {
		buf = buf[:cap(buf)]
		oob = oob[:cap(oob)]
		n, oobn, flags, srcAddr, err := conn.ReadMsgUDPAddrPort(buf, oob)
		if err != nil {
			return Measurement{}, classify(err)
		}
		if flags != 0 {
			if numRetries != maxNumRetries && deadlineIsSet && timebase.Now().Before(deadline) {
				log.Info("failed to read packet", zap.Int("flags", flags))
				numRetries++
				continue
			}
			return Measurement{}, classify(errUnexpectedPacketFlags)
		}
		oob = oob[:oobn]
		cRxTime, err := udp.TimestampFromOOBData(oob)
		if err != nil {
			cRxTime = timebase.Now()
		}
		buf = buf[:n]
		m.pktsReceived.Inc()

		if compareAddrs(srcAddr.Addr(), remoteAddr.AddrPort().Addr()) != 0 {
			if numRetries != maxNumRetries && deadlineIsSet && timebase.Now().Before(deadline) {
				log.Info("received packet from unexpected source")
				numRetries++
				continue
			}
			return Measurement{}, &QueryError{Reason: ReasonMalformedResponse, Err: errUnexpectedPacketSource}
		}

		var ntpresp ntp.Packet
		err = ntp.DecodePacket(&ntpresp, buf)
		if err != nil {
			if numRetries != maxNumRetries && deadlineIsSet && timebase.Now().Before(deadline) {
				log.Info("failed to decode packet payload", zap.Error(err))
				numRetries++
				continue
			}
			return Measurement{}, &QueryError{Reason: ReasonMalformedResponse, Err: err}
		}

		if ntpresp.OriginTime != ntpreq.TransmitTime {
			if numRetries != maxNumRetries && deadlineIsSet && timebase.Now().Before(deadline) {
				log.Info("received unrelated response")
				numRetries++
				continue
			}
			return Measurement{}, &QueryError{Reason: ReasonMalformedResponse, Err: errUnrelatedResponse}
		}

		err = ntp.ValidateResponseMetadata(&ntpresp)
		if err != nil {
			return Measurement{}, classifyResponse(err)
		}

		sRxTime := ntp.TimeFromTime64(ntpresp.ReceiveTime, cTxTime)
		sTxTime := ntp.TimeFromTime64(ntpresp.TransmitTime, cTxTime)

		err = ntp.ValidateResponseTimestamps(cTxTime, sRxTime, sTxTime, cRxTime)
		if err != nil {
			return Measurement{}, &QueryError{Reason: ReasonMalformedResponse, Err: err}
		}

		off := ntp.ClockOffset(cTxTime, sRxTime, sTxTime, cRxTime)
		rtd := ntp.RoundTripDelay(cTxTime, sRxTime, sTxTime, cRxTime)

		log.Debug("measured clock offset",
			zap.String("to", c.Address),
			zap.Duration("offset", off),
			zap.Duration("round trip delay", rtd),
		)

		if c.Histo != nil {
			err = c.Histo.RecordValue(rtd.Microseconds())
			if err != nil {
				log.Info("failed to record histogram value", zap.Error(err))
			}
		}
		m.respsAccepted.Inc()

		return Measurement{
			Offset:      off,
			Uncertainty: ntp.Uncertainty(cTxTime, sRxTime, sTxTime, cRxTime),
			ServerTime:  sTxTime,
		}, nil
	}
}

func classifyResponse(err error) *QueryError {
	if qe := classify(err); qe.Reason != ReasonNetworkUnreachable {
		return qe
	}
	return &QueryError{Reason: ReasonMalformedResponse, Err: err}
}
