//go:build !linux

package udp

import (
	"net"
	"time"
)

// Kernel receive timestamps are only wired up on Linux; callers fall
// back to reading the local clock after the receive call returns.

func EnableRxTimestamps(conn *net.UDPConn) error {
	return errNotSupported
}

func TimestampLen() int {
	return 64
}

func TimestampFromOOBData(oob []byte) (time.Time, error) {
	return time.Time{}, errTimestampNotFound
}
