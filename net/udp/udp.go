// Package udp provides kernel receive timestamps for UDP sockets
// where the platform supports them. Timestamp handling based on
// studying code from the following projects:
// - https://github.com/bsdphk/Ntimed, file udp.c
// - https://github.com/golang/go, package "golang.org/x/sys/unix"
// - https://github.com/facebook/time, package "github.com/facebook/time/ntp/protocol/ntp"
package udp

import (
	"errors"
)

var (
	errTimestampNotFound = errors.New("failed to read timestamp from out of band data")
	errUnexpectedData    = errors.New("failed to read out of band data")
	errNotSupported      = errors.New("kernel timestamping not supported on this platform")
)
