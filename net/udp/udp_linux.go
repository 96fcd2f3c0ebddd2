//go:build linux

package udp

import (
	"net"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// EnableRxTimestamps requests software receive timestamps from the
// kernel for conn.
func EnableRxTimestamps(conn *net.UDPConn) error {
	sconn, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var soptErr error
	err = sconn.Control(func(fd uintptr) {
		soptErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1)
	})
	if err != nil {
		return err
	}
	return soptErr
}

func TimestampLen() int {
	return unix.CmsgSpace(int(unsafe.Sizeof(unix.Timespec{})))
}

// TimestampFromOOBData extracts the kernel receive timestamp from the
// out of band data of a received message.
func TimestampFromOOBData(oob []byte) (time.Time, error) {
	for unix.CmsgSpace(0) <= len(oob) {
		h := (*unix.Cmsghdr)(unsafe.Pointer(&oob[0]))
		if h.Len < unix.SizeofCmsghdr || uint64(h.Len) > uint64(len(oob)) {
			return time.Time{}, errUnexpectedData
		}
		if h.Level == unix.SOL_SOCKET && h.Type == unix.SCM_TIMESTAMPNS {
			if uint64(h.Len) != uint64(unix.CmsgSpace(int(unsafe.Sizeof(unix.Timespec{})))) {
				return time.Time{}, errUnexpectedData
			}
			ts := (*unix.Timespec)(unsafe.Pointer(&oob[unix.CmsgSpace(0)]))
			return time.Unix(ts.Unix()), nil
		}
		oob = oob[unix.CmsgSpace(int(h.Len))-unix.CmsgSpace(0):]
	}
	return time.Time{}, errTimestampNotFound
}
