//go:build linux

package iotap

import (
	"context"
	"fmt"
	"net"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// rawRecvTimeout bounds each blocking recv so ReadFrame can notice ctx
// cancellation between attempts, the same polling idiom the pack's
// AF_PACKET capture loop uses around a non-cancelable syscall.
const rawRecvTimeout = 200 * time.Millisecond

func htons(v uint16) uint16 {
	return (v<<8)&0xff00 | (v >> 8)
}

// WireSocket is a WireIO backed by an AF_PACKET raw socket bound to the
// named interface, the shared L2 segment every mesh node listens on.
type WireSocket struct {
	fd  int
	buf [PacketBufferSize]byte
}

// OpenWireSocket binds an AF_PACKET socket to ifaceName, receiving every
// frame the interface sees regardless of destination MAC.
func OpenWireSocket(ifaceName string) (*WireSocket, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("iotap: lookup interface %s: %w", ifaceName, err)
	}
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("iotap: open AF_PACKET socket: %w", err)
	}
	addr := unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: iface.Index}
	if err := unix.Bind(fd, &addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("iotap: bind to %s: %w", ifaceName, err)
	}
	tv := unix.Timeval{Sec: 0, Usec: rawRecvTimeout.Microseconds()}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("iotap: set recv timeout: %w", err)
	}
	return &WireSocket{fd: fd}, nil
}

// ReadFrame polls the socket until a frame arrives or ctx is canceled.
func (w *WireSocket) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, _, err := unix.Recvfrom(w.fd, w.buf[:], 0)
		if err != nil {
			continue // timeout (EAGAIN) or interrupted: re-check ctx and retry
		}
		return w.buf[:n], nil
	}
}

// WriteFrame writes raw onto the wire unchanged; the frame already
// carries its own Ethernet-equivalent destination in the wire header.
func (w *WireSocket) WriteFrame(raw []byte) error {
	_, err := unix.Write(w.fd, raw)
	if err != nil {
		return fmt.Errorf("iotap: write wire frame: %w", err)
	}
	return nil
}

func (w *WireSocket) Close() error {
	return unix.Close(w.fd)
}

// TAP device constants, mirroring <linux/if_tun.h>.
const (
	iffTAP     = 0x0002
	iffNoPI    = 0x1000
	ifNameSize = 16
)

type ifReq struct {
	Name  [ifNameSize]byte
	Flags uint16
	_     [22]byte
}

// Tap is a TapIO backed by a kernel TAP device created via /dev/net/tun.
type Tap struct {
	fd  int
	buf [PacketBufferSize]byte
}

// OpenTap creates or attaches to the named TAP device.
func OpenTap(name string) (*Tap, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("iotap: open /dev/net/tun: %w", err)
	}
	var req ifReq
	copy(req.Name[:], name)
	req.Flags = iffTAP | iffNoPI
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.TUNSETIFF, uintptr(unsafe.Pointer(&req))); errno != 0 {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("iotap: TUNSETIFF %s: %w", name, errno)
	}
	return &Tap{fd: fd}, nil
}

// ReadFrame blocks until a frame arrives, an error occurs, or ctx is
// canceled. The underlying read is not itself cancelable; ctx
// cancellation is only checked between reads.
func (t *Tap) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := unix.Read(t.fd, t.buf[:])
	if err != nil {
		return nil, fmt.Errorf("iotap: read tap frame: %w", err)
	}
	return t.buf[:n], nil
}

func (t *Tap) WriteFrame(raw []byte) error {
	if _, err := unix.Write(t.fd, raw); err != nil {
		return fmt.Errorf("iotap: write tap frame: %w", err)
	}
	return nil
}

func (t *Tap) Close() error {
	return unix.Close(t.fd)
}
