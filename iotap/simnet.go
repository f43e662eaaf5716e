package iotap

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a SimPort write once its SimMedium is marked
// closed, and by SimTap reads and writes after SimTap.Close.
var ErrClosed = errors.New("iotap: medium closed")

// SimMedium is an in-memory broadcast medium implementing WireIO for each
// attached port: every frame written on one port is delivered to every
// other port's read queue, the same fan-out behavior a real shared L2
// segment gives every AF_PACKET listener on it. It exists purely for
// tests exercising multi-node scenarios without real sockets.
type SimMedium struct {
	mu     sync.Mutex
	ports  map[*SimPort]struct{}
	closed bool
}

// NewSimMedium constructs an empty medium.
func NewSimMedium() *SimMedium {
	return &SimMedium{ports: make(map[*SimPort]struct{})}
}

// Attach creates a new port on the medium with a bounded receive queue.
func (m *SimMedium) Attach(queueDepth int) *SimPort {
	p := &SimPort{medium: m, rx: make(chan []byte, queueDepth)}
	m.mu.Lock()
	m.ports[p] = struct{}{}
	m.mu.Unlock()
	return p
}

func (m *SimMedium) detach(p *SimPort) {
	m.mu.Lock()
	delete(m.ports, p)
	m.mu.Unlock()
}

func (m *SimMedium) broadcast(from *SimPort, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	for p := range m.ports {
		if p == from {
			continue
		}
		select {
		case p.rx <- cp:
		default: // slow reader drops, matching a real wire's no-backpressure behavior
		}
	}
	return nil
}

// SimPort is a WireIO endpoint on a SimMedium.
type SimPort struct {
	medium *SimMedium
	rx     chan []byte
}

func (p *SimPort) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-p.rx:
		if !ok {
			return nil, ErrClosed
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *SimPort) WriteFrame(raw []byte) error {
	return p.medium.broadcast(p, raw)
}

func (p *SimPort) Close() error {
	p.medium.detach(p)
	return nil
}

// SimTap is an in-memory TapIO: reads return frames queued via Inject,
// modeling a host application sending frames into the local interface
// for the node to pick up, and writes are queued for the Sent channel.
// Writes never loop back as reads.
type SimTap struct {
	mu     sync.Mutex
	rx     chan []byte
	tx     chan []byte
	closed bool
}

// NewSimTap constructs an empty simulated TAP device.
func NewSimTap(queueDepth int) *SimTap {
	return &SimTap{rx: make(chan []byte, queueDepth), tx: make(chan []byte, queueDepth)}
}

// Inject delivers frame to the next ReadFrame call, modeling a frame
// arriving from the host's network stack.
func (t *SimTap) Inject(frame []byte) {
	t.rx <- frame
}

// Sent returns the channel of frames written via WriteFrame, for tests to
// observe what the node emitted toward the host stack.
func (t *SimTap) Sent() <-chan []byte {
	return t.tx
}

func (t *SimTap) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-t.rx:
		if !ok {
			return nil, ErrClosed
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *SimTap) WriteFrame(raw []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	select {
	case t.tx <- cp:
	default: // slow reader drops
	}
	return nil
}

func (t *SimTap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.rx)
	}
	return nil
}
