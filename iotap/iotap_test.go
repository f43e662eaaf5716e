package iotap

import (
	"context"
	"testing"
	"time"
)

func TestSimMediumBroadcastsToOtherPortsOnly(t *testing.T) {
	m := NewSimMedium()
	a := m.Attach(4)
	b := m.Attach(4)
	c := m.Attach(4)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	if err := a.WriteFrame([]byte("hello")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, p := range []*SimPort{b, c} {
		frame, err := p.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if string(frame) != "hello" {
			t.Fatalf("frame = %q, want hello", frame)
		}
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, err := a.ReadFrame(ctx2); err == nil {
		t.Fatal("sender should not receive its own broadcast")
	}
}

func TestSimMediumWriteAfterCloseFails(t *testing.T) {
	m := NewSimMedium()
	a := m.Attach(1)
	b := m.Attach(1)
	a.Close()
	b.Close()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if err := a.WriteFrame([]byte("x")); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestSimTapInjectAndReadFrame(t *testing.T) {
	tap := NewSimTap(2)
	tap.Inject([]byte("from-host"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	frame, err := tap.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(frame) != "from-host" {
		t.Fatalf("frame = %q, want from-host", frame)
	}
}

func TestSimTapWriteFrameObservedBySent(t *testing.T) {
	tap := NewSimTap(2)
	if err := tap.WriteFrame([]byte("to-host")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	select {
	case frame := <-tap.Sent():
		if string(frame) != "to-host" {
			t.Fatalf("frame = %q, want to-host", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sent frame")
	}
}

func TestSimTapCloseUnblocksReadFrame(t *testing.T) {
	tap := NewSimTap(1)
	done := make(chan error, 1)
	go func() {
		_, err := tap.ReadFrame(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	tap.Close()
	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ReadFrame to unblock")
	}
}
