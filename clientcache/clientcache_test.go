package clientcache

import (
	"testing"
	"time"

	"github.com/cvsouth/vanet-mesh/mac"
)

func macN(n byte) mac.Addr {
	var a mac.Addr
	for i := range a {
		a[i] = n
	}
	return a
}

func TestObserveAndLookup(t *testing.T) {
	c := New(0, 0)
	client, via := macN(0x10), macN(0x01)

	if _, ok := c.Lookup(client); ok {
		t.Fatal("Lookup found an entry before Observe")
	}
	c.Observe(client, via)
	got, ok := c.Lookup(client)
	if !ok || got != via {
		t.Fatalf("Lookup = %v, %v, want %v, true", got, ok, via)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestEntryExpires(t *testing.T) {
	c := New(10*time.Millisecond, 5*time.Millisecond)
	client, via := macN(0x10), macN(0x01)
	c.Observe(client, via)

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Lookup(client); ok {
		t.Fatal("entry should have expired")
	}
}

func TestObserveRefreshesVia(t *testing.T) {
	c := New(0, 0)
	client, first, second := macN(0x10), macN(0x01), macN(0x02)
	c.Observe(client, first)
	c.Observe(client, second)

	got, ok := c.Lookup(client)
	if !ok || got != second {
		t.Fatalf("Lookup = %v, %v, want %v, true", got, ok, second)
	}
}
