// Package mac implements the 6-byte L2 address used throughout the mesh.
package mac

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Len is the byte length of an address.
const Len = 6

// Addr is a 6-byte L2 MAC address.
type Addr [Len]byte

// Broadcast is the reserved all-ones address.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Zero is the unset address, never a valid peer.
var Zero = Addr{}

// Parse decodes a byte slice of exactly Len bytes into an Addr.
func Parse(b []byte) (Addr, error) {
	var a Addr
	if len(b) != Len {
		return a, fmt.Errorf("mac: wrong length %d, want %d", len(b), Len)
	}
	copy(a[:], b)
	return a, nil
}

// ParseString decodes a colon- or hyphen-separated hex address such as
// "0A:0B:0C:0D:0E:0F", the form a YAML config file carries a MAC in.
func ParseString(s string) (Addr, error) {
	var a Addr
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != Len {
		return a, fmt.Errorf("mac: %q has %d octets, want %d", s, len(parts), Len)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return Addr{}, fmt.Errorf("mac: %q: invalid octet %q", s, p)
		}
		a[i] = b[0]
	}
	return a, nil
}

// Bytes returns the address as a freshly allocated slice.
func (a Addr) Bytes() []byte {
	b := make([]byte, Len)
	copy(b, a[:])
	return b
}

// String renders the address as colon-separated uppercase hex.
func (a Addr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsBroadcast reports whether a is the reserved all-ones address.
func (a Addr) IsBroadcast() bool {
	return a == Broadcast
}

// IsMulticast reports whether the low bit of the first byte is set, which
// this mesh treats identically to broadcast (no multicast-group membership).
func (a Addr) IsMulticast() bool {
	return a[0]&0x01 == 1
}

// IsBroadcastOrMulticast is the flooding predicate used by the forwarding
// plane: both broadcast and multicast destinations fan out to every
// neighbor rather than following a unicast route.
func (a Addr) IsBroadcastOrMulticast() bool {
	return a.IsBroadcast() || a.IsMulticast()
}

// Less provides the deterministic byte-lexicographic ordering used to
// break ties between routes with identical score and hop count.
func Less(a, b Addr) bool {
	for i := 0; i < Len; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
