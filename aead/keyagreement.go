package aead

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/cvsouth/vanet-mesh/mac"
)

// sessionProtoID is a fixed, versioned string scoping key derivation so a
// future wire format change can't accidentally collide with this one's
// keys.
const sessionProtoID = "vanet-mesh-x25519-sha256-1"

// DeriveSessionKey derives a per-gateway-pair ChaCha20-Poly1305 key from a
// static X25519 key agreement between localPriv and peerPub. There is no
// per-session ephemeral exchanged over the wire — the mesh has no control
// message to carry one — so the static-static term is the entire secret.
// localID/peerID identify the pair; both ends of the pair call this with
// the same two addresses in opposite local/peer roles, so the HKDF info
// is built from the pair sorted into a canonical order rather than from
// the caller's local/peer assignment, or the two ends would derive
// different keys.
func DeriveSessionKey(localPriv, peerPub [32]byte, localID, peerID mac.Addr) ([32]byte, error) {
	var out [32]byte

	shared, err := curve25519.X25519(localPriv[:], peerPub[:])
	if err != nil {
		return out, fmt.Errorf("aead: x25519: %w", err)
	}

	first, second := localID, peerID
	if mac.Less(second, first) {
		first, second = second, first
	}

	info := make([]byte, 0, len(sessionProtoID)+2*mac.Len)
	info = append(info, []byte(sessionProtoID)...)
	info = append(info, first[:]...)
	info = append(info, second[:]...)

	kdf := hkdf.New(sha256.New, shared, nil, info)
	key := make([]byte, 32)
	if _, err := kdf.Read(key); err != nil {
		return out, fmt.Errorf("aead: hkdf expand: %w", err)
	}
	copy(out[:], key)
	return out, nil
}

// DerivePublicKey computes the X25519 public key for a configured static
// private scalar, for nodes that need to publish theirs out of band
// (distributed via the same YAML configuration that names the peer).
func DerivePublicKey(priv [32]byte) ([32]byte, error) {
	var out [32]byte
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return out, fmt.Errorf("aead: derive public key: %w", err)
	}
	copy(out[:], pub)
	return out, nil
}
