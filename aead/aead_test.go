package aead

import (
	"bytes"
	"testing"

	"github.com/cvsouth/vanet-mesh/mac"
)

func macN(n byte) mac.Addr {
	var a mac.Addr
	for i := range a {
		a[i] = n
	}
	return a
}

func TestSealOpenRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	c, err := NewChaCha20Poly1305(key)
	if err != nil {
		t.Fatalf("NewChaCha20Poly1305: %v", err)
	}
	plaintext := []byte("ethernet frame payload")
	sealed, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(sealed, plaintext) {
		t.Fatal("sealed output equals plaintext")
	}
	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("Open = %q, want %q", opened, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	var key [32]byte
	c, err := NewChaCha20Poly1305(key)
	if err != nil {
		t.Fatalf("NewChaCha20Poly1305: %v", err)
	}
	sealed, err := c.Seal([]byte("frame"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := c.Open(sealed); err == nil {
		t.Fatal("Open accepted a tampered buffer")
	}
}

func TestDeriveSessionKeyAgreesBothDirections(t *testing.T) {
	var aPriv, bPriv [32]byte
	for i := range aPriv {
		aPriv[i] = byte(i + 1)
		bPriv[i] = byte(i + 100)
	}
	aPub, err := DerivePublicKey(aPriv)
	if err != nil {
		t.Fatalf("DerivePublicKey(a): %v", err)
	}
	bPub, err := DerivePublicKey(bPriv)
	if err != nil {
		t.Fatalf("DerivePublicKey(b): %v", err)
	}

	rsu, obu := macN(0x01), macN(0x02)
	// Each side calls with itself as localID and the other as peerID, the
	// way buildCipher does: the RSU's call and the OBU's call pass the
	// pair in opposite order.
	keyFromA, err := DeriveSessionKey(aPriv, bPub, rsu, obu)
	if err != nil {
		t.Fatalf("DeriveSessionKey(a): %v", err)
	}
	keyFromB, err := DeriveSessionKey(bPriv, aPub, obu, rsu)
	if err != nil {
		t.Fatalf("DeriveSessionKey(b): %v", err)
	}
	if keyFromA != keyFromB {
		t.Fatalf("derived keys disagree: %x != %x", keyFromA, keyFromB)
	}
}
