// Package iotap implements the node's I/O boundary: a raw AF_PACKET
// socket bound to the mesh's shared wire segment and a kernel TAP device
// bridging to the host network stack, plus an in-memory medium for tests.
// Its concrete types satisfy the node package's WireIO/TapIO interfaces
// structurally; nothing elsewhere in this module imports golang.org/x/sys
// directly.
package iotap

// PacketBufferSize is the fixed per-receive stack buffer the node reuses
// across reads. A Heartbeat/HeartbeatReply body is at most 36 bytes past
// the 16-byte header; Data bodies carry an Ethernet frame payload, so
// this is sized to the Ethernet MTU plus the wire header and
// Data/Upstream|Downstream prefix with headroom.
const PacketBufferSize = 2048
