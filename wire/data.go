package wire

import "github.com/cvsouth/vanet-mesh/mac"

// DataUpstreamBody carries a frame toward an RSU. Origin is the
// ingress OBU that first admitted the frame from its local TAP; it is
// never rewritten by intermediate relays.
type DataUpstreamBody struct {
	Origin  mac.Addr
	Payload []byte
}

// DataDownstreamBody carries a frame from an RSU toward a destination
// MAC. Payload may be ciphertext; the codec never inspects it.
type DataDownstreamBody struct {
	Origin      mac.Addr
	Destination mac.Addr
	Payload     []byte
}

func parseDataUpstreamBody(b []byte) (DataUpstreamBody, error) {
	if len(b) < 6 {
		return DataUpstreamBody{}, bufferTooShort(b, 6)
	}
	origin, err := mac.Parse(b[0:6])
	if err != nil {
		return DataUpstreamBody{}, err
	}
	return DataUpstreamBody{Origin: origin, Payload: b[6:]}, nil
}

func parseDataDownstreamBody(b []byte) (DataDownstreamBody, error) {
	if len(b) < 12 {
		return DataDownstreamBody{}, bufferTooShort(b, 12)
	}
	origin, err := mac.Parse(b[0:6])
	if err != nil {
		return DataDownstreamBody{}, err
	}
	dest, err := mac.Parse(b[6:12])
	if err != nil {
		return DataDownstreamBody{}, err
	}
	return DataDownstreamBody{Origin: origin, Destination: dest, Payload: b[12:]}, nil
}

// SerializeUpstream encodes a Data/Upstream message.
func SerializeUpstream(to, from mac.Addr, b DataUpstreamBody) []byte {
	out := make([]byte, HeaderLen+6+len(b.Payload))
	writeHeader(out, to, from, KindData, SubkindUpstream)
	copy(out[HeaderLen:HeaderLen+6], b.Origin[:])
	copy(out[HeaderLen+6:], b.Payload)
	return out
}

// SerializeDownstream encodes a Data/Downstream message.
func SerializeDownstream(to, from mac.Addr, b DataDownstreamBody) []byte {
	out := make([]byte, HeaderLen+12+len(b.Payload))
	writeHeader(out, to, from, KindData, SubkindDownstream)
	copy(out[HeaderLen:HeaderLen+6], b.Origin[:])
	copy(out[HeaderLen+6:HeaderLen+12], b.Destination[:])
	copy(out[HeaderLen+12:], b.Payload)
	return out
}
