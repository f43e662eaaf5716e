package heartbeat

import (
	"github.com/cvsouth/vanet-mesh/mac"
	"github.com/cvsouth/vanet-mesh/routing"
	"github.com/cvsouth/vanet-mesh/wire"
)

// Dispatch routes a parsed Heartbeat or HeartbeatReply into the routing
// table and returns whatever outbound frames the caller should send. A
// message that is neither is not this package's concern and returns nil,
// nil.
//
// isRSU applies the gate an RSU needs and an OBU does not: an RSU only
// consumes HeartbeatReplies tracing back to a beacon it originated
// itself (message.source == our_mac). Any other reply reaching an RSU is
// silently ignored rather than treated as an error, since nothing about
// receiving it is actually wrong — it just isn't the RSU's concern.
func Dispatch(rt *routing.RoutingTable, msg wire.Message, ourMAC mac.Addr, isRSU bool) ([]routing.Outbound, error) {
	switch {
	case msg.Heartbeat != nil:
		return rt.HandleHeartbeat(msg, ourMAC)
	case msg.HeartbeatReply != nil:
		if isRSU && msg.HeartbeatReply.Source != ourMAC {
			return nil, nil
		}
		return rt.HandleHeartbeatReply(msg, ourMAC)
	default:
		return nil, nil
	}
}
