package routing

import "errors"

// ErrUnknownSource is returned by HandleHeartbeatReply when the reply
// refers to a (source, id) pair never observed as a Heartbeat.
var ErrUnknownSource = errors.New("routing: unknown source")

// ErrLoopDetected is returned by HandleHeartbeatReply when the reply's
// sender equals our recorded next-upstream for that (source, id): the
// reply would bounce straight back the way it came.
var ErrLoopDetected = errors.New("routing: loop detected")

// ErrHelloHistoryZero is a construction-time configuration error: the
// only error kind in this package considered fatal rather than logged
// and absorbed.
var ErrHelloHistoryZero = errors.New("routing: hello_history must be >= 1")
