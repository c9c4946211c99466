package realtime

import "errors"

var (
	// ErrNotAuthenticated is returned by Connect when there is no signed-in session.
	ErrNotAuthenticated = errors.New("realtime: not authenticated")
	// ErrAuthentication marks a rejected or unobtainable credential.
	ErrAuthentication = errors.New("realtime: authentication failed")
	// ErrTransport marks a stream that failed or closed unexpectedly.
	ErrTransport = errors.New("realtime: transport error")
	// ErrHeartbeatTimeout is published when the stream went silent for too long.
	ErrHeartbeatTimeout = errors.New("realtime: heartbeat timeout")
	// ErrReconnectExhausted is published when the attempt budget ran out.
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")
)
