package domain

import "time"

// ConnectionState is the lifecycle state of the push stream connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateReconnecting ConnectionState = "RECONNECTING"
)

// StateChange is published on every connection state transition.
// Attempt and RetryIn are only set while RECONNECTING.
type StateChange struct {
	State   ConnectionState
	Attempt int
	RetryIn time.Duration
}
