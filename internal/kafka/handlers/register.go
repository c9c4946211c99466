// Package handlers maps activity events of the pin and chat services to
// notification activities. Each file registers its handlers in init().
package handlers

import (
	"vn.io.arda/pinnotify/internal/kafka/registry"
)

// Register is a convenience alias so each domain file calls Register(...)
// instead of registry.Register(...), keeping imports minimal.
func Register(topic, eventType string, h registry.EventHandler) {
	registry.Register(topic, eventType, h)
}

// RegisterDirect registers a handler for topics that don't use eventType routing.
func RegisterDirect(topic string, h registry.EventHandler) {
	registry.Register(topic, "", h)
}
