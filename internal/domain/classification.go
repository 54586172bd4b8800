// Package domain defines the core types for focus tracking sessions.
package domain

import (
	"strings"
	"time"
)

// Label is a classification result for a sampled frame.
type Label int

const (
	// LabelFocused means the subject was looking at the screen.
	LabelFocused Label = iota
	// LabelDistracted means the subject was looking away.
	LabelDistracted
)

// String returns the service-facing label name.
func (l Label) String() string {
	if l == LabelDistracted {
		return "Distracted"
	}
	return "Focused"
}

// ParseLabel maps a service-reported status string to a Label.
// The service sends descriptive labels ("Distracted - looking away"),
// so matching is a substring check, defaulting to Focused.
func ParseLabel(status string) Label {
	if strings.Contains(strings.ToLower(status), "distracted") {
		return LabelDistracted
	}
	return LabelFocused
}

// FocusSample is one inbound classification event. Samples are consumed
// immediately and never stored.
type FocusSample struct {
	Label      Label
	Status     string
	ReceivedAt time.Time
}

// ConnectionStatus is the state of the transport's connection to the
// classification service.
type ConnectionStatus int

const (
	// Disconnected means no connection exists and none is being attempted.
	Disconnected ConnectionStatus = iota
	// Connecting means a dial or reconnect attempt is in flight.
	Connecting
	// Connected means the duplex connection is established.
	Connected
)

// String returns the human-readable connection status.
func (c ConnectionStatus) String() string {
	switch c {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectionEvent is a transport lifecycle notification delivered to the
// session controller.
type ConnectionEvent struct {
	Status ConnectionStatus
	// Err carries the connection error, if any.
	Err error
	// Fatal is set when all reconnect attempts are exhausted and the
	// transport has given up.
	Fatal bool
}
