// Package alerting delivers operator notifications for the paper trading
// engine.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic key-value fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("- %s: %v", key, value)
	}
	return result
}

// Event is a pre-defined alert event type.
type Event string

const (
	// EventTradingHalted is sent when the drawdown halt latches.
	EventTradingHalted Event = "trading_halted"
	// EventTradingResumed is sent when the halt is released manually.
	EventTradingResumed Event = "trading_resumed"
	// EventEmergencyStop is sent when an operator flattens the book.
	EventEmergencyStop Event = "emergency_stop"
	// EventRiskStateChanged is sent on any drawdown band transition.
	EventRiskStateChanged Event = "risk_state_changed"
	// EventOrderResized is sent when the risk budget shrinks an order.
	EventOrderResized Event = "order_resized"
	// EventPositionOpened is sent when a position is opened.
	EventPositionOpened Event = "position_opened"
	// EventPositionClosed is sent when a position is closed.
	EventPositionClosed Event = "position_closed"
	// EventFeedDegraded is sent when quote fetches keep timing out.
	EventFeedDegraded Event = "feed_degraded"
	// EventDailyReport is sent with the end-of-session summary.
	EventDailyReport Event = "daily_report"
	// EventSessionStarted is sent when a live session starts.
	EventSessionStarted Event = "session_started"
	// EventSessionStopped is sent when a live session stops.
	EventSessionStopped Event = "session_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event Event) Severity {
	switch event {
	case EventTradingHalted, EventEmergencyStop:
		return SeverityCritical
	case EventRiskStateChanged, EventFeedDegraded:
		return SeverityHigh
	case EventOrderResized, EventTradingResumed:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
