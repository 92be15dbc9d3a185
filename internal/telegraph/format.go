package telegraph

import (
	"fmt"

	"github.com/zulandar/junction/internal/assignment"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "info":
		return ColorInfo
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// noticeSeverity returns the severity for a notice kind.
func noticeSeverity(kind string) string {
	switch kind {
	case assignment.NoticeQueued:
		return "warning"
	case assignment.NoticeStranded:
		return "warning"
	case assignment.NoticeCapacityViolation:
		return "error"
	default:
		return "info"
	}
}

// noticeTitle returns the headline for a notice kind.
func noticeTitle(kind string) string {
	switch kind {
	case assignment.NoticeQueued:
		return "Support request queued"
	case assignment.NoticeStranded:
		return "Conversation left with offline agent"
	case assignment.NoticeCapacityViolation:
		return "Agent capacity violation refused"
	default:
		return "Junction notice"
	}
}

// FormatNotice formats an assignment notice for display.
func FormatNotice(n assignment.Notice) FormattedEvent {
	severity := noticeSeverity(n.Kind)

	var fields []Field
	add := func(name, value string) {
		if value != "" {
			fields = append(fields, Field{Name: name, Value: value, Short: true})
		}
	}
	add("Business", n.BusinessID)
	add("Customer", n.CustomerID)
	add("Conversation", n.ConversationID)
	add("Agent", n.AgentID)
	if n.PendingID != 0 {
		add("Request", fmt.Sprintf("#%d", n.PendingID))
	}

	return FormattedEvent{
		Title:    noticeTitle(n.Kind),
		Body:     n.Text(),
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   fields,
	}
}
