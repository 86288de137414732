package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"faultgate/internal/fault"
)

// detailFields are printed in this order when present
var detailFields = []struct {
	key   string
	label string
}{
	{"neName", "Node"},
	{"objectFullName", "Object"},
	{"affectedObjectName", "Affected"},
	{"probableCause", "Cause"},
	{"additionalText", "Details"},
	{"firstTimeDetected", "First seen"},
	{"lastTimeDetected", "Last seen"},
}

// FormatFault renders a fault notification as a Telegram Markdown message
func FormatFault(msg json.RawMessage, receivedAt time.Time, loc *time.Location) string {
	fields := fault.Parse(msg)
	severity := fault.Severity(msg)

	var sb strings.Builder

	name := fields.String("alarmName")
	if name == "" {
		name = "Fault event"
	}
	sb.WriteString(fmt.Sprintf("%s *%s*\n", severityEmoji(severity), escapeMarkdown(name)))
	if severity != "" {
		sb.WriteString(fmt.Sprintf("Severity: *%s*\n", strings.ToUpper(severity)))
	}

	wrote := false
	for _, f := range detailFields {
		value := fields.String(f.key)
		if value == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.label, escapeMarkdown(formatValue(f.key, value, loc))))
		wrote = true
	}
	if !wrote && fields == nil {
		sb.WriteString(fmt.Sprintf("```\n%s\n```\n", string(msg)))
	}

	sb.WriteString(fmt.Sprintf("\nReceived: %s", formatTime(receivedAt, loc, "2006-01-02 15:04:05 MST")))
	return sb.String()
}

// formatValue renders epoch-millisecond timestamps in loc
func formatValue(key, value string, loc *time.Location) string {
	if !strings.HasSuffix(key, "Detected") {
		return value
	}
	var millis int64
	if _, err := fmt.Sscanf(value, "%d", &millis); err != nil || millis <= 0 {
		return value
	}
	return formatTime(time.UnixMilli(millis), loc, "2006-01-02 15:04:05 MST")
}

// formatTime formats a time in loc, or UTC when loc is nil
func formatTime(t time.Time, loc *time.Location, layout string) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(layout)
}

func severityEmoji(severity string) string {
	switch severity {
	case "critical":
		return "🔴"
	case "major":
		return "🟠"
	case "minor":
		return "🟡"
	case "warning":
		return "🔵"
	case "cleared":
		return "🟢"
	default:
		return "⚪"
	}
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown escapes legacy Markdown control characters
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
