package session

import (
	"regexp"
	"strings"
)

// ErrorInfo is the structured metadata behind an error_observation row.
// It is presentation-only: the provider always sees the raw error string.
type ErrorInfo struct {
	Severity        string
	Category        string
	UserMessage     string
	TechnicalDetail string
	ToolName        string
	RecoveryHint    string
	ExcType         string
}

// Meta renders the info as display-row metadata.
func (e ErrorInfo) Meta() map[string]any {
	return map[string]any{
		"severity":         e.Severity,
		"category":         e.Category,
		"user_message":     e.UserMessage,
		"technical_detail": e.TechnicalDetail,
		"tool_name":        e.ToolName,
		"recovery_hint":    e.RecoveryHint,
		"exc_type":         e.ExcType,
	}
}

// excPattern extracts "Kind: message" from "Error: Kind: message".
var excPattern = regexp.MustCompile(`(?s)^Error:\s*(\w+(?:Error|Exception|Fault|Warning|Exhausted|Exceeded|Argument|Arguments|Denied|Found)?):\s*(.*)`)

var errorTranslations = map[string]string{
	"ConnectionError":  "Network connection failed",
	"TimeoutError":     "The request timed out",
	"DeadlineExceeded": "The request timed out",
	"OSError":          "A low-level I/O operation failed",
	"PermissionError":  "No permission to access this resource",
	"PermissionDenied": "No permission to use this tool",
	"FileNotFoundError": "File not found",
	"ValueError":        "The data has an unexpected format",
	"KeyError":          "A required data field is missing",
	"JSONDecodeError":   "The data could not be parsed",
	"OperationalError":  "The database operation failed",
	"IntegrityError":    "A data integrity conflict occurred",
	"ResourceExhausted": "The API quota is exhausted, try again later",
	"InvalidArgument":   "The request arguments are invalid",
	"InvalidArguments":  "The tool arguments are invalid",
	"ToolNotFound":      "The requested tool is not available",
}

var recoveryHints = map[string]string{
	"ConnectionError":  "Check the network connection and retry",
	"TimeoutError":     "Retry later, or reduce the amount of data",
	"DeadlineExceeded": "Retry in a moment",
	"PermissionError":  "Ask an administrator to check the permissions",
	"PermissionDenied": "Adjust the tool permission rules if this call should be allowed",
	"FileNotFoundError": "Check that the file path is correct",
	"ResourceExhausted": "Wait a few minutes and retry",
	"InvalidArguments":  "Check the arguments against the tool's schema",
	// Tool-specific hints, keyed by tool name.
	"query_db":  "Check that the SQL syntax is valid",
	"web_fetch": "Check that the URL is reachable",
}

// ClassifyToolError parses a raw "Error: ..." tool result into display
// metadata. Unrecognized shapes still produce a usable row.
func ClassifyToolError(resultText, toolName string) ErrorInfo {
	info := ErrorInfo{
		Severity: "error",
		ToolName: toolName,
	}
	if m := excPattern.FindStringSubmatch(resultText); m != nil {
		excType := m[1]
		excMsg := strings.TrimSpace(m[2])
		info.Category = "exception"
		info.ExcType = excType
		info.TechnicalDetail = resultText
		if msg, ok := errorTranslations[excType]; ok {
			info.UserMessage = msg
		} else {
			info.UserMessage = "Operation failed: " + clip(excMsg, 200)
		}
		info.RecoveryHint = recoveryHints[excType]
		if info.RecoveryHint == "" {
			info.RecoveryHint = recoveryHints[toolName]
		}
		return info
	}

	msg := strings.TrimSpace(strings.TrimPrefix(resultText, "Error:"))
	info.Category = "tool_error"
	info.UserMessage = "Operation failed: " + clip(msg, 200)
	info.TechnicalDetail = resultText
	info.RecoveryHint = recoveryHints[toolName]
	return info
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
