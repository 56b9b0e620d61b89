package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Queue errors
// 12000-12999: Sandbox & Execution errors
// 13000-13999: Result delivery errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10004
	ServiceUnavailable  ErrorCode = 10005
	Timeout             ErrorCode = 10006

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10302

	// ========== Queue Errors (11000-11999) ==========

	QueueUnavailable ErrorCode = 11000
	QueueFull        ErrorCode = 11001
	DequeueFailed    ErrorCode = 11002
	AckFailed        ErrorCode = 11003
	LeaseExpired     ErrorCode = 11004

	// ========== Sandbox & Execution Errors (12000-12999) ==========

	SandboxUnavailable   ErrorCode = 12000
	SandboxTimeout       ErrorCode = 12001
	SandboxBadResponse   ErrorCode = 12002
	LanguageNotSupported ErrorCode = 12100
	CodeTooLarge         ErrorCode = 12101
	FormatterError       ErrorCode = 12200

	// ========== Result Delivery Errors (13000-13999) ==========

	PublishUnreachable  ErrorCode = 13000
	SubscribeFailed     ErrorCode = 13001
	StatusNotFound      ErrorCode = 13002
	StatusPersistFailed ErrorCode = 13003
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Queue
	QueueUnavailable: "Job queue is unavailable",
	QueueFull:        "Job queue is full, please try again later",
	DequeueFailed:    "Failed to dequeue job",
	AckFailed:        "Failed to acknowledge job",
	LeaseExpired:     "Job lease has expired",

	// Sandbox & Execution
	SandboxUnavailable:   "Execution sandbox is unavailable",
	SandboxTimeout:       "Execution sandbox timed out",
	SandboxBadResponse:   "Execution sandbox returned a malformed response",
	LanguageNotSupported: "Programming language not supported",
	CodeTooLarge:         "Code is too large",
	FormatterError:       "Failed to format execution result",

	// Result delivery
	PublishUnreachable:  "Result channel is unreachable",
	SubscribeFailed:     "Failed to subscribe to result channel",
	StatusNotFound:      "Submission status not found",
	StatusPersistFailed: "Failed to persist submission status",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == StatusNotFound:
		return 404
	case c == TooManyRequests, c == QueueFull:
		return 429
	case c == ServiceUnavailable, c == QueueUnavailable, c == SandboxUnavailable:
		return 503
	case c == Timeout, c == SandboxTimeout:
		return 504
	case c >= 10300 && c < 10400:
		return 400
	case c == InvalidParams, c == LanguageNotSupported, c == CodeTooLarge:
		return 400
	default:
		return 500
	}
}
