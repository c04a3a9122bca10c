package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Combine with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
	ErrRateLimit     = fmt.Errorf("rate limit exceeded")
)

// Sentinel errors for the domain layer.
var (
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrDecryption         = fmt.Errorf("decryption failed")
	ErrEncryption         = fmt.Errorf("encryption operation failed")
	ErrBackendUnavailable = fmt.Errorf("search backend unavailable")
	ErrBackendClosed      = fmt.Errorf("search backend closed")
	ErrMalformedResponse  = fmt.Errorf("malformed upstream response")
	ErrCircuitOpen        = fmt.Errorf("upstream circuit open")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "weather.Query")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "weather", "search"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTransient reports whether err is an upstream failure expected to clear
// without operator intervention.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrProviderError) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrBackendUnavailable)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeEncryption         ErrorCode = "ENCRYPTION"
	CodeDecryption         ErrorCode = "DECRYPTION"
	CodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	CodeBackendClosed      ErrorCode = "BACKEND_CLOSED"
	CodeMalformedResponse  ErrorCode = "MALFORMED_RESPONSE"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeCityNotFound    ErrorCode = "CITY_NOT_FOUND"
	CodeWeatherUpstream ErrorCode = "WEATHER_UPSTREAM"
	CodeSearchTimeout   ErrorCode = "SEARCH_TIMEOUT"
	CodeBrowserTimeout  ErrorCode = "BROWSER_TIMEOUT"
	CodeUsage           ErrorCode = "USAGE"

	// Category codes.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
	CodeRateLimit     ErrorCode = "RATE_LIMIT"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrTimeout:       CodeTimeout,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,
	ErrRateLimit:     CodeRateLimit,

	ErrConfigLoad:         CodeConfigLoad,
	ErrDecryption:         CodeDecryption,
	ErrEncryption:         CodeEncryption,
	ErrBackendUnavailable: CodeBackendUnavailable,
	ErrBackendClosed:      CodeBackendClosed,
	ErrMalformedResponse:  CodeMalformedResponse,
	ErrCircuitOpen:        CodeCircuitOpen,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"weather": CodeCityNotFound,
	},
	ErrTimeout: {
		"search":  CodeSearchTimeout,
		"browser": CodeBrowserTimeout,
	},
	ErrProviderError: {
		"weather": CodeWeatherUpstream,
	},
	ErrInvalidInput: {
		"dispatch": CodeUsage,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// DomainErrors carrying a SubSystem resolve through subSystemCodeMap first.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
