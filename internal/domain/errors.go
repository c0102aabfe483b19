package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for agent-to-agent messaging.
var (
	ErrValidation             = fmt.Errorf("validation failed")
	ErrUnknownDestination     = fmt.Errorf("unknown destination")
	ErrDestinationUnavailable = fmt.Errorf("destination unavailable")
	ErrRemote                 = fmt.Errorf("remote agent error")
	ErrCircuitOpen            = fmt.Errorf("circuit open")
	ErrProtocol               = fmt.Errorf("protocol error")
	ErrTimeout                = fmt.Errorf("operation timed out")

	// ErrDestinationNotFound is the resolver-facing name of ErrUnknownDestination.
	ErrDestinationNotFound = ErrUnknownDestination
)

// Sentinel errors for collaborators and infrastructure.
var (
	ErrProviderNotFound  = fmt.Errorf("llm provider not found")
	ErrProviderError     = fmt.Errorf("provider error")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrContextOverflow   = fmt.Errorf("context window exceeded")
	ErrMemoryUnavailable = fmt.Errorf("memory provider unavailable")
	ErrMemoryStore       = fmt.Errorf("memory store failed")
	ErrToolNotFound      = fmt.Errorf("tool not found")
	ErrMaxIterations     = fmt.Errorf("agent reached max iterations")
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrEncryption        = fmt.Errorf("encryption operation failed")
	ErrDecryption        = fmt.Errorf("decryption failed")

	// JSON-RPC server errors.
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "A2A.Call")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
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

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RemoteError is a JSON-RPC error object returned by a worker.
type RemoteError struct {
	Destination string
	Code        int
	Message     string
}

func (e *RemoteError) Error() string {
	if e.Destination != "" {
		return fmt.Sprintf("%s returned error %d: %s", e.Destination, e.Code, e.Message)
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error { return ErrRemote }

// ProtocolError reports a reply that does not follow the wire contract.
// Dump holds a size-bounded rendering of the payload with media scrubbed.
type ProtocolError struct {
	Destination string
	Reason      string
	Dump        string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol error from %s: %s", e.Destination, e.Reason)
	if e.Dump != "" {
		msg += " (payload: " + e.Dump + ")"
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// IsRetryableError reports whether err is a transient failure of the
// destination that may succeed on another attempt.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrDestinationUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsDestinationFailure reports whether err should count against a
// destination's circuit breaker. Caller-side mistakes and well-formed
// remote errors do not.
func IsDestinationFailure(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnknownDestination),
		errors.Is(err, ErrRemote),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// User-facing messages. Internal detail never reaches the end user.
const (
	UserMsgUnavailable = "The service is temporarily unavailable. Please try again shortly."
	UserMsgFailed      = "Your request could not be processed."
)

// UserMessage returns the generic message shown to an end user for err.
func UserMessage(err error) string {
	if IsRetryableError(err) || errors.Is(err, ErrCircuitOpen) {
		return UserMsgUnavailable
	}
	return UserMsgFailed
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown                ErrorCode = "UNKNOWN"
	CodeValidation             ErrorCode = "VALIDATION"
	CodeUnknownDestination     ErrorCode = "UNKNOWN_DESTINATION"
	CodeDestinationUnavailable ErrorCode = "DESTINATION_UNAVAILABLE"
	CodeRemote                 ErrorCode = "REMOTE_ERROR"
	CodeCircuitOpen            ErrorCode = "CIRCUIT_OPEN"
	CodeProtocol               ErrorCode = "PROTOCOL_ERROR"
	CodeTimeout                ErrorCode = "TIMEOUT"
	CodeProviderNotFound       ErrorCode = "PROVIDER_NOT_FOUND"
	CodeProviderError          ErrorCode = "PROVIDER_ERROR"
	CodeRateLimit              ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid            ErrorCode = "AUTH_INVALID"
	CodeContextOverflow        ErrorCode = "CONTEXT_OVERFLOW"
	CodeMemoryUnavailable      ErrorCode = "MEMORY_UNAVAILABLE"
	CodeMemoryStore            ErrorCode = "MEMORY_STORE"
	CodeToolNotFound           ErrorCode = "TOOL_NOT_FOUND"
	CodeMaxIterations          ErrorCode = "MAX_ITERATIONS"
	CodeConfigLoad             ErrorCode = "CONFIG_LOAD"
	CodeEncryption             ErrorCode = "ENCRYPTION"
	CodeDecryption             ErrorCode = "DECRYPTION"
	CodeRPCMethodNotFound      ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload      ErrorCode = "RPC_INVALID_PAYLOAD"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrValidation:             CodeValidation,
	ErrUnknownDestination:     CodeUnknownDestination,
	ErrDestinationUnavailable: CodeDestinationUnavailable,
	ErrRemote:                 CodeRemote,
	ErrCircuitOpen:            CodeCircuitOpen,
	ErrProtocol:               CodeProtocol,
	ErrTimeout:                CodeTimeout,
	ErrProviderNotFound:       CodeProviderNotFound,
	ErrProviderError:          CodeProviderError,
	ErrRateLimit:              CodeRateLimit,
	ErrAuthInvalid:            CodeAuthInvalid,
	ErrContextOverflow:        CodeContextOverflow,
	ErrMemoryUnavailable:      CodeMemoryUnavailable,
	ErrMemoryStore:            CodeMemoryStore,
	ErrToolNotFound:           CodeToolNotFound,
	ErrMaxIterations:          CodeMaxIterations,
	ErrConfigLoad:             CodeConfigLoad,
	ErrEncryption:             CodeEncryption,
	ErrDecryption:             CodeDecryption,
	ErrRPCMethodNotFound:      CodeRPCMethodNotFound,
	ErrRPCInvalidPayload:      CodeRPCInvalidPayload,
}

// codePriority orders the chain walk so the most specific sentinel wins
// when an error wraps several (a circuit-open error built from an
// unavailable destination reports CIRCUIT_OPEN).
var codePriority = []error{
	ErrCircuitOpen,
	ErrValidation,
	ErrUnknownDestination,
	ErrRemote,
	ErrProtocol,
	ErrTimeout,
	ErrDestinationUnavailable,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
