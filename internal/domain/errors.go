package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the domain layer.
var (
	// ErrConfiguration reports missing credentials/endpoint for a requested
	// provider, or a model id the registry does not know.
	ErrConfiguration = fmt.Errorf("configuration error")
	// ErrAgentExecution wraps any failure of the agent execution engine,
	// provider and network errors included.
	ErrAgentExecution = fmt.Errorf("agent execution failed")

	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrSessionBusy     = fmt.Errorf("conversation already running for session")
	ErrConfigLoad      = fmt.Errorf("failed to load configuration")

	// Gateway errors.
	ErrGatewayAuthFailed   = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrEventNotSupported   = fmt.Errorf("event not supported")
	ErrEventInvalidPayload = fmt.Errorf("event payload invalid: %w", ErrInvalidInput)

	// Provider errors, mapped from HTTP status by the llm adapters.
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrProviderDown    = fmt.Errorf("provider unavailable")
	ErrTranscription   = fmt.Errorf("voice input processing failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "ModelRegistry.Resolve")
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

// AgentExecutionError marks err as an agent execution failure while keeping
// the original cause reachable through errors.Is/As.
func AgentExecutionError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAgentExecution) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrAgentExecution, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeConfiguration     ErrorCode = "CONFIGURATION"
	CodeAgentExecution    ErrorCode = "AGENT_EXECUTION"
	CodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionBusy       ErrorCode = "SESSION_BUSY"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeGatewayAuth       ErrorCode = "GATEWAY_AUTH"
	CodeEventNotSupported ErrorCode = "EVENT_NOT_SUPPORTED"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeContextOverflow   ErrorCode = "CONTEXT_OVERFLOW"
	CodeProviderDown      ErrorCode = "PROVIDER_DOWN"
	CodeTranscription     ErrorCode = "TRANSCRIPTION"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
// Specific sentinels are listed in codePriority so that wrapped chains holding
// several sentinels resolve deterministically.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:          CodeNotFound,
	ErrTimeout:           CodeTimeout,
	ErrInvalidInput:      CodeInvalidInput,
	ErrConfiguration:     CodeConfiguration,
	ErrAgentExecution:    CodeAgentExecution,
	ErrSessionNotFound:   CodeSessionNotFound,
	ErrSessionBusy:       CodeSessionBusy,
	ErrConfigLoad:        CodeConfigLoad,
	ErrGatewayAuthFailed: CodeGatewayAuth,
	ErrEventNotSupported: CodeEventNotSupported,
	ErrRateLimit:         CodeRateLimit,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrContextOverflow:   CodeContextOverflow,
	ErrProviderDown:      CodeProviderDown,
	ErrTranscription:     CodeTranscription,
}

var codePriority = []error{
	ErrConfiguration,
	ErrAgentExecution,
	ErrSessionBusy,
	ErrSessionNotFound,
	ErrGatewayAuthFailed,
	ErrEventNotSupported,
	ErrTranscription,
	ErrConfigLoad,
	ErrRateLimit,
	ErrAuthInvalid,
	ErrContextOverflow,
	ErrProviderDown,
	ErrTimeout,
	ErrInvalidInput,
	ErrNotFound,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
