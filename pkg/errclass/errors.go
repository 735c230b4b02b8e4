package errclass

import "fmt"

// MotionError is a stable, machine-readable error class.
type MotionError struct {
	Code    string
	Message string
}

func (e *MotionError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *MotionError) Is(target error) bool {
	t, ok := target.(*MotionError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new MotionError with the same Code but a specific message.
func (e *MotionError) WithMessage(msg string) *MotionError {
	return &MotionError{Code: e.Code, Message: msg}
}

// WithMessagef returns a new MotionError with a formatted message.
func (e *MotionError) WithMessagef(format string, args ...any) *MotionError {
	return &MotionError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Fatal reports whether an error of this class must never be retried.
func (e *MotionError) Fatal() bool {
	switch e.Code {
	case ErrInvalidTransition.Code, ErrUnsupported.Code, ErrPrecondition.Code:
		return true
	}
	return false
}

// Stable error classes.
var (
	ErrUnsupported        = &MotionError{Code: "E_UNSUPPORTED"}
	ErrPrecondition       = &MotionError{Code: "E_PRECONDITION"}
	ErrAgentUnavailable   = &MotionError{Code: "E_AGENT_UNAVAILABLE"}
	ErrOperationTimedOut  = &MotionError{Code: "E_OPERATION_TIMED_OUT"}
	ErrInvalidTransition  = &MotionError{Code: "E_INVALID_TRANSITION"}
	ErrLockTimeout        = &MotionError{Code: "E_LOCK_TIMEOUT"}
	ErrLockNotHeld        = &MotionError{Code: "E_LOCK_NOT_HELD"}
	ErrNotFound           = &MotionError{Code: "E_NOT_FOUND"}
	ErrNameInvalid        = &MotionError{Code: "E_NAME_INVALID"}
	ErrScenarioFailed     = &MotionError{Code: "E_SCENARIO_FAILED"}
	ErrBackend            = &MotionError{Code: "E_BACKEND"}
	ErrConfigInvalid      = &MotionError{Code: "E_CONFIG_INVALID"}
	ErrAuditChainBroken   = &MotionError{Code: "E_AUDIT_CHAIN_BROKEN"}
	ErrInternal           = &MotionError{Code: "E_INTERNAL"}
)
