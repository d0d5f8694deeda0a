package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Wrap these with NewDomainError or NewSubSystemError
// rather than returning them bare so callers keep operation context.
var (
	ErrBadEnvelope        = fmt.Errorf("malformed envelope")
	ErrAuthStale          = fmt.Errorf("signature timestamp outside window")
	ErrAuthBadSignature   = fmt.Errorf("signature verification failed")
	ErrAuthUnknownMachine = fmt.Errorf("unknown machine")
	ErrNotFound           = fmt.Errorf("not found")
	ErrNoActiveSession    = fmt.Errorf("no active session")
	ErrPathNotAllowed     = fmt.Errorf("working directory not in allowed paths")
	ErrUnreachable        = fmt.Errorf("daemon unreachable")
	ErrDeniedByPolicy     = fmt.Errorf("denied by policy")
	ErrDeniedByOperator   = fmt.Errorf("denied by operator")
	ErrApprovalTimeout    = fmt.Errorf("approval timed out")
	ErrTimeout            = fmt.Errorf("operation timed out")
	ErrInternal           = fmt.Errorf("internal error")
	ErrDuplicate          = fmt.Errorf("duplicate")
	ErrInvalidInput       = fmt.Errorf("invalid input")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op        string
	Err       error
	Detail    string
	SubSystem string // entity kind, e.g. "machine", "mission" — for NotFound(kind) dispatch
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

// NewSubSystemError tags the error with an entity kind, used by ErrorCodeOf
// to distinguish e.g. NotFound(machine) from NotFound(mission).
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context via fmt.Errorf wrapping. Returns nil if err is nil.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is the machine-parseable code surfaced in HTTP error bodies (spec §7).
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeBadEnvelope        ErrorCode = "BAD_ENVELOPE"
	CodeAuthStale          ErrorCode = "AUTH_STALE"
	CodeAuthBadSignature   ErrorCode = "AUTH_BAD_SIGNATURE"
	CodeAuthUnknownMachine ErrorCode = "AUTH_UNKNOWN_MACHINE"
	CodeNotFoundMachine    ErrorCode = "NOT_FOUND_MACHINE"
	CodeNotFoundProject    ErrorCode = "NOT_FOUND_PROJECT"
	CodeNotFoundMission    ErrorCode = "NOT_FOUND_MISSION"
	CodeNotFoundThread     ErrorCode = "NOT_FOUND_THREAD"
	CodeNotFoundSession    ErrorCode = "NOT_FOUND_SESSION"
	CodeNoActiveSession    ErrorCode = "NO_ACTIVE_SESSION"
	CodePathNotAllowed     ErrorCode = "PATH_NOT_ALLOWED"
	CodeUnreachable        ErrorCode = "UNREACHABLE"
	CodeDeniedByPolicy     ErrorCode = "DENIED_BY_POLICY"
	CodeDeniedByOperator   ErrorCode = "DENIED_BY_OPERATOR"
	CodeApprovalTimeout    ErrorCode = "APPROVAL_TIMEOUT"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeInternal           ErrorCode = "INTERNAL"
	CodeDuplicate          ErrorCode = "DUPLICATE"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
)

var errorCodeMap = map[error]ErrorCode{
	ErrBadEnvelope:        CodeBadEnvelope,
	ErrAuthStale:          CodeAuthStale,
	ErrAuthBadSignature:   CodeAuthBadSignature,
	ErrAuthUnknownMachine: CodeAuthUnknownMachine,
	ErrNotFound:           CodeNotFoundMachine,
	ErrNoActiveSession:    CodeNoActiveSession,
	ErrPathNotAllowed:     CodePathNotAllowed,
	ErrUnreachable:        CodeUnreachable,
	ErrDeniedByPolicy:     CodeDeniedByPolicy,
	ErrDeniedByOperator:   CodeDeniedByOperator,
	ErrApprovalTimeout:    CodeApprovalTimeout,
	ErrTimeout:            CodeTimeout,
	ErrInternal:           CodeInternal,
	ErrDuplicate:          CodeDuplicate,
	ErrInvalidInput:       CodeInvalidInput,
}

// subSystemCodeMap resolves ErrNotFound to a specific code based on entity kind.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"machine": CodeNotFoundMachine,
		"project": CodeNotFoundProject,
		"mission": CodeNotFoundMission,
		"thread":  CodeNotFoundThread,
		"session": CodeNotFoundSession,
	},
}

// ErrorCodeOf returns the machine-parseable code for err, or CodeUnknown.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	var de *DomainError
	if errors.As(err, &de) {
		if de.SubSystem != "" {
			if subsysMap, ok := subSystemCodeMap[de.Err]; ok {
				if code, ok := subsysMap[de.SubSystem]; ok {
					return code
				}
			}
		}
		if code, ok := errorCodeMap[de.Err]; ok {
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

// HTTPStatus maps an ErrorCode to the HTTP status spec.md §7 assigns it.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeBadEnvelope, CodePathNotAllowed, CodeInvalidInput:
		return 400
	case CodeAuthStale, CodeAuthBadSignature, CodeAuthUnknownMachine:
		return 401
	case CodeNotFoundMachine, CodeNotFoundProject, CodeNotFoundMission, CodeNotFoundThread,
		CodeNotFoundSession, CodeNoActiveSession:
		return 404
	case CodeDeniedByPolicy, CodeDeniedByOperator, CodeApprovalTimeout, CodeDuplicate:
		return 409
	case CodeUnreachable:
		return 503
	case CodeTimeout:
		return 504
	default:
		return 500
	}
}
