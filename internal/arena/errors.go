package arena

import "errors"

// Kind classifies an error for the caller.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindForbidden
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// Code is a machine-readable error code.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeBuzzerLocked      Code = "BUZZER_LOCKED"
	CodeDuplicateAttempt  Code = "DUPLICATE_ATTEMPT"
	CodeDuplicateAnswer   Code = "DUPLICATE_ANSWER"
	CodeNameTaken         Code = "TEAM_NAME_TAKEN"
	CodeCapacityExceeded  Code = "CAPACITY_EXCEEDED"
	CodeQuestionInactive  Code = "QUESTION_NOT_ACTIVE"
	CodeSessionFinished   Code = "SESSION_FINISHED"
	CodeDailyLimit        Code = "DAILY_LIMIT_REACHED"
	CodeInvalidPayload    Code = "INVALID_PAYLOAD"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodePinExhausted      Code = "PIN_EXHAUSTED"
)

// Kind maps a code to its class.
func (c Code) Kind() Kind {
	switch c {
	case CodeNotFound:
		return KindNotFound
	case CodeInvalidTransition, CodeBuzzerLocked, CodeDuplicateAttempt, CodeDuplicateAnswer,
		CodeNameTaken, CodeCapacityExceeded, CodeQuestionInactive, CodeSessionFinished:
		return KindConflict
	case CodeDailyLimit:
		return KindForbidden
	case CodeInvalidPayload, CodeInvalidArgument:
		return KindValidation
	default:
		return KindInternal
	}
}

// Error is a classified domain error. Message is safe to return to callers.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the class of e.
func (e *Error) Kind() Kind { return e.Code.Kind() }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound          = New(CodeNotFound, "not found")
	ErrInvalidTransition = New(CodeInvalidTransition, "invalid state transition")
	ErrBuzzerLocked      = New(CodeBuzzerLocked, "buzzer is locked")
	ErrDuplicateAttempt  = New(CodeDuplicateAttempt, "team already buzzed for this question")
	ErrDuplicateAnswer   = New(CodeDuplicateAnswer, "team already answered this question")
	ErrNameTaken         = New(CodeNameTaken, "team name already taken")
	ErrCapacityExceeded  = New(CodeCapacityExceeded, "session is full")
	ErrQuestionInactive  = New(CodeQuestionInactive, "question is not active")
	ErrSessionFinished   = New(CodeSessionFinished, "session is finished")
	ErrDailyLimit        = New(CodeDailyLimit, "daily session limit reached")
	ErrInvalidPayload    = New(CodeInvalidPayload, "invalid answer payload")
)

// KindOf classifies any error. Errors that carry no *Error are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindInternal
}

// NotFound builds a NotFound error naming the missing resource.
func NotFound(resource string) *Error {
	return New(CodeNotFound, resource+" not found")
}

func Invalid(message string) *Error {
	return New(CodeInvalidArgument, message)
}
