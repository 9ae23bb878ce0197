package reminder

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors for callers and transports.
type Kind string

const (
	KindValidation  Kind = "ValidationError"
	KindNotFound    Kind = "NotFoundError"
	KindPersistence Kind = "PersistenceError"
	KindCorruptData Kind = "CorruptDataError"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func Validation(field, reason string) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf("invalid %s: %s", field, reason)}
}

func NotFound(id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("reminder %q not found", id)}
}

func Persistence(message string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: message, Err: err}
}

func CorruptData(message string, err error) *Error {
	return &Error{Kind: KindCorruptData, Message: message, Err: err}
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
