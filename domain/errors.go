package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures so callers can decide whether to surface, retry or ignore them
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindExternal
	KindInfrastructure
	KindSecurity
	KindConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindExternal:
		return "external"
	case KindInfrastructure:
		return "infrastructure"
	case KindSecurity:
		return "security"
	case KindConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

// Error is the typed error returned by service operations
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		if e.Message != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(op, format string, a ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, a...)}
}

func NotFound(op, what string, id any) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s %v not found", what, id)}
}

func Forbidden(op, format string, a ...any) error {
	return &Error{Kind: KindForbidden, Op: op, Message: fmt.Sprintf(format, a...)}
}

func External(op, message string, err error) error {
	return &Error{Kind: KindExternal, Op: op, Message: message, Err: err}
}

func Infrastructure(op, message string, err error) error {
	return &Error{Kind: KindInfrastructure, Op: op, Message: message, Err: err}
}

func Security(op, message string, err error) error {
	return &Error{Kind: KindSecurity, Op: op, Message: message, Err: err}
}

func Configuration(op, message string, err error) error {
	return &Error{Kind: KindConfiguration, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first domain error in err's chain
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// FormatErrorForUser converts errors to messages suitable for CLI and API output
// This should only be called at the handler level
func FormatErrorForUser(err error) string {
	if err == nil {
		return ""
	}

	var de *Error
	if errors.As(err, &de) && de.Kind != KindInternal && de.Kind != KindInfrastructure {
		if de.Message != "" {
			return de.Message
		}
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "unique constraint"):
		return "this entry already exists"
	case strings.Contains(errStr, "record not found"):
		return "resource not found"
	case strings.Contains(errStr, "timeout"):
		return "operation timed out"
	case strings.Contains(errStr, "unable to authenticate"):
		return "ssh authentication failed - please check the server credentials"
	case strings.Contains(errStr, "connection refused"):
		return "connection refused by remote host"
	case strings.Contains(errStr, "connection"):
		return "connection failed"
	default:
		return "an unexpected error occurred"
	}
}
