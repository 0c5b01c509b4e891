package domain

import (
	"errors"
	"strings"
)

// Kind classifies failures so callers can react without string matching.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindAuth        Kind = "auth"
	KindQuery       Kind = "query"
	KindPersistence Kind = "persistence"
	KindNotFound    Kind = "not_found"
	KindStorage     Kind = "storage"
)

// Error is the typed error returned by repositories and services.
// errors.Is(err, ErrValidation) matches any *Error of the same kind.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrAuth        = &Error{Kind: KindAuth}
	ErrQuery       = &Error{Kind: KindQuery}
	ErrPersistence = &Error{Kind: KindPersistence}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrStorage     = &Error{Kind: KindStorage}
)

// E builds an *Error of the given kind wrapping err.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Msg builds an *Error of the given kind with a message and no cause.
func Msg(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// KindOf reports the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
