// Package apperr defines the failure taxonomy surfaced by the registry core.
// Every failure carries the organization, dataset and batch token it concerns
// so callers can log it and operators can trace it.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	Internal Kind = iota
	BadRequest
	Unauthenticated
	Unauthorized
	NotFound
	Conflict
	NotImplemented
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad request"
	case Unauthenticated:
		return "unauthenticated"
	case Unauthorized:
		return "unauthorized"
	case NotFound:
		return "not found"
	case Conflict:
		return "conflict"
	case NotImplemented:
		return "not implemented"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is; any *Error of the same Kind matches.
var (
	ErrBadRequest      = &Error{Kind: BadRequest}
	ErrUnauthenticated = &Error{Kind: Unauthenticated}
	ErrUnauthorized    = &Error{Kind: Unauthorized}
	ErrNotFound        = &Error{Kind: NotFound}
	ErrConflict        = &Error{Kind: Conflict}
	ErrNotImplemented  = &Error{Kind: NotImplemented}
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string
	Org     string
	Dataset string
	Token   string
	Msg     string
	Err     error
}

// E builds an Error of the given kind.
func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// In attaches the namespace to the failure.
func (e *Error) In(org, ds string) *Error {
	e.Org, e.Dataset = org, ds
	return e
}

// ForBatch attaches the batch token to the failure.
func (e *Error) ForBatch(token string) *Error {
	e.Token = token
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	var scope []string
	if e.Org != "" {
		scope = append(scope, "org="+e.Org)
	}
	if e.Dataset != "" {
		scope = append(scope, "dataset="+e.Dataset)
	}
	if e.Token != "" {
		scope = append(scope, "batch="+e.Token)
	}
	if len(scope) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(scope, " "))
	}
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

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, Internal when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
