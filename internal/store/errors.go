package store

import (
	"errors"
	"fmt"
)

// Kind classifies a storage failure.
type Kind uint8

const (
	KindConnection Kind = iota + 1
	KindSchema
	KindQuery
	KindInsert
	KindTransaction
	KindConfiguration
	KindNotFound
	KindMigration
	KindIo
	KindLock
)

var kindNames = map[Kind]string{
	KindConnection:    "connection",
	KindSchema:        "schema",
	KindQuery:         "query",
	KindInsert:        "insert",
	KindTransaction:   "transaction",
	KindConfiguration: "configuration",
	KindNotFound:      "not found",
	KindMigration:     "migration",
	KindIo:            "io",
	KindLock:          "lock",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is the single error type raised by the storage core. The taxonomy is
// flat: wrapping a *Error never nests another *Error.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// Sentinels for errors.Is. Each matches any *Error of the same kind.
var (
	ErrConnection    = &Error{Kind: KindConnection}
	ErrSchema        = &Error{Kind: KindSchema}
	ErrQuery         = &Error{Kind: KindQuery}
	ErrInsert        = &Error{Kind: KindInsert}
	ErrTransaction   = &Error{Kind: KindTransaction}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrMigration     = &Error{Kind: KindMigration}
	ErrIo            = &Error{Kind: KindIo}
	ErrLock          = &Error{Kind: KindLock}
)

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel values of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Detail == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// Errorf builds an error of the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and detail to err. A *Error cause is flattened into the
// new value. Wrap returns nil when err is nil.
func Wrap(kind Kind, err error, detail string) error {
	if err == nil {
		return nil
	}
	var inner *Error
	if errors.As(err, &inner) {
		d := detail
		if inner.Detail != "" {
			d = detail + ": " + inner.Detail
		}
		return &Error{Kind: kind, Detail: d, Err: inner.Err}
	}
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Wrapf is Wrap with a formatted detail.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	return Wrap(kind, err, fmt.Sprintf(format, args...))
}

// KindOf reports the kind of err, or zero when err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
