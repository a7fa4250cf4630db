// Package errors provides the Kind/Severity tagged error type used across
// this module, adapted from the teacher repository's errors package. The
// Vanadium (v.io/v23/verror) bridge present there has no analog in a
// networkless, transactionless store and is dropped; everything else about
// the shape (Kind, E, Is) is preserved.
package errors

import (
	"bytes"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind enumerates the error categories from spec §7.
type Kind int

const (
	// Other is the zero value: an uncategorized error.
	Other Kind = iota
	// BadInput covers a zero key, an oversized value, or a negative load
	// factor: rejected synchronously before any I/O is attempted.
	BadInput
	// ConstructionFailure covers separator/cuckoo displacement exceeding
	// MaxProbes: the caller must lower the load factor or change parameters.
	ConstructionFailure
	// FormatError covers a magic/version mismatch on open.
	FormatError
	// IoError covers any failed read/write/truncate/sync. Treated as fatal:
	// the store has no partial-failure recovery path.
	IoError
	// UsageError covers reusing a non-idle handle, misaligned direct-I/O
	// buffers, or enqueuing after close.
	UsageError
	// NotFound is not a true error condition; see query.Handle, which
	// reports "not found" via a nil result rather than this type. Kept here
	// only so callers that wrap a lookup in a single error-returning
	// function have a kind to tag it with.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case BadInput:
		return "bad input"
	case ConstructionFailure:
		return "construction failure"
	case FormatError:
		return "format error"
	case IoError:
		return "I/O error"
	case UsageError:
		return "usage error"
	case NotFound:
		return "not found"
	default:
		return "error"
	}
}

// Fatal reports whether errors of this kind are defined by spec §7 as fatal
// (IoError, UsageError): the caller should not attempt to continue using the
// store or view that produced them.
func (k Kind) Fatal() bool {
	return k == IoError || k == UsageError
}

// E is the tagged error value. Construct with New.
type E struct {
	Kind Kind
	Op   string
	Args []interface{}
	Err  error
}

func (e *E) Error() string {
	var b bytes.Buffer
	if e.Op != "" {
		fmt.Fprintf(&b, "%s: ", e.Op)
	}
	if e.Kind != Other {
		fmt.Fprintf(&b, "%s: ", e.Kind)
	}
	for i, a := range e.Args {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%v", a)
	}
	if e.Err != nil {
		if len(e.Args) > 0 || e.Kind != Other || e.Op != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *E) Unwrap() error { return e.Err }

// New builds an *E from a kind, an operation name, and a wrapped error or
// free-form argument list, in any order. A string argument that is the first
// one seen becomes Op; a Kind argument sets Kind; an error argument is
// wrapped (and stack-annotated via github.com/pkg/errors when it isn't
// already one).
func New(args ...interface{}) error {
	e := &E{}
	for _, arg := range args {
		switch v := arg.(type) {
		case Kind:
			e.Kind = v
		case string:
			if e.Op == "" {
				e.Op = v
			} else {
				e.Args = append(e.Args, v)
			}
		case error:
			if _, ok := v.(interface{ StackTrace() pkgerrors.StackTrace }); ok {
				e.Err = v
			} else {
				e.Err = pkgerrors.WithStack(v)
			}
		default:
			e.Args = append(e.Args, v)
		}
	}
	return e
}

// Is reports whether err is an *E of the given Kind.
func Is(kind Kind, err error) bool {
	e, ok := err.(*E)
	if !ok {
		return false
	}
	return e.Kind == kind
}

// Wrap annotates err with a stack trace at the call site, matching the
// teacher's use of github.com/pkg/errors at I/O boundaries.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return New(op, pkgerrors.WithStack(err))
}
