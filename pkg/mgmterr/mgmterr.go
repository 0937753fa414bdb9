// Package mgmterr defines the error-kind taxonomy shared by every
// component of the management daemon. A Kind is not a message: callers
// wrap an underlying error with a Kind so that the dispatcher (legacy
// protocol) and the RPC layer (structured protocol) can each map it to
// their own wire representation without re-deriving what went wrong.
package mgmterr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed, independent of which transport
// reports it.
type Kind int

const (
	// Internal is the zero value so an unwrapped error defaults to the
	// most conservative classification.
	Internal Kind = iota
	// Codec indicates a malformed legacy wire message: truncated buffer,
	// bad NUL terminator, invalid enum discriminant, trailing bytes.
	Codec
	// Transport indicates a connect/read/write failure, an address list
	// with no reachable entries, or an exhausted peer address list.
	Transport
	// Auth indicates an unauthenticated message on a secret-required
	// channel, or a bad shared secret.
	Auth
	// NotFound indicates an entity looked up by uid, alias, or num_id is
	// absent.
	NotFound
	// Conflict indicates alias/num_id collisions, a target already
	// grouped, a non-empty pool on delete, default-pool deletion, or a
	// client-mounted precondition failure.
	Conflict
	// Invalid indicates a malformed alias, an out-of-range num_id, or a
	// capacity limit ordering violation (low < emergency).
	Invalid
	// Policy indicates registration-disabled or an operation attempted
	// during pre-shutdown.
	Policy
	// Peer indicates a remote node returned a non-success status during
	// a multi-step operation (e.g. a switchover commit).
	Peer
)

func (k Kind) String() string {
	switch k {
	case Codec:
		return "Codec"
	case Transport:
		return "Transport"
	case Auth:
		return "Auth"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case Invalid:
		return "Invalid"
	case Policy:
		return "Policy"
	case Peer:
		return "Peer"
	default:
		return "Internal"
	}
}

// Error pairs a Kind with the underlying cause, kept reachable via errors.Unwrap.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the classification attached to err, for use by callers.
func (e *Error) Kind() Kind { return e.kind }

// New wraps err with kind. If err is nil, New returns nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: err}
}

// Newf builds a Kind-classified error from a format string, the way
// fmt.Errorf builds a plain one.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind attached to err via New/Newf, walking the
// wrap chain. An error with no attached Kind classifies as Internal.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.kind
	}
	return Internal
}

// Is reports whether err (or anything it wraps) was classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
