package models

import (
	"errors"
	"fmt"
)

// Kind classifies a feature store failure so callers can branch without string matching.
type Kind int

const (
	// KindUnknown is never produced by the store; it is what KindOf reports for foreign errors.
	KindUnknown Kind = iota
	// KindDegenerateVector is a zero-norm embedding, rejected before anything is persisted.
	KindDegenerateVector
	// KindNotFound means the id is absent or one half of its pair is missing.
	KindNotFound
	// KindCorrupt means the record exists but its payload or sidecar cannot be used.
	KindCorrupt
	// KindExtractionFailed wraps an error from the embedding adapter.
	KindExtractionFailed
	// KindStoreWriteFailed is a disk, permission or database failure while persisting or scanning.
	KindStoreWriteFailed
	// KindInvalidArgument covers empty, non-finite or wrong-length vectors and bad top-k values.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindDegenerateVector:
		return "degenerate_vector"
	case KindNotFound:
		return "not_found"
	case KindCorrupt:
		return "corrupt"
	case KindExtractionFailed:
		return "extraction_failed"
	case KindStoreWriteFailed:
		return "store_write_failed"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a kind.
var (
	ErrDegenerateVector = &Error{Kind: KindDegenerateVector}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrCorrupt          = &Error{Kind: KindCorrupt}
	ErrExtractionFailed = &Error{Kind: KindExtractionFailed}
	ErrStoreWriteFailed = &Error{Kind: KindStoreWriteFailed}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
)

// Error is the typed error returned by the store, the index and the orchestrator.
//
// The underlying cause (if any) can be accessed via errors.Unwrap.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

// NewError returns an *Error of the given kind.
func NewError(kind Kind, op, id string, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.ID != "" {
		msg += fmt.Sprintf(" (id %s)", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. Op, ID and cause are ignored,
// which lets errors.Is(err, ErrNotFound) work for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRecordLevel reports whether err concerns a single record (corrupt or vanished) rather than
// the store as a whole. Scans skip record-level errors and abort on everything else.
func IsRecordLevel(err error) bool {
	switch KindOf(err) {
	case KindCorrupt, KindNotFound:
		return true
	default:
		return false
	}
}
