package document

import "errors"

// ErrFieldNotFound names the case of a field that was never set (or is
// currently a tombstone) on a document. Document.Get reports that case
// through its ok result and does not return this error.
var ErrFieldNotFound = errors.New("field not found")

// ErrDocumentMismatch indicates a delta or operation was addressed to
// a different document than the one it is being applied to.
var ErrDocumentMismatch = errors.New("document id mismatch")

// ConflictError is returned when two registers carry the identical
// timestamp but differing values — a protocol violation, since two
// distinct operations must never share the same (logical, client) pair.
type ConflictError struct {
	Field    FieldName
	Local    Value
	Remote   Value
	Detail   string
}

func (e *ConflictError) Error() string {
	if e.Detail != "" {
		return "conflict on field " + string(e.Field) + ": " + e.Detail
	}
	return "conflict on field " + string(e.Field) + ": equal timestamp, differing values"
}

// Code returns a stable, machine-readable identifier for the error,
// following the same convention as the field-register error taxonomy.
func (e *ConflictError) Code() string { return "PROTOCOL_VIOLATION" }

// Retryable reports whether retrying the same operation could ever
// succeed. A protocol violation never will: it is a caller defect.
func (e *ConflictError) Retryable() bool { return false }

// Code returns a stable, machine-readable identifier for err if err (or
// something it wraps) is one of this package's sentinel errors, and ""
// otherwise.
func Code(err error) string {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		return conflict.Code()
	case errors.Is(err, ErrFieldNotFound):
		return "FIELD_NOT_FOUND"
	case errors.Is(err, ErrDocumentMismatch):
		return "DOCUMENT_MISMATCH"
	default:
		return ""
	}
}
