// Package dberr holds the error kinds surfaced by tightdb.
//
// Every failure is returned wrapped with context, so callers match kinds with
// errors.Is:
//
//	if errors.Is(err, dberr.ErrorWouldBlock) { ... }
package dberr

import "errors"

var (
	// Structural mismatch: duplicated column, unknown column, bad descriptor.
	ErrorSchema = errors.New("schema error")

	// Operation not valid for the current transaction state.
	ErrorTransactionState = errors.New("transaction state error")

	ErrorTypeMismatch = errors.New("type mismatch")
	ErrorNullability  = errors.New("nullability error")

	// The row handle no longer refers to a live row.
	ErrorInvalidatedRow = errors.New("invalidated row")

	// Disk failure. Never retried internally.
	ErrorIO = errors.New("io error")

	ErrorFileAccess             = errors.New("file access error")
	ErrorSchemaVersionMismatch  = errors.New("schema version mismatch")
	ErrorIncompatibleFileFormat = errors.New("incompatible file format")

	// Malformed host string or unsupported host value.
	ErrorEncoding = errors.New("encoding error")

	// Another write transaction is active against the same file.
	ErrorWouldBlock = errors.New("would block")

	ErrorClosed        = errors.New("group is closed")
	ErrorTableNotFound = errors.New("table not found")
)
