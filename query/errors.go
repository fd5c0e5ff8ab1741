// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package query

import (
	"errors"
	"fmt"
)

// ErrorKind classifies query compilation failures.
type ErrorKind int

const (
	// CastError reports a value that cannot be coerced to the statically
	// inferred type of the field it is compared against.
	CastError ErrorKind = iota + 1
	// UnknownFieldInSubquery reports a field reference that is absent from
	// a subquery's compiled field list.
	UnknownFieldInSubquery
	// InvalidMapKey reports a map select key that is not an atom, or an
	// override key that is not a declared field.
	InvalidMapKey
	// UnsupportedSubquerySelect reports a select expression shape that a
	// subquery cannot expose.
	UnsupportedSubquerySelect
	// IllegalMergeTarget reports a merge whose operands cannot be merged.
	IllegalMergeTarget
	// IllegalPreloadInSubquery reports a preload clause inside a subquery.
	IllegalPreloadInSubquery
	// IllegalUpdateInSubquery reports an update clause inside a subquery.
	IllegalUpdateInSubquery
	// SubqueryNotAllowedInBulkFrom reports a bulk operation whose primary
	// source is a subquery.
	SubqueryNotAllowedInBulkFrom
	// AssociationRequiresSourceSchema reports an association join off a
	// source that does not resolve to a whole entity row.
	AssociationRequiresSourceSchema
	// CannotSubsetSubqueryStruct reports a select taking a list subset of
	// a map or struct shaped subquery binding.
	CannotSubsetSubqueryStruct
	// UnknownEntity reports an entity the schema resolver does not know.
	UnknownEntity
	// UnknownField reports a field not declared by its entity.
	UnknownField
	// UnknownAssociation reports an association not declared by its
	// entity.
	UnknownAssociation
)

func (k ErrorKind) String() string {
	switch k {
	case CastError:
		return "cast error"
	case UnknownFieldInSubquery:
		return "unknown field in subquery"
	case InvalidMapKey:
		return "invalid map key"
	case UnsupportedSubquerySelect:
		return "unsupported subquery select"
	case IllegalMergeTarget:
		return "illegal merge target"
	case IllegalPreloadInSubquery:
		return "illegal preload in subquery"
	case IllegalUpdateInSubquery:
		return "illegal update in subquery"
	case SubqueryNotAllowedInBulkFrom:
		return "subquery not allowed in bulk from"
	case AssociationRequiresSourceSchema:
		return "association requires source schema"
	case CannotSubsetSubqueryStruct:
		return "cannot subset subquery struct"
	case UnknownEntity:
		return "unknown entity"
	case UnknownField:
		return "unknown field"
	case UnknownAssociation:
		return "unknown association"
	}
	return "unknown error kind"
}

// CompileError is a single failed compilation step. Source carries the
// index of the offending source when the failure is tied to one, -1
// otherwise.
type CompileError struct {
	Kind   ErrorKind
	Source int
	msg    string
}

// Errorf builds a CompileError of the given kind. Pass source -1 when the
// failure is not tied to a particular source.
func Errorf(kind ErrorKind, source int, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Source: source, msg: fmt.Sprintf(format, args...)}
}

func (e *CompileError) Error() string {
	if e.Source >= 0 {
		return fmt.Sprintf("%s (source %d)", e.msg, e.Source)
	}
	return e.msg
}

// HasKind reports whether err's chain contains a CompileError of kind k.
func HasKind(err error, k ErrorKind) bool {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Kind == k
	}
	return false
}

// SubqueryError reports a failure that occurred strictly inside the
// compilation of a subquery. It carries the inner query so the failing
// subquery can be rendered in the message.
type SubqueryError struct {
	Err   error
	Query *Query
}

func (e *SubqueryError) Error() string {
	return fmt.Sprintf("%s: while compiling a subquery: %s", e.Err, e.Query)
}

// Unwrap exposes the original error only for the kinds callers are allowed
// to pattern-match through the subquery boundary: cast failures and
// unknown subquery fields. Every other inner kind is reported through the
// SubqueryError alone.
func (e *SubqueryError) Unwrap() error {
	if HasKind(e.Err, CastError) || HasKind(e.Err, UnknownFieldInSubquery) {
		return e.Err
	}
	return nil
}
