// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package schema supplies entity metadata to the query planner.
//
// The planner consumes metadata through the Resolver interface and treats
// every lookup as fallible. Three resolvers are provided: ReflectResolver
// over registered Go structs, YAMLResolver over a YAML schema document,
// and SQLiteResolver over a live SQLite database.
package schema

import (
	"fmt"
	"reflect"
)

// Field describes one declared field of an entity.
type Field struct {
	// Name is the field name used in queries.
	Name string
	// Type is the field's Go type.
	Type reflect.Type
	// Column is the source column backing the field. Defaults to Name.
	Column string
}

// Association describes a named relationship declared by an entity.
type Association struct {
	// Name is the association name used in join expressions.
	Name string
	// Target is the entity on the other side.
	Target string
	// OwnerKey is the key field on the declaring entity.
	OwnerKey string
	// TargetKey is the key field on the target entity.
	TargetKey string
}

// A Resolver supplies entity metadata to the planner. Implementations must
// be safe for concurrent readers: independent compilations may resolve
// entities in parallel.
type Resolver interface {
	// Fields returns the declared fields of entity in declaration order.
	Fields(entity string) ([]Field, error)

	// PrimaryKey returns the name of entity's primary key field, or ""
	// when the entity declares none.
	PrimaryKey(entity string) (string, error)

	// Association returns the named association declared by entity, or
	// nil when entity declares no association of that name.
	Association(entity, name string) (*Association, error)
}

// UnknownEntityError reports a lookup of an entity the resolver does not
// know about.
type UnknownEntityError struct {
	Entity string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown entity %q", e.Entity)
}

// entityInfo is the resolved metadata shared by the in-memory resolvers.
type entityInfo struct {
	fields  []Field
	primary string
	assocs  map[string]*Association
}

func (ei *entityInfo) field(name string) (Field, bool) {
	for _, f := range ei.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
