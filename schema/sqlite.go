package schema

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// SQLiteResolver resolves entities by introspecting a live SQLite
// database: fields from pragma_table_info, the primary key from its pk
// column, and associations from foreign keys. Lookups are lazy and cached;
// the resolver is safe for concurrent use.
//
// The database handle is only ever read from.
type SQLiteResolver struct {
	db     *sql.DB
	mutex  sync.RWMutex
	tables map[string]*entityInfo
}

// NewSQLiteResolver returns a resolver reading table metadata from db.
func NewSQLiteResolver(db *sql.DB) *SQLiteResolver {
	return &SQLiteResolver{db: db, tables: map[string]*entityInfo{}}
}

// sqliteType maps a SQLite declared column type to a Go type, following
// SQLite's type affinity rules.
func sqliteType(decl string) reflect.Type {
	decl = strings.ToUpper(decl)
	switch {
	case strings.Contains(decl, "BOOL"):
		return reflect.TypeOf(false)
	case strings.Contains(decl, "INT"):
		return reflect.TypeOf(int64(0))
	case strings.Contains(decl, "CHAR"), strings.Contains(decl, "CLOB"), strings.Contains(decl, "TEXT"):
		return reflect.TypeOf("")
	case strings.Contains(decl, "BLOB"):
		return reflect.TypeOf([]byte(nil))
	case strings.Contains(decl, "REAL"), strings.Contains(decl, "FLOA"), strings.Contains(decl, "DOUB"):
		return reflect.TypeOf(float64(0))
	case strings.Contains(decl, "DATE"), strings.Contains(decl, "TIME"):
		return reflect.TypeOf(time.Time{})
	}
	return reflect.TypeOf("")
}

func (r *SQLiteResolver) load(entity string) (*entityInfo, error) {
	r.mutex.RLock()
	info, ok := r.tables[entity]
	r.mutex.RUnlock()
	if ok {
		return info, nil
	}

	rows, err := r.db.Query("SELECT name, type, pk FROM pragma_table_info(?)", entity)
	if err != nil {
		return nil, fmt.Errorf("cannot introspect %q: %s", entity, err)
	}
	defer rows.Close()

	info = &entityInfo{assocs: map[string]*Association{}}
	for rows.Next() {
		var name, decl string
		var pk int
		if err := rows.Scan(&name, &decl, &pk); err != nil {
			return nil, fmt.Errorf("cannot introspect %q: %s", entity, err)
		}
		info.fields = append(info.fields, Field{Name: name, Type: sqliteType(decl), Column: name})
		if pk == 1 {
			info.primary = name
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot introspect %q: %s", entity, err)
	}
	if len(info.fields) == 0 {
		return nil, &UnknownEntityError{Entity: entity}
	}

	r.mutex.Lock()
	r.tables[entity] = info
	r.mutex.Unlock()
	return info, nil
}

// foreignKey describes one foreign key column of a table.
type foreignKey struct {
	table string
	from  string
	to    string
}

func (r *SQLiteResolver) foreignKeys(entity string) ([]foreignKey, error) {
	rows, err := r.db.Query(`SELECT "table", "from", IFNULL("to", '') FROM pragma_foreign_key_list(?)`, entity)
	if err != nil {
		return nil, fmt.Errorf("cannot read foreign keys of %q: %s", entity, err)
	}
	defer rows.Close()

	var fks []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.table, &fk.from, &fk.to); err != nil {
			return nil, fmt.Errorf("cannot read foreign keys of %q: %s", entity, err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// Fields implements Resolver.
func (r *SQLiteResolver) Fields(entity string) ([]Field, error) {
	info, err := r.load(entity)
	if err != nil {
		return nil, err
	}
	return info.fields, nil
}

// PrimaryKey implements Resolver.
func (r *SQLiteResolver) PrimaryKey(entity string) (string, error) {
	info, err := r.load(entity)
	if err != nil {
		return "", err
	}
	return info.primary, nil
}

// Association implements Resolver. An association named after a table
// holding a foreign key to entity resolves as has-many; a foreign key on
// entity itself pointing at the named table resolves as belongs-to.
func (r *SQLiteResolver) Association(entity, name string) (*Association, error) {
	owner, err := r.load(entity)
	if err != nil {
		return nil, err
	}

	// belongs-to: entity carries a foreign key to the table called name.
	fks, err := r.foreignKeys(entity)
	if err != nil {
		return nil, err
	}
	for _, fk := range fks {
		if fk.table != name {
			continue
		}
		target, err := r.load(name)
		if err != nil {
			return nil, err
		}
		targetKey := fk.to
		if targetKey == "" {
			targetKey = target.primary
		}
		return &Association{Name: name, Target: name, OwnerKey: fk.from, TargetKey: targetKey}, nil
	}

	// has-many: the table called name carries a foreign key back to entity.
	if _, err := r.load(name); err != nil {
		if _, ok := err.(*UnknownEntityError); ok {
			return nil, nil
		}
		return nil, err
	}
	fks, err = r.foreignKeys(name)
	if err != nil {
		return nil, err
	}
	for _, fk := range fks {
		if fk.table != entity {
			continue
		}
		ownerKey := fk.to
		if ownerKey == "" {
			ownerKey = owner.primary
		}
		return &Association{Name: name, Target: name, OwnerKey: ownerKey, TargetKey: fk.from}, nil
	}
	return nil, nil
}
