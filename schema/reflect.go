package schema

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// ReflectResolver resolves entities registered from Go struct samples.
// Fields are taken from struct fields carrying a "db" tag, in declaration
// order. It is safe for concurrent use.
type ReflectResolver struct {
	mutex    sync.RWMutex
	entities map[string]*entityInfo
}

// NewReflectResolver returns an empty ReflectResolver.
func NewReflectResolver() *ReflectResolver {
	return &ReflectResolver{entities: map[string]*entityInfo{}}
}

// This expression should be aligned with the field names the planner
// accepts in references.
var validFieldNameRx = regexp.MustCompile(`^([a-zA-Z_])+([a-zA-Z_0-9])*$`)

// parseTag parses a "db" struct tag and returns the field name and whether
// it carries the "primary" option.
func parseTag(tag string) (string, bool, error) {
	options := strings.Split(tag, ",")

	var primary bool
	if len(options) > 2 {
		return "", false, fmt.Errorf("too many options in 'db' tag")
	}
	if len(options) == 2 {
		if strings.ToLower(options[1]) != "primary" {
			return "", false, fmt.Errorf("unexpected tag value %q", options[1])
		}
		primary = true
	}

	name := options[0]
	if len(name) == 0 {
		return "", false, fmt.Errorf("empty db tag")
	}
	if !validFieldNameRx.MatchString(name) {
		return "", false, fmt.Errorf("invalid field name in 'db' tag")
	}

	return name, primary, nil
}

// Register adds an entity backed by the given struct sample. Only struct
// fields with a "db" tag become entity fields. The primary key is the
// field tagged `db:"...,primary"`, falling back to a field named "id".
func (r *ReflectResolver) Register(entity string, sample any) error {
	if sample == nil {
		return fmt.Errorf("cannot register %q: need struct, got nil", entity)
	}
	value := reflect.Indirect(reflect.ValueOf(sample))
	if value.Kind() != reflect.Struct {
		return fmt.Errorf("cannot register %q: need struct, got %s", entity, value.Kind())
	}

	info := &entityInfo{assocs: map[string]*Association{}}
	typ := value.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		// Fields without a "db" tag are outside of the planner's remit.
		tag := field.Tag.Get("db")
		if tag == "" {
			continue
		}
		name, primary, err := parseTag(tag)
		if err != nil {
			return fmt.Errorf("cannot register %q: %s", entity, err)
		}
		info.fields = append(info.fields, Field{Name: name, Type: field.Type, Column: name})
		if primary {
			info.primary = name
		}
	}
	if info.primary == "" {
		if _, ok := info.field("id"); ok {
			info.primary = "id"
		}
	}

	r.mutex.Lock()
	r.entities[entity] = info
	r.mutex.Unlock()
	return nil
}

// HasMany declares a one-to-many association from entity to target. The
// owner key defaults to entity's primary key when ownerKey is empty.
func (r *ReflectResolver) HasMany(entity, name, target, ownerKey, targetKey string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	info, ok := r.entities[entity]
	if !ok {
		return &UnknownEntityError{Entity: entity}
	}
	if ownerKey == "" {
		ownerKey = info.primary
	}
	info.assocs[name] = &Association{Name: name, Target: target, OwnerKey: ownerKey, TargetKey: targetKey}
	return nil
}

// BelongsTo declares a many-to-one association from entity to target.
func (r *ReflectResolver) BelongsTo(entity, name, target, ownerKey, targetKey string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	info, ok := r.entities[entity]
	if !ok {
		return &UnknownEntityError{Entity: entity}
	}
	info.assocs[name] = &Association{Name: name, Target: target, OwnerKey: ownerKey, TargetKey: targetKey}
	return nil
}

func (r *ReflectResolver) lookup(entity string) (*entityInfo, error) {
	r.mutex.RLock()
	info, ok := r.entities[entity]
	r.mutex.RUnlock()
	if !ok {
		return nil, &UnknownEntityError{Entity: entity}
	}
	return info, nil
}

// Fields implements Resolver.
func (r *ReflectResolver) Fields(entity string) ([]Field, error) {
	info, err := r.lookup(entity)
	if err != nil {
		return nil, err
	}
	return info.fields, nil
}

// PrimaryKey implements Resolver.
func (r *ReflectResolver) PrimaryKey(entity string) (string, error) {
	info, err := r.lookup(entity)
	if err != nil {
		return "", err
	}
	return info.primary, nil
}

// Association implements Resolver.
func (r *ReflectResolver) Association(entity, name string) (*Association, error) {
	info, err := r.lookup(entity)
	if err != nil {
		return nil, err
	}
	return info.assocs[name], nil
}
