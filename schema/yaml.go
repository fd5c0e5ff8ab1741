package schema

import (
	"fmt"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLResolver resolves entities defined in a YAML schema document of the
// form:
//
//	entities:
//	  posts:
//	    primary_key: id
//	    fields:
//	      - {name: id, type: int}
//	      - {name: title, type: string}
//	    associations:
//	      - {name: comments, target: comments, owner_key: id, target_key: post_id}
//
// Field order in the document is the entity's declaration order. Types are
// named by a small vocabulary: int, string, bool, float, time, bytes.
type YAMLResolver struct {
	entities map[string]*entityInfo
}

type yamlSchema struct {
	Entities map[string]yamlEntity `yaml:"entities"`
}

type yamlEntity struct {
	PrimaryKey   string            `yaml:"primary_key"`
	Fields       []yamlField       `yaml:"fields"`
	Associations []yamlAssociation `yaml:"associations"`
}

type yamlField struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Column string `yaml:"column"`
}

type yamlAssociation struct {
	Name      string `yaml:"name"`
	Target    string `yaml:"target"`
	OwnerKey  string `yaml:"owner_key"`
	TargetKey string `yaml:"target_key"`
}

var typesByName = map[string]reflect.Type{
	"int":    reflect.TypeOf(int64(0)),
	"string": reflect.TypeOf(""),
	"bool":   reflect.TypeOf(false),
	"float":  reflect.TypeOf(float64(0)),
	"time":   reflect.TypeOf(time.Time{}),
	"bytes":  reflect.TypeOf([]byte(nil)),
}

// ParseYAML builds a YAMLResolver from the given schema document.
func ParseYAML(data []byte) (resolver *YAMLResolver, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot parse schema: %s", err)
		}
	}()

	var doc yamlSchema
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("no entities defined")
	}

	entities := map[string]*entityInfo{}
	for name, ye := range doc.Entities {
		info := &entityInfo{assocs: map[string]*Association{}}
		for _, yf := range ye.Fields {
			if yf.Name == "" {
				return nil, fmt.Errorf("entity %q: field with no name", name)
			}
			typ, ok := typesByName[yf.Type]
			if !ok {
				return nil, fmt.Errorf("entity %q: field %q has unknown type %q", name, yf.Name, yf.Type)
			}
			column := yf.Column
			if column == "" {
				column = yf.Name
			}
			info.fields = append(info.fields, Field{Name: yf.Name, Type: typ, Column: column})
		}
		info.primary = ye.PrimaryKey
		if info.primary == "" {
			if _, ok := info.field("id"); ok {
				info.primary = "id"
			}
		}
		if info.primary != "" {
			if _, ok := info.field(info.primary); !ok {
				return nil, fmt.Errorf("entity %q: primary key %q is not a field", name, info.primary)
			}
		}
		for _, ya := range ye.Associations {
			if ya.Name == "" || ya.Target == "" {
				return nil, fmt.Errorf("entity %q: association needs a name and a target", name)
			}
			ownerKey := ya.OwnerKey
			if ownerKey == "" {
				ownerKey = info.primary
			}
			info.assocs[ya.Name] = &Association{
				Name:      ya.Name,
				Target:    ya.Target,
				OwnerKey:  ownerKey,
				TargetKey: ya.TargetKey,
			}
		}
		entities[name] = info
	}

	return &YAMLResolver{entities: entities}, nil
}

func (r *YAMLResolver) lookup(entity string) (*entityInfo, error) {
	info, ok := r.entities[entity]
	if !ok {
		return nil, &UnknownEntityError{Entity: entity}
	}
	return info, nil
}

// Fields implements Resolver.
func (r *YAMLResolver) Fields(entity string) ([]Field, error) {
	info, err := r.lookup(entity)
	if err != nil {
		return nil, err
	}
	return info.fields, nil
}

// PrimaryKey implements Resolver.
func (r *YAMLResolver) PrimaryKey(entity string) (string, error) {
	info, err := r.lookup(entity)
	if err != nil {
		return "", err
	}
	return info.primary, nil
}

// Association implements Resolver.
func (r *YAMLResolver) Association(entity, name string) (*Association, error) {
	info, err := r.lookup(entity)
	if err != nil {
		return nil, err
	}
	return info.assocs[name], nil
}
