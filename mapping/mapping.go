// Package mapping turns JSON documents into engine documents.
package mapping

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/jsonindex/engine"
)

// ErrNoKey is returned when a document has no usable id field.
var ErrNoKey = errors.New("mapping: document has no id")

// Mapper maps a JSON document of an area to an engine document.
type Mapper interface {
	Map(area string, doc json.RawMessage) (engine.Document, error)
}

// Key returns the engine key of a document id within an area. Keys are
// area-qualified so equal ids in different areas do not collide.
func Key(area, id string) string {
	return area + "/" + id
}

// FlatMapper indexes every scalar value under its dotted path, e.g.
// {"a":{"b":[1,2]}} yields two fields named "a.b". Nested arrays are
// flattened into their parent path.
type FlatMapper struct {
	// IDField is the dotted path of the document id. Defaults to "id".
	IDField string
	// AreaField, when set, adds a keyword field holding the area name.
	AreaField string
}

// Map implements Mapper.
func (m FlatMapper) Map(area string, doc json.RawMessage) (engine.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return engine.Document{}, fmt.Errorf("mapping: decode %s document: %w", area, err)
	}
	if _, ok := v.(map[string]any); !ok {
		return engine.Document{}, fmt.Errorf("mapping: %s document is not an object", area)
	}

	var fields []engine.Field
	flatten("", v, &fields)

	idField := m.IDField
	if idField == "" {
		idField = "id"
	}
	var id string
	for _, f := range fields {
		if f.Name == idField {
			id = f.Value
			break
		}
	}
	if id == "" {
		return engine.Document{}, fmt.Errorf("%w: field %q in area %s", ErrNoKey, idField, area)
	}
	if m.AreaField != "" {
		fields = append(fields, engine.Field{Name: m.AreaField, Value: area})
	}

	return engine.Document{
		Key:    Key(area, id),
		Fields: fields,
		Source: doc,
	}, nil
}

func flatten(path string, v any, out *[]engine.Field) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			p := k
			if path != "" {
				p = path + "." + k
			}
			flatten(p, x[k], out)
		}
	case []any:
		for _, e := range x {
			flatten(path, e, out)
		}
	case string:
		*out = append(*out, engine.Field{Name: path, Value: x})
	case json.Number:
		*out = append(*out, engine.Field{Name: path, Value: x.String()})
	case bool:
		*out = append(*out, engine.Field{Name: path, Value: strconv.FormatBool(x)})
	case nil:
	}
}

// SplitKey splits an engine key produced by Key.
func SplitKey(key string) (area, id string, ok bool) {
	return strings.Cut(key, "/")
}
