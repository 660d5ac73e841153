// Package schema defines the generic typed-node model every kernel
// marshals its native values into, together with the execution message
// and variable shapes exchanged on the protocol streams.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// NodeType tags each value node with its variant.
type NodeType string

const (
	NodeTypeNull        NodeType = "Null"
	NodeTypeBoolean     NodeType = "Boolean"
	NodeTypeInteger     NodeType = "Integer"
	NodeTypeNumber      NodeType = "Number"
	NodeTypeString      NodeType = "String"
	NodeTypeArray       NodeType = "Array"
	NodeTypeObject      NodeType = "Object"
	NodeTypeDatatable   NodeType = "Datatable"
	NodeTypeImageObject NodeType = "ImageObject"
)

// Node is a self-describing value produced by executing a task.
type Node interface {
	NodeType() NodeType
	json.Marshaler
}

// Null is the absence of a value.
type Null struct{}

func (Null) NodeType() NodeType           { return NodeTypeNull }
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Boolean wraps a native boolean.
type Boolean bool

func (Boolean) NodeType() NodeType { return NodeTypeBoolean }
func (b Boolean) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}

// Integer wraps a whole number.
type Integer int64

func (Integer) NodeType() NodeType { return NodeTypeInteger }
func (i Integer) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(i))
}

// Number wraps a floating-point number.
type Number float64

func (Number) NodeType() NodeType { return NodeTypeNumber }
func (n Number) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(n))
}

// String wraps native text.
type String string

func (String) NodeType() NodeType { return NodeTypeString }
func (s String) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// Array is an ordered sequence of nodes.
type Array []Node

func (Array) NodeType() NodeType { return NodeTypeArray }
func (a Array) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalNode(item)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// ObjectEntry is one key/value pair of an Object.
type ObjectEntry struct {
	Key   string
	Value Node
}

// Object is an ordered map. Entry order is preserved through JSON
// encoding, which is why it is a slice rather than a Go map.
type Object struct {
	Entries []ObjectEntry
}

func (Object) NodeType() NodeType { return NodeTypeObject }

// Get returns the value bound to key, if present.
func (o Object) Get(key string) (Node, bool) {
	for _, e := range o.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range o.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := marshalNode(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DatatableColumn is one named, homogeneously-typed column.
type DatatableColumn struct {
	Name      string
	Validator NodeType // item type the column's values conform to
	Values    []Node
}

// Datatable is a column-oriented tabular value.
type Datatable struct {
	Columns []DatatableColumn
}

func (Datatable) NodeType() NodeType { return NodeTypeDatatable }

// Rows returns the number of rows (the longest column's length).
func (d Datatable) Rows() int {
	rows := 0
	for _, c := range d.Columns {
		if len(c.Values) > rows {
			rows = len(c.Values)
		}
	}
	return rows
}

func (d Datatable) MarshalJSON() ([]byte, error) {
	type columnJSON struct {
		Type      string          `json:"type"`
		Name      string          `json:"name"`
		Validator string          `json:"validator,omitempty"`
		Values    json.RawMessage `json:"values"`
	}
	cols := make([]columnJSON, 0, len(d.Columns))
	for _, c := range d.Columns {
		values, err := Array(c.Values).MarshalJSON()
		if err != nil {
			return nil, err
		}
		cols = append(cols, columnJSON{
			Type:      "DatatableColumn",
			Name:      c.Name,
			Validator: string(c.Validator),
			Values:    values,
		})
	}
	return json.Marshal(struct {
		Type    string       `json:"type"`
		Columns []columnJSON `json:"columns"`
	}{Type: string(NodeTypeDatatable), Columns: cols})
}

// ImageObject is a media value referenced by content URL (usually a data: URL).
type ImageObject struct {
	ContentURL string
	MediaType  string
}

func (ImageObject) NodeType() NodeType { return NodeTypeImageObject }

func (img ImageObject) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       string `json:"type"`
		ContentURL string `json:"contentUrl"`
		MediaType  string `json:"mediaType,omitempty"`
	}{Type: string(NodeTypeImageObject), ContentURL: img.ContentURL, MediaType: img.MediaType})
}

func marshalNode(n Node) ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	return n.MarshalJSON()
}

// MarshalNode renders a node as its wire JSON.
func MarshalNode(n Node) ([]byte, error) {
	return marshalNode(n)
}

// FromGoValue converts a native Go value (as produced by guest runtime
// export or encoding/json) into a node. Map keys are sorted since Go maps
// carry no order; use DecodeNode to preserve order from JSON text.
func FromGoValue(v any) (Node, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Boolean(t), nil
	case int:
		return Integer(t), nil
	case int32:
		return Integer(t), nil
	case int64:
		return Integer(t), nil
	case uint32:
		return Integer(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return Number(t), nil
		}
		return Integer(t), nil
	case float32:
		return fromFloat(float64(t)), nil
	case float64:
		return fromFloat(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Integer(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("schema: invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case []any:
		arr := make(Array, 0, len(t))
		for _, item := range t {
			node, err := FromGoValue(item)
			if err != nil {
				return nil, err
			}
			arr = append(arr, node)
		}
		return arr, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := Object{Entries: make([]ObjectEntry, 0, len(keys))}
		for _, k := range keys {
			node, err := FromGoValue(t[k])
			if err != nil {
				return nil, err
			}
			obj.Entries = append(obj.Entries, ObjectEntry{Key: k, Value: node})
		}
		return obj, nil
	case Node:
		return t, nil
	default:
		return nil, fmt.Errorf("schema: cannot marshal value of type %T", v)
	}
}

// fromFloat keeps whole-valued floats as Integer so that guest runtimes
// without an integer type (ECMAScript) still round-trip 5 as 5.
func fromFloat(f float64) Node {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<53 {
		return Integer(int64(f))
	}
	return Number(f)
}
