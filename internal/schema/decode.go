package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// DecodeNode parses wire JSON into a node, preserving object entry order.
// JSON objects carrying a recognised "type" tag decode into the matching
// entity node; all other objects decode into a plain ordered Object.
// The input must be exactly one JSON value; trailing data is an error.
func DecodeNode(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	node, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("schema: decode node: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("schema: decode node: trailing data after JSON value")
	}
	return node, nil
}

func decodeValue(dec *json.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Node, error) {
	switch t := tok.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Boolean(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Integer(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.String())
		}
		return Number(f), nil
	case json.Delim:
		switch t {
		case '[':
			var arr Array
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, item)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			if arr == nil {
				arr = Array{}
			}
			return arr, nil
		case '{':
			return decodeObject(dec)
		}
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func decodeObject(dec *json.Decoder) (Node, error) {
	obj := Object{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", keyTok)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		obj.Entries = append(obj.Entries, ObjectEntry{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil { // consume '}'
		return nil, err
	}

	if typ, ok := obj.Get("type"); ok {
		if s, ok := typ.(String); ok {
			switch NodeType(s) {
			case NodeTypeDatatable:
				return datatableFromObject(obj)
			case NodeTypeImageObject:
				return imageObjectFromObject(obj), nil
			}
		}
	}
	return obj, nil
}

func datatableFromObject(obj Object) (Node, error) {
	colsNode, ok := obj.Get("columns")
	if !ok {
		return Datatable{}, nil
	}
	colsArr, ok := colsNode.(Array)
	if !ok {
		return nil, fmt.Errorf("datatable columns must be an array")
	}
	dt := Datatable{Columns: make([]DatatableColumn, 0, len(colsArr))}
	for _, c := range colsArr {
		colObj, ok := c.(Object)
		if !ok {
			return nil, fmt.Errorf("datatable column must be an object")
		}
		col := DatatableColumn{}
		if name, ok := colObj.Get("name"); ok {
			if s, ok := name.(String); ok {
				col.Name = string(s)
			}
		}
		if validator, ok := colObj.Get("validator"); ok {
			if s, ok := validator.(String); ok {
				col.Validator = NodeType(s)
			}
		}
		if values, ok := colObj.Get("values"); ok {
			if arr, ok := values.(Array); ok {
				col.Values = arr
			}
		}
		dt.Columns = append(dt.Columns, col)
	}
	return dt, nil
}

func imageObjectFromObject(obj Object) Node {
	img := ImageObject{}
	if url, ok := obj.Get("contentUrl"); ok {
		if s, ok := url.(String); ok {
			img.ContentURL = string(s)
		}
	}
	if mt, ok := obj.Get("mediaType"); ok {
		if s, ok := mt.(String); ok {
			img.MediaType = string(s)
		}
	}
	return img
}

// ToGoValue converts a node back into plain Go values, the inverse of
// FromGoValue. Used when assigning protocol values into guest runtimes.
func ToGoValue(n Node) any {
	switch t := n.(type) {
	case nil, Null:
		return nil
	case Boolean:
		return bool(t)
	case Integer:
		return int64(t)
	case Number:
		return float64(t)
	case String:
		return string(t)
	case Array:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, ToGoValue(item))
		}
		return out
	case Object:
		out := make(map[string]any, len(t.Entries))
		for _, e := range t.Entries {
			out[e.Key] = ToGoValue(e.Value)
		}
		return out
	case Datatable:
		out := make(map[string]any, len(t.Columns))
		for _, c := range t.Columns {
			out[c.Name] = ToGoValue(Array(c.Values))
		}
		return out
	case ImageObject:
		return map[string]any{"contentUrl": t.ContentURL, "mediaType": t.MediaType}
	default:
		return nil
	}
}
