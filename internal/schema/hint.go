package schema

import "sort"

// hintValueLimit caps how many values a hint inspects per dimension so
// that LIST stays cheap for arbitrarily large data.
const hintValueLimit = 10000

// Hint is a bounded-size summary of a value's shape, transmitted in place
// of the full value for large bindings.
type Hint interface {
	hint()
}

// ArrayHint summarises an array-like value.
type ArrayHint struct {
	Type      string   `json:"type"`
	Length    int      `json:"length"`
	ItemTypes []string `json:"itemTypes,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty"`
	Nulls     int      `json:"nulls"`
}

func (ArrayHint) hint() {}

// DatatableColumnHint summarises one column of a tabular value.
type DatatableColumnHint struct {
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	ItemType string   `json:"itemType,omitempty"`
	Minimum  *float64 `json:"minimum,omitempty"`
	Maximum  *float64 `json:"maximum,omitempty"`
	Nulls    int      `json:"nulls"`
}

// DatatableHint summarises a tabular value: row count plus one hint per column.
type DatatableHint struct {
	Type    string                `json:"type"`
	Rows    int                   `json:"rows"`
	Columns []DatatableColumnHint `json:"columns"`
}

func (DatatableHint) hint() {}

// HintFor computes the hint for a node, or nil when the value is small
// enough that no summary is worthwhile.
func HintFor(n Node) Hint {
	switch t := n.(type) {
	case Array:
		return arrayHint(t)
	case Datatable:
		h := DatatableHint{Type: "DatatableHint", Rows: t.Rows()}
		for _, col := range t.Columns {
			ah := summarise(col.Values)
			ch := DatatableColumnHint{
				Type:    "DatatableColumnHint",
				Name:    col.Name,
				Minimum: ah.Minimum,
				Maximum: ah.Maximum,
				Nulls:   ah.Nulls,
			}
			if len(ah.ItemTypes) > 0 {
				ch.ItemType = ah.ItemTypes[0]
			}
			h.Columns = append(h.Columns, ch)
		}
		return h
	default:
		return nil
	}
}

func arrayHint(values Array) *ArrayHint {
	h := summarise(values)
	h.Type = "ArrayHint"
	return h
}

// summarise walks at most hintValueLimit values collecting the inferred
// item types, numeric min/max and null count.
func summarise(values []Node) *ArrayHint {
	h := &ArrayHint{Length: len(values)}

	types := map[string]struct{}{}
	inspect := values
	if len(inspect) > hintValueLimit {
		inspect = inspect[:hintValueLimit]
	}
	for _, v := range inspect {
		if v == nil {
			h.Nulls++
			continue
		}
		if _, isNull := v.(Null); isNull {
			h.Nulls++
			continue
		}
		types[string(v.NodeType())] = struct{}{}

		var f float64
		switch num := v.(type) {
		case Integer:
			f = float64(num)
		case Number:
			f = float64(num)
		default:
			continue
		}
		if h.Minimum == nil || f < *h.Minimum {
			min := f
			h.Minimum = &min
		}
		if h.Maximum == nil || f > *h.Maximum {
			max := f
			h.Maximum = &max
		}
	}

	for t := range types {
		h.ItemTypes = append(h.ItemTypes, t)
	}
	sort.Strings(h.ItemTypes)
	return h
}
